package runner

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/device"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
	"github.com/23skdu/longbow-coopvec/internal/reference"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

func (r *Runner) sizeQuery(ctx context.Context) reference.SizeQuery {
	return func(c coopvec.Conversion) (int, error) {
		return r.drv.ConvertMatrixLayout(ctx, device.MatrixConversion{Conversion: c})
	}
}

func (r *Runner) converter(ctx context.Context) reference.Converter {
	return func(c coopvec.Conversion, src, dst []byte) error {
		_, err := r.drv.ConvertMatrixLayout(ctx, device.MatrixConversion{Conversion: c, Src: src, Dst: dst})
		return err
	}
}

// step runs one conversion between regions of buf.
func (r *Runner) step(ctx context.Context, st reference.Step, buf []byte, host bool) error {
	_, err := r.drv.ConvertMatrixLayout(ctx, device.MatrixConversion{
		Conversion: st.Conversion,
		Src:        buf[st.SrcOffset : st.SrcOffset+st.SrcSize],
		Dst:        buf[st.DstOffset : st.DstOffset+st.DstSize],
		Host:       host,
	})
	if err != nil {
		return fmt.Errorf("convert %v: %w", st.Conversion, err)
	}
	return nil
}

func (r *Runner) runVector(ctx context.Context, name string, d cases.Definition) (*reference.Verdict, error) {
	plan, err := reference.NewPlan(d, r.sizeQuery(ctx))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	prog := shader.Synthesize(d)
	prog.Specialize(d, plan.MemoryLayout())
	if r.cfg.DebugShaders {
		log := r.caseLog(name)
		for _, src := range prog.Sources() {
			log.Debug("Shader source", "stage", src.Stage, "text", src.Text)
		}
	}

	mem := &allocation{drv: r.drv}
	defer mem.free()
	bufs := make([]*device.Buffer, device.NumBindings)
	for i, size := range plan.BufferSizes {
		if bufs[i], err = mem.alloc(size); err != nil {
			return nil, err
		}
	}
	var data [4][]byte
	var addrs [4]uint64
	for i := range data {
		data[i] = bufs[i].Data
		addrs[i] = bufs[i].Address
	}

	reference.Fill(plan, data, reference.NewRand(reference.Seed))
	if err := r.convertLayers(ctx, plan, data[1]); err != nil {
		return nil, err
	}
	reference.WriteAddressTable(bufs[4].Data, addrs)

	if err := r.drv.RunProgram(ctx, &prog, d, bufs); err != nil {
		return nil, fmt.Errorf("run program: %w", err)
	}
	return reference.VerifyVector(plan, data, r.converter(ctx))
}

// convertLayers writes the optimal copy of every weight layer that needs
// one. The host path also adds the training bias.
func (r *Runner) convertLayers(ctx context.Context, plan *reference.Plan, matrix []byte) error {
	host := !plan.DeviceConvert()
	for _, lc := range plan.OptimalConversions() {
		if err := r.step(ctx, lc.Step, matrix, host); err != nil {
			return fmt.Errorf("layer %d: %w", lc.Layer, err)
		}
		if host && plan.Def.TestType == cases.TTMatrixMulTrainingBias {
			reference.AddTrainingBias(matrix[lc.DstOffset:lc.DstOffset+lc.DstSize], plan.Def.MatrixType)
		}
	}
	return nil
}

// runLayoutConvert sweeps every shape up to MaxLayoutDim square through
// the chain. The stimulus stream continues from shape to shape.
func (r *Runner) runLayoutConvert(ctx context.Context, c cases.LayoutConvertCase) (*reference.Verdict, error) {
	mem := &allocation{drv: r.drv}
	defer mem.free()
	buf, err := mem.alloc(reference.LayoutBufferSize)
	if err != nil {
		return nil, err
	}

	v := &reference.Verdict{}
	rnd := reference.NewRand(reference.Seed)
	query := r.sizeQuery(ctx)
	for rows := 1; rows <= reference.MaxLayoutDim; rows++ {
		for cols := 1; cols <= reference.MaxLayoutDim; cols++ {
			chain, err := reference.NewLayoutChain(c, rows, cols, query)
			if err != nil {
				return nil, fmt.Errorf("%dx%d: %w", rows, cols, err)
			}
			clear(buf.Data[:chain.Offsets[3]+chain.Sizes[3]])
			chain.Fill(buf.Data, rnd)
			for _, st := range chain.Steps() {
				if err := r.step(ctx, st, buf.Data, c.HostConvert); err != nil {
					return nil, err
				}
			}
			failures := v.Failures
			chain.Verify(buf.Data, v)
			if v.Failures > failures && v.Message == "" {
				v.Message = fmt.Sprintf("failed with rows = %d, cols = %d", rows, cols)
			}
		}
	}
	metrics.RecordMismatch("layoutconvert", v.Failures)
	return v, nil
}

func (r *Runner) runTypeConvert(ctx context.Context, c cases.TypeConvertCase) (*reference.Verdict, error) {
	chain, err := reference.NewTypeChain(c, r.sizeQuery(ctx))
	if err != nil {
		return nil, err
	}
	mem := &allocation{drv: r.drv}
	defer mem.free()
	buf, err := mem.alloc(chain.BufferSize())
	if err != nil {
		return nil, err
	}

	chain.Fill(buf.Data)
	for _, st := range chain.Steps() {
		if err := r.step(ctx, st, buf.Data, c.HostConvert); err != nil {
			return nil, err
		}
	}
	v := &reference.Verdict{}
	chain.Verify(buf.Data, v)
	if !v.Passed() {
		v.Message = fmt.Sprintf("%d of %d %v values mismatched", v.Failures, chain.NumElements, c.SrcType)
		metrics.RecordMismatch("typeconvert", v.Failures)
	}
	return v, nil
}
