package device

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/logger"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

// Emulator executes cooperative vector programs on the host. It
// interprets the case definition a program was synthesized from and
// computes every invocation in device precision.
type Emulator struct {
	caps    Capabilities
	mem     *memory
	workers int
}

// EmulatorOption configures NewEmulator.
type EmulatorOption func(*Emulator)

// WithWorkers bounds the goroutines used per dispatch.
func WithWorkers(n int) EmulatorOption {
	return func(e *Emulator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCapabilities replaces the advertised capabilities, for example to
// exercise the not-supported path.
func WithCapabilities(c Capabilities) EmulatorOption {
	return func(e *Emulator) { e.caps = c }
}

func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		caps:    EmulatorCapabilities(),
		mem:     newMemory(),
		workers: runtime.NumCPU(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Emulator) Name() string { return "emulator" }

func (e *Emulator) Capabilities() Capabilities { return e.caps }

func (e *Emulator) Supports(c cases.Case) error { return e.caps.Check(c) }

func (e *Emulator) Allocate(size int) (*Buffer, error) { return e.mem.allocate(size) }

func (e *Emulator) Free(b *Buffer) { e.mem.free(b) }

// Close releases pooled memory.
func (e *Emulator) Close() { e.mem.release() }

func (e *Emulator) ConvertMatrixLayout(ctx context.Context, m MatrixConversion) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return convertMatrix(m)
}

// RunProgram dispatches every invocation of d. Invocations are split into
// contiguous chunks, one per worker.
func (e *Emulator) RunProgram(ctx context.Context, p *shader.Program, d cases.Definition, bufs []*Buffer) error {
	if len(bufs) != NumBindings {
		metrics.RecordValidationError("dispatch", "bindings")
		return fmt.Errorf("invalid bindings: %d (must be %d)", len(bufs), NumBindings)
	}
	if p == nil || len(p.SpecConstants) != shader.NumSpecConstants {
		metrics.RecordValidationError("dispatch", "specialization")
		return fmt.Errorf("program for %v is not specialized", d.TestType)
	}
	x, err := e.newExec(p, d, bufs)
	if err != nil {
		return err
	}

	start := time.Now()
	n := d.TotalInvocations()
	parallelism := e.workers
	chunkSize := (n + parallelism - 1) / parallelism

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := 0; i < n; i += chunkSize {
		lo, hi := i, i+chunkSize
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for inv := lo; inv < hi; inv++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				x.invoke(inv)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.RecordDispatchDuration(d.Stage.String(), time.Since(start))
	logger.Log.Debug("Dispatch complete", "stage", d.Stage.String(), "test", d.TestType.String(),
		"invocations", n, "duration", time.Since(start))
	return nil
}
