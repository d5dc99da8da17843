// Package runner executes cases from the group tree against a driver and
// reports one result per case.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/config"
	"github.com/23skdu/longbow-coopvec/internal/device"
	"github.com/23skdu/longbow-coopvec/internal/logger"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
	"github.com/23skdu/longbow-coopvec/internal/reference"
	"github.com/23skdu/longbow-coopvec/internal/results"
)

// ErrFailFast stops a run at the first failing case.
var ErrFailFast = errors.New("stopped at first failure")

type Runner struct {
	drv   device.Driver
	sink  results.Sink
	cfg   config.Config
	runID string
}

func New(drv device.Driver, sink results.Sink, cfg config.Config) *Runner {
	return &Runner{
		drv:   drv,
		sink:  sink,
		cfg:   cfg,
		runID: uuid.New().String(),
	}
}

func (r *Runner) RunID() string { return r.runID }

// WithSink returns a copy of r, keeping its run id, that reports to s.
func (r *Runner) WithSink(s results.Sink) *Runner {
	c := *r
	c.sink = s
	return &c
}

// Summary counts the results of one run.
type Summary struct {
	RunID    string
	Total    int
	Counts   map[results.Status]int
	Duration time.Duration
}

// OK reports whether every case passed or was not supported.
func (s Summary) OK() bool {
	return s.Counts[results.Fail] == 0 && s.Counts[results.ResourceError] == 0 &&
		s.Counts[results.InternalError] == 0
}

// Run executes tests with at most cfg.Workers cases in flight. Results
// reach the sink in completion order.
func (r *Runner) Run(ctx context.Context, tests []cases.Named) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: r.runID, Counts: make(map[results.Status]int)}
	var mu sync.Mutex

	log := logger.Log.With("run_id", r.runID)
	log.Info("Run starting", "driver", r.drv.Name(), "cases", len(tests), "workers", r.cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, t := range tests {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := r.RunCase(ctx, t)
			if ctx.Err() != nil {
				return nil
			}
			mu.Lock()
			sum.Total++
			sum.Counts[res.Status]++
			mu.Unlock()
			if err := r.sink.Report(res); err != nil {
				return fmt.Errorf("report %s: %w", t.Name, err)
			}
			if r.cfg.FailFast && res.Status == results.Fail {
				return fmt.Errorf("%w: %s", ErrFailFast, t.Name)
			}
			return nil
		})
	}
	err := g.Wait()
	sum.Duration = time.Since(start)
	log.Info("Run finished", "cases", sum.Total, "passed", sum.Counts[results.Pass],
		"failed", sum.Counts[results.Fail], "duration", sum.Duration)
	return sum, err
}

// caseLog tags entries with the run and case they belong to.
func (r *Runner) caseLog(name string) *logger.Logger {
	return logger.Log.With("run_id", r.runID, "case", name)
}

// groupOf is the top level group of a dotted case name.
func groupOf(name string) string {
	group, _, _ := strings.Cut(name, ".")
	return group
}

// RunCase executes one case. It never returns an error: every outcome,
// a panic included, becomes a status.
func (r *Runner) RunCase(ctx context.Context, t cases.Named) results.Result {
	start := time.Now()
	res := results.Result{
		RunID: r.runID,
		Name:  t.Name,
		Group: groupOf(t.Name),
		Kind:  t.Case.Kind().String(),
	}

	v, err := r.execute(ctx, t)
	switch {
	case err == nil && v.Passed():
		res.Status = results.Pass
	case err == nil:
		res.Status = results.Fail
		res.Message = v.Message
	case errors.Is(err, device.ErrNotSupported):
		res.Status = results.NotSupported
		res.Message = err.Error()
	case errors.Is(err, device.ErrResource):
		res.Status = results.ResourceError
		res.Message = err.Error()
	default:
		res.Status = results.InternalError
		res.Message = err.Error()
	}
	if v != nil {
		res.Failures = v.Failures
		res.FP8Retries = v.FP8Retries
	}
	res.Duration = time.Since(start)
	metrics.RecordCase(res.Group, res.Status.String(), res.Duration)

	log := r.caseLog(t.Name)
	switch res.Status {
	case results.Pass, results.NotSupported:
		log.Debug("Case finished", "status", res.Status, "duration", res.Duration)
	default:
		log.Warn("Case finished", "status", res.Status, "message", res.Message)
		if r.cfg.DebugMismatches && v != nil {
			for _, m := range v.Mismatches {
				log.Warn("Mismatch", "invocation", m.Invocation, "element", m.Element,
					"expected", m.Expected, "actual", m.Actual)
			}
		}
	}
	return res
}

// execute checks support, then dispatches on the case kind. A panic
// anywhere below is reported as an internal error after the deferred
// frees of the case have run.
func (r *Runner) execute(ctx context.Context, t cases.Named) (v *reference.Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	if err := r.drv.Supports(t.Case); err != nil {
		return nil, err
	}
	if r.cfg.CaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CaseTimeout)
		defer cancel()
	}

	switch c := t.Case.(type) {
	case cases.Definition:
		return r.runVector(ctx, t.Name, c)
	case cases.LayoutConvertCase:
		return r.runLayoutConvert(ctx, c)
	case cases.TypeConvertCase:
		return r.runTypeConvert(ctx, c)
	}
	return nil, fmt.Errorf("unknown case kind %v", t.Case.Kind())
}

// allocation frees every buffer it handed out.
type allocation struct {
	drv  device.Driver
	bufs []*device.Buffer
}

func (a *allocation) alloc(size int) (*device.Buffer, error) {
	b, err := a.drv.Allocate(max(size, 4))
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, err)
	}
	a.bufs = append(a.bufs, b)
	return b, nil
}

func (a *allocation) free() {
	for _, b := range a.bufs {
		a.drv.Free(b)
	}
	a.bufs = nil
}
