// Package results records case outcomes and exports them as Arrow
// records, either to an IPC file or to a Flight endpoint.
package results

import (
	"fmt"
	"sync"
	"time"
)

// Status is the final outcome of one case.
type Status int

const (
	Pass Status = iota
	Fail
	NotSupported
	ResourceError
	InternalError

	numStatuses
)

var statusNames = [numStatuses]string{"pass", "fail", "not_supported", "resource_error", "internal_error"}

func (s Status) String() string {
	if s < 0 || s >= numStatuses {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Result is the outcome of one case.
type Result struct {
	RunID    string
	Name     string
	Group    string
	Kind     string
	Status   Status
	Message  string
	Failures int
	// FP8Retries counts invocations accepted only after the binary16
	// comparison.
	FP8Retries int
	Duration   time.Duration
}

// Sink receives results as cases finish. Report may be called from many
// goroutines.
type Sink interface {
	Report(r Result) error
	Close() error
}

// MemorySink keeps every result in report order.
type MemorySink struct {
	mu      sync.RWMutex
	results []Result
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Report(r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("sink closed")
	}
	m.results = append(m.results, r)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Results returns a copy of the recorded results.
func (m *MemorySink) Results() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Result, len(m.results))
	copy(out, m.results)
	return out
}

// Tee forwards every result to each sink in order. The first error stops
// the fan-out.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Report(r Result) error {
	for _, s := range t {
		if err := s.Report(r); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
