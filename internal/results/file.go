package results

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// BatchSize is the number of results per exported record.
const BatchSize = 256

// batcher groups reported results into records of BatchSize rows.
type batcher struct {
	mu      sync.Mutex
	pending []Result
	closed  bool
	flush   func([]Result) error
}

func (b *batcher) Report(r Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("sink closed")
	}
	b.pending = append(b.pending, r)
	if len(b.pending) < BatchSize {
		return nil
	}
	return b.drain()
}

func (b *batcher) drain() error {
	if len(b.pending) == 0 {
		return nil
	}
	err := b.flush(b.pending)
	b.pending = b.pending[:0]
	return err
}

// finish flushes the pending results and marks the batcher closed.
func (b *batcher) finish() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.drain()
}

// FileSink writes results to an Arrow IPC file.
type FileSink struct {
	batcher
	mem    memory.Allocator
	w      *ipc.FileWriter
	closer io.Closer
}

// NewFileSink writes to w. When w is an io.Closer it is closed with the
// sink.
func NewFileSink(w io.Writer) (*FileSink, error) {
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC writer: %w", err)
	}
	s := &FileSink{mem: mem, w: fw}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	s.flush = s.write
	return s, nil
}

// CreateFileSink creates path and writes results to it.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create results file: %w", err)
	}
	s, err := NewFileSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSink) write(rs []Result) error {
	rec := NewRecord(s.mem, rs)
	defer rec.Release()
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	err := s.finish()
	if cerr := s.w.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close IPC writer: %w", cerr)
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ReadFile decodes every record of an IPC file written by FileSink.
func ReadFile(r ipc.ReadAtSeeker) ([]Result, error) {
	fr, err := ipc.NewFileReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC file: %w", err)
	}
	defer fr.Close()

	var out []Result
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		rs, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}
