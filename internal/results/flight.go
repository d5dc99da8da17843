package results

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-coopvec/internal/logger"
)

// FlightSink streams results to a Flight server with one DoPut per run.
// The descriptor path is {"coopvec", runID}.
type FlightSink struct {
	batcher
	addr  string
	runID string

	client flight.Client
	stream flight.FlightService_DoPutClient
	w      *flight.Writer
	mem    memory.Allocator
	sent   int
}

func NewFlightSink(addr, runID string) *FlightSink {
	s := &FlightSink{
		addr:  addr,
		runID: runID,
		mem:   memory.NewGoAllocator(),
	}
	s.flush = s.write
	return s
}

// Connect dials the server and opens the DoPut stream.
func (s *FlightSink) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(s.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	stream, err := client.DoPut(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}
	s.client, s.stream = client, stream
	s.w = flight.NewRecordWriter(stream, ipc.WithSchema(Schema), ipc.WithAllocator(s.mem))
	s.w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"coopvec", s.runID},
	})
	return nil
}

func (s *FlightSink) write(rs []Result) error {
	if s.w == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}
	rec := NewRecord(s.mem, rs)
	defer rec.Release()
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	s.sent += len(rs)
	return nil
}

// Close flushes pending results, ends the stream and waits for the
// server's acknowledgements.
func (s *FlightSink) Close() error {
	err := s.finish()
	if s.w == nil {
		return err
	}
	if cerr := s.w.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close writer: %w", cerr)
	}
	if cerr := s.stream.CloseSend(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close stream: %w", cerr)
	}
	for {
		_, rerr := s.stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if err == nil {
				err = fmt.Errorf("DoPut failed: %w", rerr)
			}
			break
		}
	}
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logger.Log.Info("Results sent", "addr", s.addr, "run_id", s.runID, "results", s.sent)
	s.w = nil
	return err
}
