package results

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{
			RunID:    "run-1",
			Name:     "basic.add.compute",
			Group:    "basic",
			Kind:     "vector",
			Status:   Status(i % int(numStatuses)),
			Duration: time.Duration(i) * time.Millisecond,
		}
		if out[i].Status == Fail {
			out[i].Message = "failed with N = 4, K = 4"
			out[i].Failures = i
		}
	}
	return out
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "not_supported", NotSupported.String())
	assert.Equal(t, "Status(9)", Status(9).String())
	st, err := ParseStatus("resource_error")
	require.NoError(t, err)
	assert.Equal(t, ResourceError, st)
	_, err = ParseStatus("skipped")
	assert.Error(t, err)
}

func TestRecordNullMessage(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rs := sample(3)
	rec := NewRecord(mem, rs)
	defer rec.Release()

	assert.EqualValues(t, 3, rec.NumRows())
	msg := rec.Column(5).(*array.String)
	assert.True(t, msg.IsNull(0))
	assert.True(t, msg.IsValid(1))

	back, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, rs, back)
}

func TestFromRecordRejectsForeignSchema(t *testing.T) {
	sc := arrow.NewSchema([]arrow.Field{{Name: "vector", Type: arrow.PrimitiveTypes.Float32}}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), sc)
	defer b.Release()
	rec := b.NewRecord()
	defer rec.Release()

	_, err := FromRecord(rec)
	assert.ErrorContains(t, err, "invalid column count")
}

func TestFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.arrow")
	sink, err := CreateFileSink(path)
	require.NoError(t, err)

	rs := sample(BatchSize + 10)
	for _, r := range rs {
		require.NoError(t, sink.Report(r))
	}
	require.NoError(t, sink.Close())
	assert.Error(t, sink.Report(rs[0]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	back, err := ReadFile(f)
	require.NoError(t, err)
	assert.Equal(t, rs, back)
}

func TestMemorySinkAndTee(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	s := Tee(a, b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Report(Result{Name: "x", Status: Pass}))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Len(t, a.Results(), 8)
	assert.Len(t, b.Results(), 8)
	assert.Error(t, a.Report(Result{}))
}

type collector struct {
	flight.BaseFlightServer
	mu      sync.Mutex
	path    []string
	results []Result
}

func (c *collector) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = rdr.LatestFlightDescriptor().GetPath()
	for rdr.Next() {
		rs, err := FromRecord(rdr.Record())
		if err != nil {
			return err
		}
		c.results = append(c.results, rs...)
	}
	if err := rdr.Err(); err != nil {
		return err
	}
	return stream.Send(&flight.PutResult{})
}

func TestFlightSink(t *testing.T) {
	srv := flight.NewServerWithMiddleware(nil)
	require.NoError(t, srv.Init("localhost:0"))
	c := &collector{}
	srv.RegisterFlightService(c)
	go srv.Serve()
	defer srv.Shutdown()

	sink := NewFlightSink(srv.Addr().String(), "run-1")
	require.NoError(t, sink.Connect(context.Background()))
	rs := sample(BatchSize + 1)
	for _, r := range rs {
		require.NoError(t, sink.Report(r))
	}
	require.NoError(t, sink.Close())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{"coopvec", "run-1"}, c.path)
	assert.Equal(t, rs, c.results)
}

func TestFlightSinkRequiresConnect(t *testing.T) {
	sink := NewFlightSink("localhost:1", "run-1")
	for i := 0; i < BatchSize-1; i++ {
		require.NoError(t, sink.Report(Result{}))
	}
	assert.ErrorContains(t, sink.Report(Result{}), "not connected")
}
