package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/stretchr/testify/require"
)

// fakePartition replays a scripted sequence of receive results, then blocks
// until the context is cancelled.
type fakePartition struct {
	mtx     sync.Mutex
	results []fakeResult
	closed  bool
}

type fakeResult struct {
	events []Event
	err    error
}

func (f *fakePartition) Receive(ctx context.Context, maxEvents int) ([]Event, error) {
	f.mtx.Lock()
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		f.mtx.Unlock()
		if len(r.events) > maxEvents {
			r.events = r.events[:maxEvents]
		}
		return r.events, r.err
	}
	f.mtx.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakePartition) Close(context.Context) error {
	f.mtx.Lock()
	f.closed = true
	f.mtx.Unlock()
	return nil
}

func (f *fakePartition) remaining() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.results)
}

type fakeSource struct {
	partitions map[string]*fakePartition
	openErr    error
}

func (s *fakeSource) PartitionIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeSource) OpenPartition(_ context.Context, id string) (PartitionReceiver, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.partitions[id], nil
}

func (s *fakeSource) Close(context.Context) error { return nil }

func events(partition string, seqs ...int64) []Event {
	res := make([]Event, 0, len(seqs))
	for _, seq := range seqs {
		res = append(res, Event{PartitionID: partition, SequenceNumber: seq, Body: []byte(`{"dt":1,"payload":"x"}`)})
	}
	return res
}

func TestProcessorCheckpointsEachPartition(t *testing.T) {
	p0 := &fakePartition{results: []fakeResult{
		{events: events("0", 1, 2, 3)},
		{err: errors.New("transient")},
		{events: events("0", 4)},
	}}
	p1 := &fakePartition{results: []fakeResult{
		{events: nil},
		{events: events("1", 10, 11)},
	}}
	src := &fakeSource{partitions: map[string]*fakePartition{"0": p0, "1": p1}}

	var mtx sync.Mutex
	var handled []Event
	proc := NewProcessor(src, Config{MaxBatchSize: 10, ErrorBackoff: time.Millisecond},
		WithLogger(logging.NewNoopLogger()),
		WithHandler(func(ev Event) {
			mtx.Lock()
			handled = append(handled, ev)
			mtx.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return p0.remaining() == 0 && p1.remaining() == 0
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		seq0, ok0 := proc.Checkpoints().Get("0")
		seq1, ok1 := proc.Checkpoints().Get("1")
		return ok0 && ok1 && seq0 == 4 && seq1 == 11
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop after cancellation")
	}

	mtx.Lock()
	require.Len(t, handled, 6)
	mtx.Unlock()
	require.True(t, p0.closed)
	require.True(t, p1.closed)
}

func TestProcessorFailsWhenPartitionCannotBeOpened(t *testing.T) {
	src := &fakeSource{
		partitions: map[string]*fakePartition{"0": {}},
		openErr:    errors.New("unauthorized"),
	}
	proc := NewProcessor(src, DefaultConfig(), WithLogger(logging.NewNoopLogger()))
	err := proc.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}

func TestPrettyPrint(t *testing.T) {
	testCases := []struct {
		body     string
		expected string
	}{
		{`{"dt":1,"payload":"ab"}`, "{\n  \"dt\": 1,\n  \"payload\": \"ab\"\n}"},
		{`not json`, `not json`},
		{``, ``},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, PrettyPrint([]byte(tc.body)))
	}
}

func TestCheckpointStore(t *testing.T) {
	s := NewCheckpointStore()
	_, ok := s.Get("0")
	require.False(t, ok)
	s.Update("0", 5)
	s.Update("0", 7)
	s.Update("1", 1)
	seq, ok := s.Get("0")
	require.True(t, ok)
	require.EqualValues(t, 7, seq)
	require.Equal(t, map[string]int64{"0": 7, "1": 1}, s.All())
}

func TestSourceRegistry(t *testing.T) {
	name := "fake-test-source"
	require.NoError(t, RegisterSource(name, func(context.Context, SourceConfig) (Source, error) {
		return &fakeSource{}, nil
	}))
	require.Error(t, RegisterSource(name, nil))
	require.Contains(t, SupportedSources(), name)

	src, err := NewSource(context.Background(), name, SourceConfig{})
	require.NoError(t, err)
	require.NotNil(t, src)

	_, err = NewSource(context.Background(), "nope", SourceConfig{})
	require.Error(t, err)
}
