package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]RunEvent
	err     error
}

func (s *memorySink) WriteBatch(_ context.Context, batch []RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]RunEvent, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestRecorder_StopDrainsBuffer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &memorySink{}
	r := NewRecorder(sink, 10, time.Hour, zaptest.NewLogger(t))
	r.Start()

	for _, id := range []string{"a", "b", "c"} {
		r.Record(RunEvent{ID: id, Source: "feed", Result: "SAFE"})
	}
	r.Stop()

	require.Equal(t, 3, sink.count())
	assert.Equal(t, "a", sink.batches[0][0].ID)
	assert.False(t, sink.batches[0][0].StartedAt.IsZero())
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 10, 5*time.Millisecond, zaptest.NewLogger(t))
	r.Start()
	defer r.Stop()

	r.Record(RunEvent{ID: "x"})
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestRecorder_OverflowDropsWithoutBlocking(t *testing.T) {
	sink := &memorySink{}
	// Воркер не запущен: буфер на 2 события
	r := NewRecorder(sink, 2, time.Hour, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			r.Record(RunEvent{ID: "e"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	r.Start()
	r.Stop()
	assert.Equal(t, 2, sink.count())
}

func TestRecorder_RecordAfterStopIsIgnored(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 10, time.Hour, zaptest.NewLogger(t))
	r.Start()
	r.Stop()
	r.Stop()

	assert.NotPanics(t, func() { r.Record(RunEvent{ID: "late"}) })
	assert.Zero(t, sink.count())
}

func TestRecorder_SinkErrorDoesNotStopWorker(t *testing.T) {
	sink := &memorySink{err: errors.New("redis down")}
	r := NewRecorder(sink, 10, 5*time.Millisecond, zaptest.NewLogger(t))
	r.Start()

	r.Record(RunEvent{ID: "1"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	r.Record(RunEvent{ID: "2"})
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	r.Stop()
}
