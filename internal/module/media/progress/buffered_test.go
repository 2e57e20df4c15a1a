package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSink blocks every delivery until release is closed.
type gatedSink struct {
	rec      Recorder
	received chan struct{}
	release  chan struct{}
}

func newGatedSink() *gatedSink {
	return &gatedSink{received: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *gatedSink) OnProgress(e Event) {
	s.received <- struct{}{}
	<-s.release
	s.rec.OnProgress(e)
}

func TestBuffered_DoesNotBlockOnSlowSink(t *testing.T) {
	sink := newGatedSink()
	b := NewBuffered(sink, 1, nil)

	b.OnProgress(Event{JobID: "job-1", Percent: 10})
	select {
	case <-sink.received:
	case <-time.After(time.Second):
		t.Fatal("first event was not delivered")
	}

	returned := make(chan struct{})
	go func() {
		b.OnProgress(Event{JobID: "job-1", Percent: 20})
		b.OnProgress(Event{JobID: "job-1", Percent: 30})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("OnProgress blocked on a stalled sink")
	}
	assert.Equal(t, int64(1), b.Dropped())

	close(sink.release)
	b.Close()

	assert.Equal(t, []int{10, 20}, percents(sink.rec.Events()))
}

func TestBuffered_CloseDrainsAndStopsAccepting(t *testing.T) {
	rec := &Recorder{}
	b := NewBuffered(rec, 0, nil)

	for i := 1; i <= 5; i++ {
		b.OnProgress(Event{JobID: "job-2", Percent: i * 10})
	}
	b.Close()
	b.Close()

	require.Len(t, rec.Events(), 5)
	assert.Equal(t, 50, rec.Events()[4].Percent)

	assert.NotPanics(t, func() {
		b.OnProgress(Event{JobID: "job-2", Percent: 60})
	})
	assert.Len(t, rec.Events(), 5)
	assert.Zero(t, b.Dropped())
}
