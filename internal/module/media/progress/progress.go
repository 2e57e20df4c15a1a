// Package progress carries observer notifications for generation jobs.
// Events are emitted, never persisted.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage is the lifecycle stage a job is in when an event is emitted.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageGenerating   Stage = "generating"
	StagePolling      Stage = "polling"
	StageDownloading  Stage = "downloading"
	StageUploading    Stage = "uploading"
	StageCompleted    Stage = "completed"
	StageError        Stage = "error"
)

// Event is a single progress notification.
type Event struct {
	JobID   string    `json:"job_id"`
	Stage   Stage     `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives progress events.
type Sink interface {
	OnProgress(Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Event)

// OnProgress implements Sink.
func (f SinkFunc) OnProgress(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

// OnProgress implements Sink.
func (m Multi) OnProgress(e Event) {
	for _, s := range m {
		if s != nil {
			s.OnProgress(e)
		}
	}
}

// Range maps an inner job's 0-100 progress into [from, to] of an outer sink.
func Range(sink Sink, from, to int) Sink {
	sink = OrDiscard(sink)
	return SinkFunc(func(e Event) {
		e.Percent = from + e.Percent*(to-from)/100
		sink.OnProgress(e)
	})
}

// Tracker reports events for one job and keeps the percentage
// non-decreasing. A Tracker is owned by the call that created it.
type Tracker struct {
	jobID string
	sink  Sink
	last  int
	now   func() time.Time
}

// NewTracker creates a tracker for jobID.
func NewTracker(jobID string, sink Sink) *Tracker {
	return &Tracker{
		jobID: jobID,
		sink:  OrDiscard(sink),
		now:   time.Now,
	}
}

// SetJobID updates the id attached to subsequent events. Jobs learn their
// remote id only after the start call returns.
func (t *Tracker) SetJobID(id string) {
	t.jobID = id
}

// Report emits an event. Percent is clamped to [last, 100].
func (t *Tracker) Report(stage Stage, percent int, message string) {
	if percent > 100 {
		percent = 100
	}
	if percent < t.last {
		percent = t.last
	}
	t.last = percent

	t.sink.OnProgress(Event{
		JobID:   t.jobID,
		Stage:   stage,
		Percent: percent,
		Message: message,
		At:      t.now(),
	})
}

// Percent returns the last reported percentage.
func (t *Tracker) Percent() int {
	return t.last
}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// OnProgress implements Sink.
func (s *LogSink) OnProgress(e Event) {
	s.logger.Debug("progress",
		zap.String("job_id", e.JobID),
		zap.String("stage", string(e.Stage)),
		zap.Int("percent", e.Percent),
		zap.String("message", e.Message))
}

// Recorder collects events in memory. Useful for callers that want the
// full event history of a single call.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnProgress implements Sink.
func (r *Recorder) OnProgress(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
