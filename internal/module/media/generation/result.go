package generation

import (
	"time"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

// ImageResult is the outcome of a synchronous image generation.
type ImageResult struct {
	Provider provider.ID `json:"provider"`
	Model    string      `json:"model"`
	// URL references third-party storage. Empty when the provider returned
	// the image inline in Data.
	URL           string `json:"url,omitempty"`
	Data          []byte `json:"-"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// JobStatus is the remote job state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobProcessing:
		return 1
	case JobCompleted, JobFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether s ends the job.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job tracks one remote generation attempt for the duration of a call.
type Job struct {
	ID        string      `json:"id"`
	Provider  provider.ID `json:"provider"`
	Model     string      `json:"model"`
	Status    JobStatus   `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// advance moves the job to s. Backward or post-terminal transitions are
// ignored, so a job only ever moves forward.
func (j *Job) advance(s JobStatus, now time.Time) {
	if j.Status.Terminal() || s.rank() <= j.Status.rank() {
		return
	}
	j.Status = s
	if s.Terminal() {
		j.EndedAt = &now
	}
}

// VideoMetrics are optional facts about a finished video.
type VideoMetrics struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// VideoResult is the outcome of an asynchronous video generation. Either
// Data (downloaded payload) or URL (pre-resolved remote asset) is set.
type VideoResult struct {
	Job         Job          `json:"job"`
	URL         string       `json:"url,omitempty"`
	Data        []byte       `json:"-"`
	ContentType string       `json:"content_type,omitempty"`
	Metrics     VideoMetrics `json:"metrics"`
}
