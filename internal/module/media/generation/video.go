package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// PollConfig bounds a poll loop.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultVideoPollConfig polls every 5 seconds for up to 5 minutes.
func DefaultVideoPollConfig() PollConfig {
	return PollConfig{Interval: 5 * time.Second, MaxAttempts: 60}
}

// Video progress milestones.
const (
	videoJobCreatedPercent = 5
	videoPollFloor         = 10
	videoPollSpan          = 80
	videoDownloadPercent   = 92
)

// VideoPoller drives asynchronous video jobs: start, poll, download.
type VideoPoller struct {
	catalog   *provider.Catalog
	transport *transport
	downloads *transport
	cfg       PollConfig
	clock     Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// VideoPollerOption configures a VideoPoller.
type VideoPollerOption func(*VideoPoller)

// WithDownloadClient sends result downloads through client instead of the
// client used for job calls.
func WithDownloadClient(client *http.Client) VideoPollerOption {
	return func(p *VideoPoller) {
		if client != nil {
			p.downloads = newTransport(client, p.transport.health)
		}
	}
}

// NewVideoPoller creates a video poller. A zero cfg uses the defaults and a
// nil clock uses the wall clock.
func NewVideoPoller(catalog *provider.Catalog, client *http.Client, health *provider.HealthMonitor, cfg PollConfig, clock Clock, m *metrics.Metrics, logger *zap.Logger, opts ...VideoPollerOption) *VideoPoller {
	def := DefaultVideoPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &VideoPoller{
		catalog:   catalog,
		transport: newTransport(client, health),
		cfg:       cfg,
		clock:     clock,
		metrics:   m,
		logger:    logger.Named("video-poller"),
	}
	p.downloads = p.transport
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type videoStartRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Seconds     int    `json:"seconds"`
	Size        string `json:"size,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	N           int    `json:"n,omitempty"`
}

type videoPayload struct {
	Data        string  `json:"data"`
	ContentType string  `json:"contentType"`
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

type videoStartResponse struct {
	VideoID string        `json:"videoId"`
	ID      string        `json:"id"`
	URL     string        `json:"url"`
	Video   *videoPayload `json:"video"`
}

func (r videoStartResponse) jobID() string {
	if r.VideoID != "" {
		return r.VideoID
	}
	return r.ID
}

func (r videoStartResponse) inline() bool {
	return r.URL != "" || (r.Video != nil && r.Video.Data != "")
}

type videoStatusResponse struct {
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message"`
	Error    json.RawMessage `json:"error"`
}

// Generate starts a video job and waits for its result. Progress events go
// to sink. The wait is bounded by the attempt limit and by ctx.
func (p *VideoPoller) Generate(ctx context.Context, req Request, sink progress.Sink) (*VideoResult, error) {
	start := time.Now()
	tracker := progress.NewTracker("", sink)
	tracker.Report(progress.StageInitializing, 0, "starting video generation")

	result, err := withFallback(ctx, p.catalog, req, provider.CapabilityVideo, p.metrics, p.logger,
		func(ctx context.Context, desc provider.Descriptor, model string) (*VideoResult, error) {
			return p.run(ctx, req, desc, model, tracker)
		})

	providerID := string(req.Provider)
	if result != nil {
		providerID = string(result.Job.Provider)
	}
	p.metrics.RecordGeneration(providerID, string(provider.CapabilityVideo), outcome(err), time.Since(start))

	if err != nil {
		tracker.Report(progress.StageError, tracker.Percent(), UserMessage(err))
		p.logger.Warn("video generation failed",
			zap.String("provider", string(req.Provider)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (p *VideoPoller) run(ctx context.Context, req Request, desc provider.Descriptor, model string, tracker *progress.Tracker) (*VideoResult, error) {
	opts := req.videoOptions()
	body := videoStartRequest{
		Prompt:      req.Prompt,
		Model:       model,
		Seconds:     opts.DurationSeconds,
		Size:        opts.Size,
		AspectRatio: opts.AspectRatio,
		N:           opts.N,
	}

	raw, err := p.transport.call(ctx, desc, provider.CapabilityVideo, http.MethodPost, desc.GenerationEndpoint(provider.CapabilityVideo), body)
	if err != nil {
		return nil, err
	}

	var started videoStartResponse
	if err := decode(desc.ID, raw, &started); err != nil {
		return nil, err
	}

	job := Job{ID: started.jobID(), Provider: desc.ID, Model: model, CreatedAt: p.clock.Now()}
	job.advance(JobQueued, job.CreatedAt)

	if started.inline() {
		return p.resolved(desc, job, started, tracker)
	}
	if desc.PreResolved {
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "response carried no video"}
	}
	if job.ID == "" {
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "response carried no job id"}
	}

	tracker.SetJobID(job.ID)
	tracker.Report(progress.StageGenerating, videoJobCreatedPercent, "video job created")
	p.logger.Info("video job started",
		zap.String("provider", string(desc.ID)),
		zap.String("model", model),
		zap.String("job_id", job.ID))

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.clock.Sleep(ctx, p.cfg.Interval); err != nil {
			return nil, err
		}

		status, err := p.status(ctx, desc, job.ID)
		p.metrics.RecordPoll(string(desc.ID), err == nil)
		if err != nil {
			return nil, err
		}

		job.advance(status.status, p.clock.Now())
		p.logger.Debug("video job polled",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.String("status", string(job.Status)))

		switch job.Status {
		case JobCompleted:
			tracker.Report(progress.StageDownloading, videoDownloadPercent, "downloading video")
			result, err := p.download(ctx, desc, job)
			if err != nil {
				return nil, err
			}
			tracker.Report(progress.StageCompleted, 100, "video ready")
			return result, nil
		case JobFailed:
			msg := status.message
			if msg == "" {
				msg = "video generation failed"
			}
			return nil, &JobFailedError{Provider: desc.ID, JobID: job.ID, Message: msg}
		}

		tracker.Report(progress.StagePolling, videoPollFloor+status.percent*videoPollSpan/100,
			fmt.Sprintf("video %s (%d/%d)", job.Status, attempt, p.cfg.MaxAttempts))
	}

	return nil, &PollingTimeoutError{
		Provider:     desc.ID,
		JobID:        job.ID,
		Attempts:     p.cfg.MaxAttempts,
		StillRunning: true,
	}
}

// resolved finishes a job whose start response already carried the asset.
func (p *VideoPoller) resolved(desc provider.Descriptor, job Job, started videoStartResponse, tracker *progress.Tracker) (*VideoResult, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.advance(JobCompleted, p.clock.Now())
	tracker.SetJobID(job.ID)

	result := &VideoResult{Job: job, URL: started.URL}
	if v := started.Video; v != nil && v.Data != "" {
		data, err := decodeBase64(v.Data)
		if err != nil {
			return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "invalid base64 video payload", Err: err}
		}
		result.Data = data
		result.ContentType = v.ContentType
		result.Metrics = VideoMetrics{
			DurationSeconds: v.Duration,
			SizeBytes:       int64(len(data)),
			Width:           v.Width,
			Height:          v.Height,
		}
	}

	p.logger.Info("video resolved without polling",
		zap.String("provider", string(desc.ID)),
		zap.String("job_id", job.ID))
	tracker.Report(progress.StageCompleted, 100, "video ready")
	return result, nil
}

type polledStatus struct {
	status  JobStatus
	percent int
	message string
}

func (p *VideoPoller) status(ctx context.Context, desc provider.Descriptor, jobID string) (polledStatus, error) {
	raw, err := p.transport.call(ctx, desc, provider.CapabilityVideo, http.MethodGet, withQuery(desc.Endpoint(desc.StatusPath), "id", jobID), nil)
	if err != nil {
		return polledStatus{}, demoteUnsupported(err)
	}

	var resp videoStatusResponse
	if err := decode(desc.ID, raw, &resp); err != nil {
		return polledStatus{}, err
	}

	status, ok := normalizeJobStatus(resp.Status)
	if !ok {
		return polledStatus{}, &ProviderRequestError{
			Provider:   desc.ID,
			StatusCode: http.StatusOK,
			Message:    fmt.Sprintf("unknown job status %q", resp.Status),
		}
	}

	percent := int(resp.Progress)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	msg := resp.Message
	if m := errorFieldMessage(resp.Error); m != "" {
		msg = m
	}
	return polledStatus{status: status, percent: percent, message: msg}, nil
}

func (p *VideoPoller) download(ctx context.Context, desc provider.Descriptor, job Job) (*VideoResult, error) {
	raw, err := p.downloads.call(ctx, desc, provider.CapabilityVideo, http.MethodGet, withQuery(desc.Endpoint(desc.DownloadPath), "id", job.ID), nil)
	if err != nil {
		return nil, demoteUnsupported(err)
	}

	var payload videoPayload
	if err := decode(desc.ID, raw, &payload); err != nil {
		return nil, err
	}
	if payload.Data == "" {
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "download carried no video data"}
	}

	data, err := decodeBase64(payload.Data)
	if err != nil {
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "invalid base64 video payload", Err: err}
	}

	return &VideoResult{
		Job:         job,
		Data:        data,
		ContentType: payload.ContentType,
		Metrics: VideoMetrics{
			DurationSeconds: payload.Duration,
			SizeBytes:       int64(len(data)),
			Width:           payload.Width,
			Height:          payload.Height,
		},
	}, nil
}

// normalizeJobStatus maps provider status vocabularies onto JobStatus.
func normalizeJobStatus(s string) (JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return JobQueued, true
	case "processing", "in_progress", "running":
		return JobProcessing, true
	case "completed", "succeeded", "success":
		return JobCompleted, true
	case "failed", "error", "cancelled", "canceled":
		return JobFailed, true
	default:
		return "", false
	}
}

// errorFieldMessage reads an error field that is either a string or an
// object with a message.
func errorFieldMessage(raw json.RawMessage) string {
	if s := jsonString(raw); s != "" {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &nested) == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
