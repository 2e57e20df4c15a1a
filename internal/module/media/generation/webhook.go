package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// DefaultRenderPollConfig polls every 10 seconds for up to 20 minutes.
func DefaultRenderPollConfig() PollConfig {
	return PollConfig{Interval: 10 * time.Second, MaxAttempts: 120}
}

// Render progress milestones. The render service reports no percentage, so
// polling progress is estimated from the attempt count.
const (
	renderInitiatedPercent = 15
	renderPollCeiling      = 90
	renderRelocatePercent  = 92
)

const initiateSchemaJSON = `{
  "definitions": {
    "project": {
      "type": "object",
      "required": ["project_id"],
      "properties": {
        "project_id": {"type": ["string", "integer"], "minLength": 1}
      }
    }
  },
  "oneOf": [
    {"$ref": "#/definitions/project"},
    {"type": "array", "minItems": 1, "maxItems": 1, "items": {"$ref": "#/definitions/project"}}
  ]
}`

const renderStatusSchemaJSON = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["pending", "processing", "done", "error"]},
    "url": {"type": ["string", "null"]},
    "duration": {"type": ["number", "null"]},
    "message": {"type": ["string", "null"]},
    "remaining_quota": {"type": ["number", "null"]}
  }
}`

var (
	initiateSchema     = mustSchema(initiateSchemaJSON)
	renderStatusSchema = mustSchema(renderStatusSchemaJSON)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// AssetRelocator moves a remote asset into owned storage.
type AssetRelocator interface {
	Relocate(ctx context.Context, remoteURL string, rc relocation.Context) (*relocation.UploadedAsset, error)
}

// RenderConfig configures the render pipeline.
type RenderConfig struct {
	Poll             PollConfig
	SceneCount       int
	DurationPerScene int
}

// RenderResult is the outcome of a render pipeline run.
type RenderResult struct {
	Job             Job                       `json:"job"`
	RemoteURL       string                    `json:"remote_url"`
	Asset           *relocation.UploadedAsset `json:"asset"`
	DurationSeconds float64                   `json:"duration_seconds,omitempty"`
	RemainingQuota  *int                      `json:"remaining_quota,omitempty"`
}

// RenderPipeline drives the external render service: initiate through a
// webhook, poll the render status API, then relocate the finished asset.
type RenderPipeline struct {
	catalog   *provider.Catalog
	transport *transport
	relocator AssetRelocator
	cfg       RenderConfig
	clock     Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRenderPipeline creates a render pipeline.
func NewRenderPipeline(catalog *provider.Catalog, client *http.Client, health *provider.HealthMonitor, relocator AssetRelocator, cfg RenderConfig, clock Clock, m *metrics.Metrics, logger *zap.Logger) *RenderPipeline {
	def := DefaultRenderPollConfig()
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = def.Interval
	}
	if cfg.Poll.MaxAttempts <= 0 {
		cfg.Poll.MaxAttempts = def.MaxAttempts
	}
	if cfg.SceneCount <= 0 {
		cfg.SceneCount = DefaultSceneCount
	}
	if cfg.DurationPerScene <= 0 {
		cfg.DurationPerScene = DefaultDurationPerScene
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RenderPipeline{
		catalog:   catalog,
		transport: newTransport(client, health),
		relocator: relocator,
		cfg:       cfg,
		clock:     clock,
		metrics:   m,
		logger:    logger.Named("render-pipeline"),
	}
}

type renderInitiateRequest struct {
	Prompt           string `json:"prompt"`
	DurationPerScene int    `json:"duration_per_scene"`
	SceneCount       int    `json:"scene_count"`
}

type renderProject struct {
	ProjectID json.RawMessage `json:"project_id"`
}

type renderStatusResponse struct {
	Status         string   `json:"status"`
	URL            *string  `json:"url"`
	Duration       *float64 `json:"duration"`
	Message        *string  `json:"message"`
	RemainingQuota *float64 `json:"remaining_quota"`
}

// Generate runs the three render stages in order. Transient status poll
// failures are logged and retried on the next interval; only an error
// status, a client error or a contract violation aborts the run.
func (p *RenderPipeline) Generate(ctx context.Context, req Request, sink progress.Sink) (*RenderResult, error) {
	start := time.Now()
	tracker := progress.NewTracker("", sink)

	result, err := p.run(ctx, req, tracker)
	p.metrics.RecordGeneration(string(req.Provider), "render", outcome(err), time.Since(start))

	if err != nil {
		tracker.Report(progress.StageError, tracker.Percent(), UserMessage(err))
		p.logger.Warn("render failed",
			zap.String("provider", string(req.Provider)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (p *RenderPipeline) run(ctx context.Context, req Request, tracker *progress.Tracker) (*RenderResult, error) {
	desc, err := p.catalog.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	if desc.Pipeline != provider.PipelineWebhook || !desc.Supports(provider.CapabilityVideo) {
		return nil, &ProviderUnsupportedError{Provider: desc.ID, Capability: provider.CapabilityVideo}
	}

	// Stage 1: initiate.
	tracker.Report(progress.StageInitializing, 0, "starting render")

	body := renderInitiateRequest{
		Prompt:           req.Prompt,
		DurationPerScene: p.cfg.DurationPerScene,
		SceneCount:       p.cfg.SceneCount,
	}
	if req.Options.DurationPerScene > 0 {
		body.DurationPerScene = req.Options.DurationPerScene
	}
	if req.Options.SceneCount > 0 {
		body.SceneCount = req.Options.SceneCount
	}

	raw, err := p.transport.call(ctx, desc, provider.CapabilityVideo, http.MethodPost, desc.GenerationEndpoint(provider.CapabilityVideo), body)
	if err != nil {
		return nil, demoteUnsupported(err)
	}
	projectID, err := parseProjectID(desc.ID, raw)
	if err != nil {
		return nil, err
	}

	job := Job{ID: projectID, Provider: desc.ID, Model: req.modelFor(desc, provider.CapabilityVideo), CreatedAt: p.clock.Now()}
	job.advance(JobQueued, job.CreatedAt)
	tracker.SetJobID(projectID)
	tracker.Report(progress.StageGenerating, renderInitiatedPercent, "render started")
	p.logger.Info("render initiated",
		zap.String("provider", string(desc.ID)),
		zap.String("job_id", projectID),
		zap.Int("scene_count", body.SceneCount))

	// Stage 2: poll.
	maxAttempts := p.cfg.Poll.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.clock.Sleep(ctx, p.cfg.Poll.Interval); err != nil {
			return nil, err
		}

		status, err := p.status(ctx, desc, projectID)
		if err != nil {
			if !isTransient(ctx, err) {
				return nil, err
			}
			p.metrics.RecordPoll(string(desc.ID), false)
			p.logger.Warn("render status check failed, retrying",
				zap.String("job_id", projectID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			tracker.Report(progress.StagePolling, estimatePercent(attempt, maxAttempts), "status check failed, retrying")
			continue
		}
		p.metrics.RecordPoll(string(desc.ID), true)

		switch status.Status {
		case "error":
			job.advance(JobFailed, p.clock.Now())
			msg := deref(status.Message)
			if msg == "" {
				msg = "render failed"
			}
			return nil, &JobFailedError{Provider: desc.ID, JobID: projectID, Message: msg}

		case "done":
			remoteURL := strings.TrimSpace(deref(status.URL))
			if remoteURL == "" {
				return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "render finished without a result url"}
			}
			job.advance(JobCompleted, p.clock.Now())

			// Stage 3: finalize.
			return p.finalize(ctx, job, remoteURL, status, tracker)

		case "processing":
			job.advance(JobProcessing, p.clock.Now())
		}

		tracker.Report(progress.StagePolling, estimatePercent(attempt, maxAttempts), "render "+status.Status)
	}

	return nil, &PollingTimeoutError{
		Provider:     desc.ID,
		JobID:        projectID,
		Attempts:     maxAttempts,
		StillRunning: true,
	}
}

func (p *RenderPipeline) finalize(ctx context.Context, job Job, remoteURL string, status renderStatusResponse, tracker *progress.Tracker) (*RenderResult, error) {
	tracker.Report(progress.StageDownloading, renderRelocatePercent, "saving render to storage")

	asset, err := p.relocator.Relocate(ctx, remoteURL, relocation.Context{
		MediaType: relocation.MediaVideo,
		JobID:     job.ID,
	})
	if err != nil {
		return nil, err
	}

	result := &RenderResult{
		Job:       job,
		RemoteURL: remoteURL,
		Asset:     asset,
	}
	if status.Duration != nil {
		result.DurationSeconds = *status.Duration
	}
	if status.RemainingQuota != nil {
		q := int(*status.RemainingQuota)
		result.RemainingQuota = &q
	}

	tracker.Report(progress.StageCompleted, 100, "render ready")
	p.logger.Info("render completed",
		zap.String("job_id", job.ID),
		zap.String("url", asset.URL))
	return result, nil
}

func (p *RenderPipeline) status(ctx context.Context, desc provider.Descriptor, projectID string) (renderStatusResponse, error) {
	raw, err := p.transport.call(ctx, desc, provider.CapabilityVideo, http.MethodGet, withQuery(desc.Endpoint(desc.StatusPath), "project_id", projectID), nil)
	if err != nil {
		return renderStatusResponse{}, demoteUnsupported(err)
	}
	if err := validateContract(desc.ID, renderStatusSchema, raw); err != nil {
		return renderStatusResponse{}, err
	}

	var resp renderStatusResponse
	if err := decode(desc.ID, raw, &resp); err != nil {
		return renderStatusResponse{}, err
	}
	return resp, nil
}

// parseProjectID reads the project id from either {project_id} or a
// one-element list of it.
func parseProjectID(id provider.ID, raw []byte) (string, error) {
	if err := validateContract(id, initiateSchema, raw); err != nil {
		return "", err
	}

	var project renderProject
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var list []renderProject
		if err := decode(id, trimmed, &list); err != nil {
			return "", err
		}
		project = list[0]
	} else if err := decode(id, trimmed, &project); err != nil {
		return "", err
	}

	if s := jsonString(project.ProjectID); s != "" {
		return s, nil
	}
	return strings.TrimSpace(string(project.ProjectID)), nil
}

// validateContract checks raw against schema. A mismatch is a
// ProviderRequestError.
func validateContract(id provider.ID, schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ProviderRequestError{Provider: id, StatusCode: http.StatusOK, Message: "malformed response: " + err.Error(), Err: err}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &ProviderRequestError{
		Provider:   id,
		StatusCode: http.StatusOK,
		Message:    "unexpected response shape: " + truncate(strings.Join(problems, "; ")),
	}
}

// isTransient reports whether a poll error should be retried on the next
// interval.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var reqErr *ProviderRequestError
	return errors.As(err, &reqErr) && reqErr.Transient()
}

// estimatePercent maps an attempt number onto [15, 90].
func estimatePercent(attempt, maxAttempts int) int {
	pct := renderInitiatedPercent + attempt*(renderPollCeiling-renderInitiatedPercent)/maxAttempts
	if pct > renderPollCeiling {
		pct = renderPollCeiling
	}
	return pct
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
