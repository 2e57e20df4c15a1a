package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// ErrRenderNotConfigured is returned for render batches when no render
// pipeline runs.
var ErrRenderNotConfigured = errors.New("render pipeline is not configured")

const defaultPromptTemplate = `Generate {{.Kind}} content for "{{.Title}}"{{if .Description}}: {{.Description}}{{end}}`

// ImageGenerator runs synchronous image generation.
type ImageGenerator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.ImageResult, error)
}

// VideoGenerator runs the asynchronous video poller.
type VideoGenerator interface {
	Generate(ctx context.Context, req generation.Request, sink progress.Sink) (*generation.VideoResult, error)
}

// RenderGenerator runs the external render pipeline.
type RenderGenerator interface {
	Generate(ctx context.Context, req generation.Request, sink progress.Sink) (*generation.RenderResult, error)
}

// AssetStore moves results into owned storage.
type AssetStore interface {
	Relocate(ctx context.Context, remoteURL string, rc relocation.Context) (*relocation.UploadedAsset, error)
	Store(ctx context.Context, data []byte, contentType string, rc relocation.Context) (*relocation.UploadedAsset, error)
}

// Orchestrator runs batches one item at a time.
type Orchestrator struct {
	catalog *provider.Catalog
	images  ImageGenerator
	videos  VideoGenerator
	renders RenderGenerator
	store   AssetStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewOrchestrator creates a batch orchestrator. renders may be nil when no
// render pipeline is configured.
func NewOrchestrator(catalog *provider.Catalog, images ImageGenerator, videos VideoGenerator, renders RenderGenerator, store AssetStore, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		catalog: catalog,
		images:  images,
		videos:  videos,
		renders: renders,
		store:   store,
		metrics: m,
		logger:  logger.Named("batch"),
	}
}

type promptData struct {
	Title       string
	Description string
	Index       int
	Kind        Kind
}

// Generate processes items strictly in order. The provider and the
// generation path are resolved once before any item runs. A failing item is logged,
// recorded in Report.Failures and left out of Report.Results; the batch
// continues. sink receives one event before each item, the inner job events
// of video and render items scaled into that item's share, and a final 100%
// event. Cancellation stops before the next item and returns the partial
// report with the context error.
func (o *Orchestrator) Generate(ctx context.Context, items []Item, cfg Config, sink progress.Sink) (*Report, error) {
	tmplText := cfg.PromptTemplate
	if tmplText == "" {
		tmplText = defaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	path, err := o.route(cfg)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	sink = progress.OrDiscard(sink)
	emit := func(stage progress.Stage, percent int, msg string) {
		sink.OnProgress(progress.Event{JobID: batchID, Stage: stage, Percent: percent, Message: msg, At: time.Now()})
	}

	report := &Report{BatchID: batchID, Total: len(items), Results: make([]Result, 0, len(items))}
	n := len(items)

	o.logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.String("kind", string(cfg.Kind)),
		zap.Int("items", n))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		from, to := i*100/n, (i+1)*100/n
		emit(progress.StageGenerating, from, fmt.Sprintf("item %d/%d: %s", i+1, n, item.Title))

		asset, err := o.generateItem(ctx, i, item, cfg, path, tmpl, itemSink(sink, batchID, from, to))
		if err != nil {
			o.metrics.RecordBatchItem(string(cfg.Kind), "failed")
			o.logger.Warn("batch item failed",
				zap.String("batch_id", batchID),
				zap.Int("index", i),
				zap.String("title", item.Title),
				zap.Error(err))
			report.Failures = append(report.Failures, Failure{Index: i, Err: err})

			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			continue
		}

		o.metrics.RecordBatchItem(string(cfg.Kind), "success")
		report.Results = append(report.Results, Result{Index: i, Asset: asset})
	}

	emit(progress.StageCompleted, 100, fmt.Sprintf("%d of %d items generated", len(report.Results), n))
	o.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.Int("succeeded", len(report.Results)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// ErrPipelineMismatch reports a render batch on a provider that is not
// driven by the webhook pipeline.
var ErrPipelineMismatch = errors.New("provider does not use the render pipeline")

// ResolvePath returns the generation path every item of a batch runs on.
// Video items follow the provider's pipeline. A capability the provider
// lacks is accepted when the fallback provider has it.
func ResolvePath(catalog *provider.Catalog, cfg Config) (Kind, error) {
	desc, err := catalog.Resolve(cfg.Provider)
	if err != nil {
		return "", err
	}

	var c provider.Capability
	path := cfg.Kind
	switch cfg.Kind {
	case KindImage:
		c = provider.CapabilityImage
	case KindVideo:
		c = provider.CapabilityVideo
		if desc.Pipeline == provider.PipelineWebhook {
			path = KindRender
		}
	case KindRender:
		c = provider.CapabilityVideo
		if desc.Pipeline != provider.PipelineWebhook {
			return "", fmt.Errorf("%w: %s", ErrPipelineMismatch, desc.ID)
		}
	default:
		return "", fmt.Errorf("unknown batch kind %q", cfg.Kind)
	}

	if !desc.Supports(c) && !catalog.Fallback().Supports(c) {
		return "", &generation.ProviderUnsupportedError{Provider: desc.ID, Capability: c}
	}
	return path, nil
}

func (o *Orchestrator) route(cfg Config) (Kind, error) {
	path, err := ResolvePath(o.catalog, cfg)
	if err != nil {
		return "", err
	}
	if path == KindRender && o.renders == nil {
		return "", ErrRenderNotConfigured
	}
	return path, nil
}

func (o *Orchestrator) generateItem(ctx context.Context, index int, item Item, cfg Config, path Kind, tmpl *template.Template, sink progress.Sink) (*relocation.UploadedAsset, error) {
	prompt, err := buildPrompt(tmpl, index, item, cfg.Kind)
	if err != nil {
		return nil, err
	}

	req, err := generation.NewRequest(o.catalog, prompt, cfg.Provider, cfg.Model, cfg.Options)
	if err != nil {
		return nil, err
	}

	switch path {
	case KindImage:
		res, err := o.images.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		rc := relocation.Context{Name: item.Title, MediaType: relocation.MediaImage, JobID: fmt.Sprintf("item-%d", index)}
		if res.URL != "" {
			return o.store.Relocate(ctx, res.URL, rc)
		}
		return o.store.Store(ctx, res.Data, "", rc)

	case KindVideo:
		res, err := o.videos.Generate(ctx, req, sink)
		if err != nil {
			return nil, err
		}
		rc := relocation.Context{Name: item.Title, MediaType: relocation.MediaVideo, JobID: res.Job.ID}
		if len(res.Data) > 0 {
			return o.store.Store(ctx, res.Data, res.ContentType, rc)
		}
		return o.store.Relocate(ctx, res.URL, rc)

	case KindRender:
		res, err := o.renders.Generate(ctx, req, sink)
		if err != nil {
			return nil, err
		}
		return res.Asset, nil

	default:
		return nil, fmt.Errorf("unknown batch kind %q", path)
	}
}

func buildPrompt(tmpl *template.Template, index int, item Item, kind Kind) (string, error) {
	if p := strings.TrimSpace(item.Prompt); p != "" {
		return p, nil
	}

	var b strings.Builder
	err := tmpl.Execute(&b, promptData{
		Title:       item.Title,
		Description: item.Description,
		Index:       index,
		Kind:        kind,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// itemSink scales inner job events into the item's share of the batch and
// tags them with the batch id. Inner error events are dropped; the batch
// reports item failures itself.
func itemSink(sink progress.Sink, batchID string, from, to int) progress.Sink {
	scaled := progress.Range(sink, from, to)
	return progress.SinkFunc(func(e progress.Event) {
		if e.Stage == progress.StageError {
			return
		}
		e.JobID = batchID
		scaled.OnProgress(e)
	})
}
