package mediahttp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/uniedit/mediaflow/internal/infra/task"
	"github.com/uniedit/mediaflow/internal/module/media/batch"
	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
)

// Task types run by the task manager.
const (
	TaskTypeVideo = "media.video"
	TaskTypeBatch = "media.batch"
)

// BatchRunner runs a batch of generation items.
type BatchRunner interface {
	Generate(ctx context.Context, items []batch.Item, cfg batch.Config, sink progress.Sink) (*batch.Report, error)
}

// TaskManager runs work in the background.
type TaskManager interface {
	RegisterExecutor(taskType string, executor task.Executor)
	Submit(ctx context.Context, req *task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*task.Task, error)
	List(ctx context.Context, filter *task.Filter) ([]*task.Task, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ImageOutput is the response of a finished image generation.
type ImageOutput struct {
	Provider      provider.ID               `json:"provider"`
	Model         string                    `json:"model"`
	RevisedPrompt string                    `json:"revised_prompt,omitempty"`
	Asset         *relocation.UploadedAsset `json:"asset"`
}

// VideoOutput is the output of a finished video task.
type VideoOutput struct {
	Provider       provider.ID               `json:"provider"`
	Model          string                    `json:"model"`
	JobID          string                    `json:"job_id"`
	Asset          *relocation.UploadedAsset `json:"asset"`
	Metrics        *generation.VideoMetrics  `json:"metrics,omitempty"`
	RemainingQuota *int                      `json:"remaining_quota,omitempty"`
}

// Service runs single generations end to end: provider call, then
// relocation of the result into owned storage.
type Service struct {
	catalog *provider.Catalog
	images  batch.ImageGenerator
	videos  batch.VideoGenerator
	renders batch.RenderGenerator
	batches BatchRunner
	store   batch.AssetStore
}

// NewService creates a media service. renders may be nil.
func NewService(catalog *provider.Catalog, images batch.ImageGenerator, videos batch.VideoGenerator, renders batch.RenderGenerator, batches BatchRunner, store batch.AssetStore) *Service {
	return &Service{
		catalog: catalog,
		images:  images,
		videos:  videos,
		renders: renders,
		batches: batches,
		store:   store,
	}
}

// GenerateImage generates one image and stores it.
func (s *Service) GenerateImage(ctx context.Context, req generation.Request, name string) (*ImageOutput, error) {
	res, err := s.images.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	rc := relocation.Context{Name: name, MediaType: relocation.MediaImage}
	var asset *relocation.UploadedAsset
	if res.URL != "" {
		asset, err = s.store.Relocate(ctx, res.URL, rc)
	} else {
		asset, err = s.store.Store(ctx, res.Data, "", rc)
	}
	if err != nil {
		return nil, err
	}

	return &ImageOutput{
		Provider:      res.Provider,
		Model:         res.Model,
		RevisedPrompt: res.RevisedPrompt,
		Asset:         asset,
	}, nil
}

// GenerateVideo generates one video through the pipeline the provider
// uses and stores it.
func (s *Service) GenerateVideo(ctx context.Context, req generation.Request, name string, sink progress.Sink) (*VideoOutput, error) {
	desc, err := s.catalog.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	if desc.Pipeline == provider.PipelineWebhook {
		if s.renders == nil {
			return nil, batch.ErrRenderNotConfigured
		}
		res, err := s.renders.Generate(ctx, req, sink)
		if err != nil {
			return nil, err
		}
		return &VideoOutput{
			Provider:       res.Job.Provider,
			Model:          res.Job.Model,
			JobID:          res.Job.ID,
			Asset:          res.Asset,
			Metrics:        &generation.VideoMetrics{DurationSeconds: res.DurationSeconds},
			RemainingQuota: res.RemainingQuota,
		}, nil
	}

	res, err := s.videos.Generate(ctx, req, sink)
	if err != nil {
		return nil, err
	}

	rc := relocation.Context{Name: name, MediaType: relocation.MediaVideo, JobID: res.Job.ID}
	var asset *relocation.UploadedAsset
	if len(res.Data) > 0 {
		asset, err = s.store.Store(ctx, res.Data, res.ContentType, rc)
	} else {
		asset, err = s.store.Relocate(ctx, res.URL, rc)
	}
	if err != nil {
		return nil, err
	}

	metrics := res.Metrics
	return &VideoOutput{
		Provider: res.Job.Provider,
		Model:    res.Job.Model,
		JobID:    res.Job.ID,
		Asset:    asset,
		Metrics:  &metrics,
	}, nil
}

type videoInput struct {
	Request generation.Request `json:"request"`
	Name    string             `json:"name,omitempty"`
}

type batchInput struct {
	Items  []batch.Item `json:"items"`
	Config batch.Config `json:"config"`
}

// RegisterExecutors registers the video and batch executors. Events are
// re-keyed to the task ID before reaching sink, and the provider job ID is
// recorded on the task.
func (s *Service) RegisterExecutors(tasks TaskManager, sink progress.Sink) {
	sink = progress.OrDiscard(sink)

	tasks.RegisterExecutor(TaskTypeVideo, func(ctx context.Context, t *task.Task, report func(task.Update)) (any, error) {
		in, ok := t.Input["video"].(videoInput)
		if !ok {
			return nil, fmt.Errorf("task %s has no video input", t.ID)
		}
		return s.GenerateVideo(ctx, in.Request, in.Name, taskSink(t.ID, report, sink))
	})

	tasks.RegisterExecutor(TaskTypeBatch, func(ctx context.Context, t *task.Task, report func(task.Update)) (any, error) {
		in, ok := t.Input["batch"].(batchInput)
		if !ok {
			return nil, fmt.Errorf("task %s has no batch input", t.ID)
		}
		return s.batches.Generate(ctx, in.Items, in.Config, taskSink(t.ID, report, sink))
	})
}

func taskSink(taskID uuid.UUID, report func(task.Update), sink progress.Sink) progress.Sink {
	return progress.SinkFunc(func(e progress.Event) {
		report(task.Update{
			Progress: e.Percent,
			Stage:    string(e.Stage),
			Message:  e.Message,
			JobID:    e.JobID,
		})
		e.JobID = taskID.String()
		sink.OnProgress(e)
	})
}
