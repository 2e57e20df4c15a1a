package mediahttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/infra/task"
	"github.com/uniedit/mediaflow/internal/module/media/batch"
	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/shared/logger"
	apperrors "github.com/uniedit/mediaflow/internal/utils/errors"
	"github.com/uniedit/mediaflow/internal/utils/pagination"
)

const maxBatchItems = 50

var validate = validator.New()

// HealthReporter reports the local breaker state of a provider.
type HealthReporter interface {
	Status(id provider.ID) provider.HealthStatus
}

// SharedHealth reports provider health published by other instances.
type SharedHealth interface {
	GetHealth(ctx context.Context, id provider.ID) (provider.HealthStatus, error)
}

// SnapshotStore returns the last progress event published for a task.
type SnapshotStore interface {
	Snapshot(ctx context.Context, jobID string) (*progress.Event, error)
}

// Handler handles media HTTP requests.
type Handler struct {
	service   *Service
	tasks     TaskManager
	catalog   *provider.Catalog
	health    HealthReporter
	shared    SharedHealth
	snapshots SnapshotStore
	logger    *zap.Logger
	basePath  string
}

// HandlerOption configures optional collaborators.
type HandlerOption func(*Handler)

// WithSharedHealth reports cluster-wide provider health next to local state.
func WithSharedHealth(s SharedHealth) HandlerOption {
	return func(h *Handler) { h.shared = s }
}

// WithSnapshots serves progress for tasks running on other instances.
func WithSnapshots(s SnapshotStore) HandlerOption {
	return func(h *Handler) { h.snapshots = s }
}

// NewHandler creates a new media handler.
func NewHandler(service *Service, tasks TaskManager, catalog *provider.Catalog, health HealthReporter, log *zap.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		service: service,
		tasks:   tasks,
		catalog: catalog,
		health:  health,
		logger:  log.Named("media-http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers media routes. submit is applied to routes that
// start background tasks.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, submit ...gin.HandlerFunc) {
	mediaGroup := r.Group("/media")
	h.basePath = mediaGroup.BasePath()

	withSubmit := func(final gin.HandlerFunc) []gin.HandlerFunc {
		handlers := make([]gin.HandlerFunc, 0, len(submit)+1)
		handlers = append(handlers, submit...)
		return append(handlers, final)
	}
	{
		mediaGroup.POST("/images", h.GenerateImage)
		mediaGroup.POST("/videos", withSubmit(h.GenerateVideo)...)
		mediaGroup.POST("/batches", withSubmit(h.GenerateBatch)...)

		mediaGroup.GET("/tasks", h.ListTasks)
		mediaGroup.GET("/tasks/:task_id", h.GetTask)
		mediaGroup.DELETE("/tasks/:task_id", h.CancelTask)

		mediaGroup.GET("/providers", h.ListProviders)
	}
}

// GenerationInput is the body of image and video requests.
type GenerationInput struct {
	Prompt   string             `json:"prompt"`
	Provider provider.ID        `json:"provider"`
	Model    string             `json:"model"`
	Name     string             `json:"name" validate:"max=256"`
	Options  generation.Options `json:"options"`
}

// BatchInput is the body of batch requests.
type BatchInput struct {
	Kind           batch.Kind         `json:"kind"`
	Provider       provider.ID        `json:"provider"`
	Model          string             `json:"model"`
	Options        generation.Options `json:"options"`
	PromptTemplate string             `json:"prompt_template"`
	Items          []batch.Item       `json:"items" validate:"required,min=1,dive"`
}

// TaskAccepted is returned when a background task is submitted.
type TaskAccepted struct {
	TaskID uuid.UUID   `json:"task_id"`
	Status task.Status `json:"status"`
}

// GenerateImage handles synchronous image generation.
func (h *Handler) GenerateImage(c *gin.Context) {
	var input GenerationInput
	if !bindJSON(c, &input) {
		return
	}

	req, err := h.newRequest(input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	output, err := h.service.GenerateImage(c.Request.Context(), req, input.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, output)
}

// GenerateVideo submits a background video generation.
func (h *Handler) GenerateVideo(c *gin.Context) {
	var input GenerationInput
	if !bindJSON(c, &input) {
		return
	}

	req, err := h.newRequest(input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.checkVideoRoute(req.Provider); err != nil {
		h.respondError(c, err)
		return
	}

	h.submit(c, TaskTypeVideo, map[string]any{
		"video": videoInput{Request: req, Name: input.Name},
	})
}

// GenerateBatch submits a background batch.
func (h *Handler) GenerateBatch(c *gin.Context) {
	var input BatchInput
	if !bindJSON(c, &input) {
		return
	}
	if err := validate.Struct(input); err != nil {
		h.respondError(c, err)
		return
	}
	if len(input.Items) > maxBatchItems {
		h.respondError(c, apperrors.ValidationError("a batch holds at most "+strconv.Itoa(maxBatchItems)+" items"))
		return
	}

	cfg := batch.Config{
		Kind:           input.Kind,
		Provider:       h.providerOrFallback(input.Provider),
		Model:          input.Model,
		Options:        input.Options,
		PromptTemplate: input.PromptTemplate,
	}
	if err := validate.Struct(cfg); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.checkBatchRoute(cfg); err != nil {
		h.respondError(c, err)
		return
	}

	h.submit(c, TaskTypeBatch, map[string]any{
		"batch": batchInput{Items: input.Items, Config: cfg},
	})
}

// GetTask returns a task. Tasks unknown to this instance fall back to the
// shared progress snapshot when one is configured.
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	t, err := h.tasks.Get(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, t)
		return
	}
	if !errors.Is(err, task.ErrTaskNotFound) {
		h.respondError(c, err)
		return
	}

	if h.snapshots != nil {
		snap, snapErr := h.snapshots.Snapshot(c.Request.Context(), id.String())
		if snapErr != nil {
			logger.FromContext(c.Request.Context()).Warn("progress snapshot lookup failed", zap.Error(snapErr))
		}
		if snap != nil {
			c.JSON(http.StatusOK, gin.H{"id": id, "progress": snap})
			return
		}
	}
	h.respondError(c, apperrors.NotFound("task"))
}

// ListTasks lists tasks, newest first.
func (h *Handler) ListTasks(c *gin.Context) {
	page := pagination.New()
	if err := c.ShouldBindQuery(page); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest("invalid pagination: "+err.Error()).ToResponse())
		return
	}

	filter := &task.Filter{Limit: page.Limit(), Offset: page.Offset()}
	if v := c.Query("type"); v != "" {
		filter.Type = &v
	}
	if v := c.Query("status"); v != "" {
		s := task.Status(v)
		filter.Status = &s
	}

	tasks, err := h.tasks.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "page": page.Info(len(tasks))})
}

// CancelTask cancels a running task.
func (h *Handler) CancelTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	err := h.tasks.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, task.ErrTaskNotFound):
		h.respondError(c, apperrors.NotFound("task"))
	case errors.Is(err, task.ErrTaskTerminal):
		h.respondError(c, apperrors.Conflict(err.Error()))
	default:
		h.respondError(c, err)
	}
}

// ProviderView is a catalog entry with its health.
type ProviderView struct {
	provider.Descriptor
	Fallback     bool                  `json:"fallback"`
	Health       provider.HealthStatus `json:"health"`
	SharedHealth provider.HealthStatus `json:"shared_health,omitempty"`
}

// ListProviders lists the provider catalog.
func (h *Handler) ListProviders(c *gin.Context) {
	ctx := c.Request.Context()
	fallback := h.catalog.Fallback().ID

	descs := h.catalog.List()
	views := make([]ProviderView, 0, len(descs))
	for _, d := range descs {
		v := ProviderView{
			Descriptor: d,
			Fallback:   d.ID == fallback,
			Health:     provider.HealthStatusHealthy,
		}
		if h.health != nil {
			v.Health = h.health.Status(d.ID)
		}
		if h.shared != nil {
			if s, err := h.shared.GetHealth(ctx, d.ID); err == nil {
				v.SharedHealth = s
			}
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

func (h *Handler) newRequest(input GenerationInput) (generation.Request, error) {
	if err := validate.Struct(input); err != nil {
		return generation.Request{}, err
	}
	return generation.NewRequest(h.catalog, input.Prompt, h.providerOrFallback(input.Provider), input.Model, input.Options)
}

func (h *Handler) providerOrFallback(id provider.ID) provider.ID {
	if id == "" {
		return h.catalog.Fallback().ID
	}
	return id
}

// checkVideoRoute rejects webhook providers when no render pipeline runs,
// before a task is created for them.
func (h *Handler) checkVideoRoute(id provider.ID) error {
	desc, err := h.catalog.Resolve(id)
	if err != nil {
		return err
	}
	if desc.Pipeline == provider.PipelineWebhook && h.service.renders == nil {
		return apperrors.ServiceUnavailable("render pipeline is not configured")
	}
	return nil
}

// checkBatchRoute rejects batches whose kind cannot run on the provider
// before a task is created for them.
func (h *Handler) checkBatchRoute(cfg batch.Config) error {
	path, err := batch.ResolvePath(h.catalog, cfg)
	if errors.Is(err, batch.ErrPipelineMismatch) {
		return apperrors.ValidationError(err.Error())
	}
	if err != nil {
		return err
	}
	if path == batch.KindRender && h.service.renders == nil {
		return apperrors.ServiceUnavailable(batch.ErrRenderNotConfigured.Error())
	}
	return nil
}

func (h *Handler) submit(c *gin.Context, taskType string, payload map[string]any) {
	t, err := h.tasks.Submit(c.Request.Context(), &task.SubmitRequest{
		Type:    taskType,
		Payload: payload,
	})
	if err != nil {
		h.respondError(c, apperrors.Internal("failed to submit task", err))
		return
	}

	c.Header("Location", h.basePath+"/tasks/"+t.ID.String())
	c.JSON(http.StatusAccepted, TaskAccepted{TaskID: t.ID, Status: t.Status})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	appErr := apperrors.FromMediaError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("media request failed",
			zap.String("code", appErr.Code),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest("invalid request body: "+err.Error()).ToResponse())
		return false
	}
	return true
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest("invalid task id").ToResponse())
		return uuid.Nil, false
	}
	return id, true
}
