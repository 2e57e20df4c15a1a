package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
)

type fakeImages struct {
	prompts []string
	failOn  string
	onCall  func()
}

func (f *fakeImages) Generate(_ context.Context, req generation.Request) (*generation.ImageResult, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.onCall != nil {
		f.onCall()
	}
	if f.failOn != "" && strings.Contains(req.Prompt, f.failOn) {
		return nil, &generation.ProviderRequestError{Provider: req.Provider, StatusCode: 400, Message: "prompt rejected"}
	}
	return &generation.ImageResult{Provider: req.Provider, URL: "https://thirdparty.test/" + req.Prompt}, nil
}

type fakeVideos struct{}

func (fakeVideos) Generate(_ context.Context, req generation.Request, sink progress.Sink) (*generation.VideoResult, error) {
	tracker := progress.NewTracker("vid-1", sink)
	tracker.Report(progress.StagePolling, 50, "halfway")
	tracker.Report(progress.StageCompleted, 100, "done")
	return &generation.VideoResult{
		Job:         generation.Job{ID: "vid-1", Provider: req.Provider, Status: generation.JobCompleted},
		Data:        []byte("mp4"),
		ContentType: "video/mp4",
	}, nil
}

type fakeRenders struct {
	prompts []string
}

func (f *fakeRenders) Generate(_ context.Context, req generation.Request, _ progress.Sink) (*generation.RenderResult, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return &generation.RenderResult{
		Asset: &relocation.UploadedAsset{ID: uuid.New(), URL: "https://cdn.owned.test/render.mp4", MediaType: relocation.MediaVideo},
	}, nil
}

type fakeStore struct {
	relocated []string
	stored    [][]byte
}

func (s *fakeStore) Relocate(_ context.Context, remoteURL string, rc relocation.Context) (*relocation.UploadedAsset, error) {
	s.relocated = append(s.relocated, remoteURL)
	return &relocation.UploadedAsset{ID: uuid.New(), URL: "https://cdn.owned.test/" + rc.Name, Name: rc.Name, MediaType: rc.MediaType}, nil
}

func (s *fakeStore) Store(_ context.Context, data []byte, contentType string, rc relocation.Context) (*relocation.UploadedAsset, error) {
	s.stored = append(s.stored, data)
	return &relocation.UploadedAsset{ID: uuid.New(), URL: "https://cdn.owned.test/" + rc.JobID, MIMEType: contentType, MediaType: rc.MediaType}, nil
}

func testCatalog(t *testing.T) *provider.Catalog {
	t.Helper()
	catalog, err := provider.NewCatalog(provider.DefaultDescriptors(), provider.IDOpenAI)
	require.NoError(t, err)
	return catalog
}

func renderCatalog(t *testing.T) *provider.Catalog {
	t.Helper()
	descs := append(provider.DefaultDescriptors(), provider.Descriptor{
		ID:                provider.IDRender,
		VideoPath:         "https://render.test/webhook",
		StatusPath:        "https://render.test/status",
		DefaultVideoModel: "scene-render",
		Capabilities:      []provider.Capability{provider.CapabilityVideo},
		Pipeline:          provider.PipelineWebhook,
	})
	catalog, err := provider.NewCatalog(descs, provider.IDOpenAI)
	require.NoError(t, err)
	return catalog
}

func items(titles ...string) []Item {
	out := make([]Item, 0, len(titles))
	for _, title := range titles {
		out = append(out, Item{Title: title})
	}
	return out
}

func TestOrchestrator_IsolatesFailures(t *testing.T) {
	images := &fakeImages{failOn: "broken"}
	store := &fakeStore{}
	o := NewOrchestrator(testCatalog(t), images, fakeVideos{}, nil, store, nil, nil)
	rec := &progress.Recorder{}

	report, err := o.Generate(context.Background(),
		items("sets", "functions", "broken section", "limits"),
		Config{Kind: KindImage, Provider: provider.IDOpenAI},
		rec)
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{report.Results[0].Index, report.Results[1].Index, report.Results[2].Index})
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 2, report.Failures[0].Index)
	assert.Equal(t, 4, report.Total)

	assert.Len(t, rec.Events(), 5, "one event per item plus the final one")
	assert.Equal(t, []int{0, 25, 50, 75, 100}, percents(rec.Events()))
	last, _ := rec.Last()
	assert.Equal(t, progress.StageCompleted, last.Stage)
	assert.Equal(t, report.BatchID, last.JobID)

	assert.Len(t, images.prompts, 4, "every item is attempted")
	assert.Len(t, store.relocated, 3)
}

func TestOrchestrator_Prompts(t *testing.T) {
	images := &fakeImages{}
	o := NewOrchestrator(testCatalog(t), images, nil, nil, &fakeStore{}, nil, nil)

	_, err := o.Generate(context.Background(), []Item{
		{Title: "Sets", Description: "unions and intersections"},
		{Title: "Ignored", Prompt: "explicit prompt"},
		{Title: "Limits"},
	}, Config{Kind: KindImage, Provider: provider.IDStability}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		`Generate image content for "Sets": unions and intersections`,
		"explicit prompt",
		`Generate image content for "Limits"`,
	}, images.prompts)
}

func TestOrchestrator_CustomTemplate(t *testing.T) {
	images := &fakeImages{}
	o := NewOrchestrator(testCatalog(t), images, nil, nil, &fakeStore{}, nil, nil)

	_, err := o.Generate(context.Background(), items("Sets"), Config{
		Kind:           KindImage,
		Provider:       provider.IDOpenAI,
		PromptTemplate: "Slide {{.Index}}: {{.Title}}",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Slide 0: Sets"}, images.prompts)

	_, err = o.Generate(context.Background(), items("Sets"), Config{
		Kind:           KindImage,
		Provider:       provider.IDOpenAI,
		PromptTemplate: "{{.Title",
	}, nil)
	require.Error(t, err)
}

func TestOrchestrator_VideoForwardsInnerProgress(t *testing.T) {
	store := &fakeStore{}
	o := NewOrchestrator(testCatalog(t), nil, fakeVideos{}, nil, store, nil, nil)
	rec := &progress.Recorder{}

	report, err := o.Generate(context.Background(), items("a", "b"), Config{Kind: KindVideo, Provider: provider.IDOpenAI}, rec)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Len(t, store.stored, 2)
	assert.Equal(t, []int{0, 25, 50, 50, 75, 100, 100}, percents(rec.Events()))
	for _, e := range rec.Events() {
		assert.Equal(t, report.BatchID, e.JobID)
	}
}

func TestOrchestrator_Render(t *testing.T) {
	renders := &fakeRenders{}
	o := NewOrchestrator(renderCatalog(t), nil, nil, renders, &fakeStore{}, nil, nil)

	report, err := o.Generate(context.Background(), items("intro"), Config{Kind: KindRender, Provider: provider.IDRender}, nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "https://cdn.owned.test/render.mp4", report.Results[0].Asset.URL)
	assert.Equal(t, []string{`Generate render content for "intro"`}, renders.prompts)
}

func TestOrchestrator_VideoFollowsProviderPipeline(t *testing.T) {
	renders := &fakeRenders{}
	store := &fakeStore{}
	o := NewOrchestrator(renderCatalog(t), nil, nil, renders, store, nil, nil)

	report, err := o.Generate(context.Background(), items("a", "b"), Config{Kind: KindVideo, Provider: provider.IDRender}, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{
		`Generate video content for "a"`,
		`Generate video content for "b"`,
	}, renders.prompts)
	assert.Empty(t, store.stored, "render results are already relocated")
}

func TestOrchestrator_RouteRejectedBeforeItems(t *testing.T) {
	fallbackImageOnly, err := provider.NewCatalog(provider.DefaultDescriptors(), provider.IDStability)
	require.NoError(t, err)

	tests := []struct {
		name    string
		catalog *provider.Catalog
		renders RenderGenerator
		cfg     Config
		check   func(t *testing.T, err error)
	}{
		{
			name:    "render on direct provider",
			catalog: renderCatalog(t),
			renders: &fakeRenders{},
			cfg:     Config{Kind: KindRender, Provider: provider.IDOpenAI},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrPipelineMismatch)
			},
		},
		{
			name:    "render pipeline not configured",
			catalog: renderCatalog(t),
			cfg:     Config{Kind: KindRender, Provider: provider.IDRender},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRenderNotConfigured)
			},
		},
		{
			name:    "webhook video without render pipeline",
			catalog: renderCatalog(t),
			cfg:     Config{Kind: KindVideo, Provider: provider.IDRender},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRenderNotConfigured)
			},
		},
		{
			name:    "unknown provider",
			catalog: testCatalog(t),
			cfg:     Config{Kind: KindImage, Provider: "nope"},
			check: func(t *testing.T, err error) {
				var unknown *provider.UnknownProviderError
				assert.True(t, errors.As(err, &unknown))
			},
		},
		{
			name:    "capability absent from provider and fallback",
			catalog: fallbackImageOnly,
			cfg:     Config{Kind: KindVideo, Provider: provider.IDStability},
			check: func(t *testing.T, err error) {
				var unsupported *generation.ProviderUnsupportedError
				require.True(t, errors.As(err, &unsupported))
				assert.Equal(t, provider.IDStability, unsupported.Provider)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images := &fakeImages{}
			o := NewOrchestrator(tt.catalog, images, nil, tt.renders, &fakeStore{}, nil, nil)
			rec := &progress.Recorder{}

			report, err := o.Generate(context.Background(), items("a", "b"), tt.cfg, rec)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.Empty(t, images.prompts)
			assert.Empty(t, rec.Events())
			tt.check(t, err)
		})
	}
}

func TestOrchestrator_CapabilityFromFallback(t *testing.T) {
	o := NewOrchestrator(testCatalog(t), nil, fakeVideos{}, nil, &fakeStore{}, nil, nil)

	report, err := o.Generate(context.Background(), items("a"), Config{Kind: KindVideo, Provider: provider.IDStability}, nil)
	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	images := &fakeImages{onCall: cancel}
	o := NewOrchestrator(testCatalog(t), images, nil, nil, &fakeStore{}, nil, nil)

	report, err := o.Generate(ctx, items("a", "b", "c"), Config{Kind: KindImage, Provider: provider.IDOpenAI}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, images.prompts, 1)
	assert.Len(t, report.Results, 1)
}

func TestFailure_MarshalJSON(t *testing.T) {
	raw, err := Failure{Index: 3, Err: &generation.JobFailedError{Message: "render failed"}}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":3,"error":"render failed"}`, string(raw))
}

func percents(events []progress.Event) []int {
	out := make([]int, 0, len(events))
	for _, e := range events {
		out = append(out, e.Percent)
	}
	return out
}
