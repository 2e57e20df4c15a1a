package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// testCatalog builds a catalog whose providers all live on baseURL.
func testCatalog(t *testing.T, baseURL string) *provider.Catalog {
	t.Helper()
	catalog, err := provider.NewCatalog([]provider.Descriptor{
		{
			ID:                provider.IDOpenAI,
			BaseURL:           baseURL,
			ImagePath:         "/openai/images",
			VideoPath:         "/openai/videos",
			StatusPath:        "/openai/videos/status",
			DownloadPath:      "/openai/videos/content",
			DefaultImageModel: "gpt-image-1",
			DefaultVideoModel: "sora-2",
			Capabilities:      []provider.Capability{provider.CapabilityImage, provider.CapabilityVideo},
		},
		{
			ID:                provider.IDStability,
			BaseURL:           baseURL,
			ImagePath:         "/stability/images",
			DefaultImageModel: "stable-image-core",
			Capabilities:      []provider.Capability{provider.CapabilityImage},
		},
		{
			ID:                provider.IDGemini,
			BaseURL:           baseURL,
			ImagePath:         "/gemini/images",
			VideoPath:         "/gemini/videos",
			DefaultImageModel: "imagen",
			DefaultVideoModel: "veo",
			Capabilities:      []provider.Capability{provider.CapabilityImage, provider.CapabilityVideo},
			PreResolved:       true,
		},
		{
			ID:                provider.IDRender,
			BaseURL:           baseURL,
			VideoPath:         "/render/webhook",
			StatusPath:        "/render/status",
			DefaultVideoModel: "scene-render",
			Capabilities:      []provider.Capability{provider.CapabilityVideo},
			Pipeline:          provider.PipelineWebhook,
		},
	}, provider.IDOpenAI)
	require.NoError(t, err)
	return catalog
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustRequest(t *testing.T, catalog *provider.Catalog, id provider.ID, model string, opts Options) Request {
	t.Helper()
	req, err := NewRequest(catalog, "intro to algebra", id, model, opts)
	require.NoError(t, err)
	return req
}
