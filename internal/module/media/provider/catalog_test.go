package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniedit/mediaflow/internal/infra/config"
)

func TestCatalog_ResolveKnownProviders(t *testing.T) {
	catalog, err := NewCatalog(DefaultDescriptors(), IDOpenAI)
	require.NoError(t, err)

	for _, d := range catalog.List() {
		t.Run(string(d.ID), func(t *testing.T) {
			got, err := catalog.Resolve(d.ID)
			require.NoError(t, err)

			for _, c := range got.Capabilities {
				assert.NotEmpty(t, got.GenerationEndpoint(c))
				assert.NotEmpty(t, got.DefaultModel(c))
			}
		})
	}
}

func TestCatalog_ResolveUnknown(t *testing.T) {
	catalog, err := NewCatalog(DefaultDescriptors(), IDOpenAI)
	require.NoError(t, err)

	_, err = catalog.Resolve("midjourney")

	var unknown *UnknownProviderError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, ID("midjourney"), unknown.ID)
}

func TestCatalog_Fallback(t *testing.T) {
	catalog, err := NewCatalog(DefaultDescriptors(), IDOpenAI)
	require.NoError(t, err)

	assert.Equal(t, IDOpenAI, catalog.Fallback().ID)
}

func TestCatalog_DescriptorsAreCopies(t *testing.T) {
	descs := DefaultDescriptors()
	catalog, err := NewCatalog(descs, IDOpenAI)
	require.NoError(t, err)

	descs[0].Capabilities[0] = "audio"

	resolved, err := catalog.Resolve(IDOpenAI)
	require.NoError(t, err)
	resolved.Capabilities[0] = "audio"

	listed := catalog.List()
	listed[0].Capabilities[0] = "audio"

	fallback := catalog.Fallback()
	fallback.Capabilities[0] = "audio"

	again, err := catalog.Resolve(IDOpenAI)
	require.NoError(t, err)
	assert.Equal(t, []Capability{CapabilityImage, CapabilityVideo}, again.Capabilities)
	assert.Equal(t, CapabilityImage, catalog.List()[0].Capabilities[0])
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		fallback    ID
	}{
		{
			name:        "unknown fallback",
			descriptors: DefaultDescriptors(),
			fallback:    "nope",
		},
		{
			name: "image without model",
			descriptors: []Descriptor{{
				ID: "x", BaseURL: "http://x", ImagePath: "/img",
				Capabilities: []Capability{CapabilityImage},
			}},
			fallback: "x",
		},
		{
			name: "direct video without status endpoint",
			descriptors: []Descriptor{{
				ID: "x", BaseURL: "http://x", VideoPath: "/v", DefaultVideoModel: "m",
				Capabilities: []Capability{CapabilityVideo},
			}},
			fallback: "x",
		},
		{
			name: "duplicate",
			descriptors: []Descriptor{
				DefaultDescriptors()[0],
				DefaultDescriptors()[0],
			},
			fallback: IDOpenAI,
		},
		{
			name:        "no capabilities",
			descriptors: []Descriptor{{ID: "x"}},
			fallback:    "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.descriptors, tt.fallback)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_ListSorted(t *testing.T) {
	catalog, err := NewCatalog(DefaultDescriptors(), IDOpenAI)
	require.NoError(t, err)

	list := catalog.List()
	require.Len(t, list, 3)
	assert.Equal(t, IDGemini, list[0].ID)
	assert.Equal(t, IDOpenAI, list[1].ID)
	assert.Equal(t, IDStability, list[2].ID)
}

func TestNewCatalogFromConfig(t *testing.T) {
	catalog, err := NewCatalogFromConfig(config.MediaConfig{
		FallbackProvider: "openai",
		Render: config.RenderConfig{
			WebhookURL: "https://hooks.example.com/render",
			StatusURL:  "https://render.example.com/status",
		},
		Providers: map[string]config.ProviderConfig{
			"openai": {BaseURL: "http://gateway.local", APIKey: "sk-1"},
			"flux": {
				BaseURL:           "http://flux.local",
				ImagePath:         "/generate",
				DefaultImageModel: "flux-pro",
				Capabilities:      []string{"image"},
			},
		},
	})
	require.NoError(t, err)

	openai, err := catalog.Resolve(IDOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.local/v1/images/generations", openai.GenerationEndpoint(CapabilityImage))
	assert.Equal(t, "sk-1", openai.APIKey)

	render, err := catalog.Resolve(IDRender)
	require.NoError(t, err)
	assert.Equal(t, PipelineWebhook, render.Pipeline)
	assert.Equal(t, "https://hooks.example.com/render", render.GenerationEndpoint(CapabilityVideo))
	assert.Equal(t, "https://render.example.com/status", render.Endpoint(render.StatusPath))

	flux, err := catalog.Resolve("flux")
	require.NoError(t, err)
	assert.True(t, flux.Supports(CapabilityImage))
	assert.False(t, flux.Supports(CapabilityVideo))
}

func TestNewCatalogFromConfig_NoRenderWithoutWebhook(t *testing.T) {
	catalog, err := NewCatalogFromConfig(config.MediaConfig{})
	require.NoError(t, err)

	_, err = catalog.Resolve(IDRender)
	assert.Error(t, err)
	assert.Equal(t, IDOpenAI, catalog.Fallback().ID)
}
