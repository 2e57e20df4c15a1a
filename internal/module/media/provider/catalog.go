package provider

import (
	"fmt"
	"sort"

	"github.com/uniedit/mediaflow/internal/infra/config"
)

// Catalog is the immutable provider lookup table. It is built once at
// startup and is safe for concurrent reads.
type Catalog struct {
	providers map[ID]Descriptor
	ordered   []ID
	fallback  ID
}

// NewCatalog validates descriptors and builds a catalog. The fallback id
// must reference one of the descriptors.
func NewCatalog(descriptors []Descriptor, fallback ID) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[ID]Descriptor, len(descriptors)),
		fallback:  fallback,
	}

	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.providers[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider: %s", d.ID)
		}
		if d.Pipeline == "" {
			d.Pipeline = PipelineDirect
		}
		if d.Name == "" {
			d.Name = string(d.ID)
		}
		c.providers[d.ID] = d.clone()
		c.ordered = append(c.ordered, d.ID)
	}

	if _, ok := c.providers[fallback]; !ok {
		return nil, fmt.Errorf("fallback provider not in catalog: %w", &UnknownProviderError{ID: fallback})
	}

	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i] < c.ordered[j] })
	return c, nil
}

// Resolve returns a copy of the descriptor for id.
func (c *Catalog) Resolve(id ID) (Descriptor, error) {
	d, ok := c.providers[id]
	if !ok {
		return Descriptor{}, &UnknownProviderError{ID: id}
	}
	return d.clone(), nil
}

// Fallback returns the canonical fallback provider.
func (c *Catalog) Fallback() Descriptor {
	return c.providers[c.fallback].clone()
}

// List returns all descriptors sorted by id.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.providers[id].clone())
	}
	return out
}

// DefaultDescriptors returns the built-in provider table.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:                IDOpenAI,
			Name:              "OpenAI",
			BaseURL:           "https://api.openai.com",
			ImagePath:         "/v1/images/generations",
			VideoPath:         "/v1/videos",
			StatusPath:        "/v1/videos/status",
			DownloadPath:      "/v1/videos/content",
			DefaultImageModel: "gpt-image-1",
			DefaultVideoModel: "sora-2",
			Capabilities:      []Capability{CapabilityImage, CapabilityVideo},
			Pipeline:          PipelineDirect,
		},
		{
			ID:                IDGemini,
			Name:              "Google Gemini",
			BaseURL:           "https://generativelanguage.googleapis.com",
			ImagePath:         "/v1beta/images:generate",
			VideoPath:         "/v1beta/videos:generate",
			DefaultImageModel: "imagen-3.0-generate-002",
			DefaultVideoModel: "veo-3.0-generate-preview",
			Capabilities:      []Capability{CapabilityImage, CapabilityVideo},
			Pipeline:          PipelineDirect,
			PreResolved:       true,
		},
		{
			ID:                IDStability,
			Name:              "Stability AI",
			BaseURL:           "https://api.stability.ai",
			ImagePath:         "/v2beta/stable-image/generate/core",
			DefaultImageModel: "stable-image-core",
			Capabilities:      []Capability{CapabilityImage},
			Pipeline:          PipelineDirect,
		},
	}
}

// NewCatalogFromConfig merges configured overrides over the built-in table.
// The render provider is only registered when its webhook is configured.
func NewCatalogFromConfig(cfg config.MediaConfig) (*Catalog, error) {
	byID := make(map[ID]Descriptor)
	var order []ID
	for _, d := range DefaultDescriptors() {
		byID[d.ID] = d
		order = append(order, d.ID)
	}

	if cfg.Render.WebhookURL != "" {
		byID[IDRender] = Descriptor{
			ID:                IDRender,
			Name:              "Scene Render",
			APIKey:            cfg.Render.APIKey,
			VideoPath:         cfg.Render.WebhookURL,
			StatusPath:        cfg.Render.StatusURL,
			DefaultVideoModel: "scene-render",
			Capabilities:      []Capability{CapabilityVideo},
			Pipeline:          PipelineWebhook,
		}
		order = append(order, IDRender)
	}

	for key, pc := range cfg.Providers {
		id := ID(key)
		d, known := byID[id]
		if !known {
			d = Descriptor{ID: id, Pipeline: PipelineDirect}
			order = append(order, id)
		}
		applyOverride(&d, pc)
		byID[id] = d
	}

	descriptors := make([]Descriptor, 0, len(order))
	for _, id := range order {
		descriptors = append(descriptors, byID[id])
	}

	fallback := ID(cfg.FallbackProvider)
	if fallback == "" {
		fallback = IDOpenAI
	}
	return NewCatalog(descriptors, fallback)
}

func applyOverride(d *Descriptor, pc config.ProviderConfig) {
	if pc.Name != "" {
		d.Name = pc.Name
	}
	if pc.BaseURL != "" {
		d.BaseURL = pc.BaseURL
	}
	if pc.APIKey != "" {
		d.APIKey = pc.APIKey
	}
	if pc.ImagePath != "" {
		d.ImagePath = pc.ImagePath
	}
	if pc.VideoPath != "" {
		d.VideoPath = pc.VideoPath
	}
	if pc.StatusPath != "" {
		d.StatusPath = pc.StatusPath
	}
	if pc.DownloadPath != "" {
		d.DownloadPath = pc.DownloadPath
	}
	if pc.DefaultImageModel != "" {
		d.DefaultImageModel = pc.DefaultImageModel
	}
	if pc.DefaultVideoModel != "" {
		d.DefaultVideoModel = pc.DefaultVideoModel
	}
	if len(pc.Capabilities) > 0 {
		caps := make([]Capability, 0, len(pc.Capabilities))
		for _, c := range pc.Capabilities {
			caps = append(caps, Capability(c))
		}
		d.Capabilities = caps
	}
	if pc.PreResolved {
		d.PreResolved = true
	}
}
