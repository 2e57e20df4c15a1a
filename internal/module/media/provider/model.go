package provider

import (
	"fmt"
	"strings"
)

// ID identifies a generation provider.
type ID string

const (
	IDOpenAI    ID = "openai"
	IDGemini    ID = "gemini"
	IDStability ID = "stability"
	IDRender    ID = "render"
)

// Capability represents a generation capability.
type Capability string

const (
	CapabilityImage Capability = "image"
	CapabilityVideo Capability = "video"
)

// Pipeline selects how a provider's video jobs are driven.
type Pipeline string

const (
	// PipelineDirect: start job, poll status endpoint, download result.
	PipelineDirect Pipeline = "direct"
	// PipelineWebhook: initiate via webhook, poll render status, relocate result URL.
	PipelineWebhook Pipeline = "webhook"
)

// Descriptor describes a provider. Descriptors are read-only once the
// catalog is built.
type Descriptor struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"-"`
	APIKey  string `json:"-"`

	ImagePath    string `json:"-"`
	VideoPath    string `json:"-"`
	StatusPath   string `json:"-"`
	DownloadPath string `json:"-"`

	DefaultImageModel string `json:"default_image_model,omitempty"`
	DefaultVideoModel string `json:"default_video_model,omitempty"`

	Capabilities []Capability `json:"capabilities"`
	Pipeline     Pipeline     `json:"pipeline"`

	// PreResolved providers return the finished asset in the job-creation
	// response, so no polling happens.
	PreResolved bool `json:"pre_resolved"`
}

// clone returns d with its own capability slice.
func (d Descriptor) clone() Descriptor {
	d.Capabilities = append([]Capability(nil), d.Capabilities...)
	return d
}

// Supports checks if the provider has a capability.
func (d Descriptor) Supports(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// DefaultModel returns the default model for a capability.
func (d Descriptor) DefaultModel(c Capability) string {
	switch c {
	case CapabilityImage:
		return d.DefaultImageModel
	case CapabilityVideo:
		return d.DefaultVideoModel
	default:
		return ""
	}
}

// GenerationEndpoint returns the job/request endpoint for a capability.
func (d Descriptor) GenerationEndpoint(c Capability) string {
	switch c {
	case CapabilityImage:
		return d.Endpoint(d.ImagePath)
	case CapabilityVideo:
		return d.Endpoint(d.VideoPath)
	default:
		return ""
	}
}

// Endpoint resolves a path against the provider base URL. Absolute URLs
// are returned as-is.
func (d Descriptor) Endpoint(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// validate checks the descriptor is complete for every capability it claims.
func (d Descriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("provider id is empty")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("provider %s: no capabilities", d.ID)
	}

	if d.Supports(CapabilityImage) {
		if d.GenerationEndpoint(CapabilityImage) == "" || d.DefaultImageModel == "" {
			return fmt.Errorf("provider %s: image endpoint and default model required", d.ID)
		}
	}

	if d.Supports(CapabilityVideo) {
		if d.GenerationEndpoint(CapabilityVideo) == "" || d.DefaultVideoModel == "" {
			return fmt.Errorf("provider %s: video endpoint and default model required", d.ID)
		}
		switch d.Pipeline {
		case PipelineWebhook:
			if d.StatusPath == "" {
				return fmt.Errorf("provider %s: render status endpoint required", d.ID)
			}
		default:
			if !d.PreResolved && (d.StatusPath == "" || d.DownloadPath == "") {
				return fmt.Errorf("provider %s: status and download endpoints required", d.ID)
			}
		}
	}

	return nil
}

// UnknownProviderError is returned when a provider id is not in the catalog.
type UnknownProviderError struct {
	ID ID
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %q", string(e.ID))
}
