package generation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

// Option defaults applied when the caller omits them.
const (
	DefaultImageSize        = "1024x1024"
	DefaultImageQuality     = "standard"
	DefaultImageCount       = 1
	DefaultVideoSeconds     = 8
	DefaultSceneCount       = 3
	DefaultDurationPerScene = 5
)

var validate = validator.New()

// Options holds provider-specific generation options.
type Options struct {
	Size             string `json:"size,omitempty" validate:"omitempty,max=32"`
	Quality          string `json:"quality,omitempty" validate:"omitempty,oneof=standard hd low medium high auto"`
	Style            string `json:"style,omitempty" validate:"omitempty,max=64"`
	N                int    `json:"n,omitempty" validate:"omitempty,min=1,max=10"`
	DurationSeconds  int    `json:"duration_seconds,omitempty" validate:"omitempty,min=1,max=120"`
	SceneCount       int    `json:"scene_count,omitempty" validate:"omitempty,min=1,max=20"`
	DurationPerScene int    `json:"duration_per_scene,omitempty" validate:"omitempty,min=1,max=60"`
	AspectRatio      string `json:"aspect_ratio,omitempty" validate:"omitempty,max=16"`
}

// Request is a validated generation request. Values are passed by copy and
// never modified after NewRequest.
type Request struct {
	Prompt   string      `json:"prompt" validate:"required,max=4000"`
	Provider provider.ID `json:"provider" validate:"required"`
	// Model is optional. The provider default applies when empty.
	Model   string  `json:"model,omitempty" validate:"omitempty,max=128"`
	Options Options `json:"options"`
}

// NewRequest validates a request and checks the provider against the
// catalog, so an unknown provider fails here rather than mid-call.
func NewRequest(catalog *provider.Catalog, prompt string, id provider.ID, model string, opts Options) (Request, error) {
	req := Request{
		Prompt:   strings.TrimSpace(prompt),
		Provider: id,
		Model:    strings.TrimSpace(model),
		Options:  opts,
	}

	if err := validate.Struct(&req); err != nil {
		return Request{}, fmt.Errorf("invalid generation request: %w", err)
	}
	if _, err := catalog.Resolve(id); err != nil {
		return Request{}, err
	}

	return req, nil
}

// imageOptions returns the options with image defaults filled in.
func (r Request) imageOptions() Options {
	o := r.Options
	if o.Size == "" {
		o.Size = DefaultImageSize
	}
	if o.Quality == "" {
		o.Quality = DefaultImageQuality
	}
	if o.N == 0 {
		o.N = DefaultImageCount
	}
	return o
}

// videoOptions returns the options with video defaults filled in.
func (r Request) videoOptions() Options {
	o := r.Options
	if o.DurationSeconds == 0 {
		o.DurationSeconds = DefaultVideoSeconds
	}
	if o.N == 0 {
		o.N = 1
	}
	return o
}

// modelFor returns the model to use against desc. A caller-chosen model only
// applies to the provider the caller chose.
func (r Request) modelFor(desc provider.Descriptor, c provider.Capability) string {
	if r.Model != "" && desc.ID == r.Provider {
		return r.Model
	}
	return desc.DefaultModel(c)
}
