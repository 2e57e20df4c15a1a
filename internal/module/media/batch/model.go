package batch

import (
	"encoding/json"

	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
)

// Kind selects the generation path used for every item of a batch.
type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindRender Kind = "render"
)

// Item is one unit of batch work.
type Item struct {
	Title       string `json:"title" validate:"required_without=Prompt,max=256"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	// Prompt overrides the templated prompt when set.
	Prompt string `json:"prompt,omitempty" validate:"max=4000"`
}

// Config applies to every item of a batch.
type Config struct {
	Kind     Kind               `json:"kind" validate:"required,oneof=image video render"`
	Provider provider.ID        `json:"provider" validate:"required"`
	Model    string             `json:"model,omitempty"`
	Options  generation.Options `json:"options"`
	// PromptTemplate is a text/template rendered with the item's Title,
	// Description, Index and Kind. Empty uses the built-in template.
	PromptTemplate string `json:"prompt_template,omitempty"`
}

// Result is a successful item. Index is the item's position in the input.
type Result struct {
	Index int                       `json:"index"`
	Asset *relocation.UploadedAsset `json:"asset"`
}

// Failure is an item that was dropped from the results.
type Failure struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

// MarshalJSON renders the failure with a user-facing message.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}{
		Index: f.Index,
		Error: generation.UserMessage(f.Err),
	})
}

// Report is the outcome of a batch. Results keep input order.
type Report struct {
	BatchID  string    `json:"batch_id"`
	Total    int       `json:"total"`
	Results  []Result  `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
}
