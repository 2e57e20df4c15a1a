package relocation

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MediaType classifies stored assets.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Context describes the asset being relocated.
type Context struct {
	// Name is the display name. Defaults to the job id.
	Name      string
	MediaType MediaType
	JobID     string
}

// UploadedAsset is the durable representation of a generated asset. URL
// always references owned storage.
type UploadedAsset struct {
	ID           uuid.UUID `json:"id"`
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	MediaType    MediaType `json:"media_type"`
	Size         int64     `json:"size"`
	MIMEType     string    `json:"mime_type"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

// UploadOptions are passed to the storage collaborator.
type UploadOptions struct {
	Name              string
	MediaType         MediaType
	ContentType       string
	Size              int64
	GenerateThumbnail bool
	Compress          bool
}

// StoredObject is what the storage collaborator returns.
type StoredObject struct {
	URL          string
	Name         string
	ThumbnailURL string
}

// Uploader stores a blob in owned storage.
type Uploader interface {
	Upload(ctx context.Context, body io.Reader, opts UploadOptions) (*StoredObject, error)
}

// Relocation stages reported in UploadError.
const (
	StageDownload = "download"
	StageUpload   = "upload"
	StageVerify   = "verify"
)

// UploadError is returned for any relocation failure.
type UploadError struct {
	Stage string
	URL   string
	Err   error
}

func (e *UploadError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("relocation %s failed for %s: %v", e.Stage, e.URL, e.Err)
	}
	return fmt.Sprintf("relocation %s failed: %v", e.Stage, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UserMessage returns a caller-facing description.
func (e *UploadError) UserMessage() string {
	return "the generated asset could not be saved to storage"
}
