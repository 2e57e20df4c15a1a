package relocation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// DefaultMaxDownloadBytes bounds a single download.
const DefaultMaxDownloadBytes int64 = 512 << 20

// Config configures the relocator.
type Config struct {
	// ProxyURL is the trusted intermediary downloads are routed through. The
	// remote URL is passed as the url query parameter. Empty means direct.
	ProxyURL         string
	MaxDownloadBytes int64
	TempDir          string
	// OwnedBaseURL is the prefix every relocated URL must carry.
	OwnedBaseURL string
}

// Relocator moves finished assets from third-party storage into owned
// storage. It never retries.
type Relocator struct {
	client   *http.Client
	uploader Uploader
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRelocator creates a relocator.
func NewRelocator(client *http.Client, uploader Uploader, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Relocator {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relocator{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("relocator"),
	}
}

// Relocate downloads remoteURL and re-uploads it to owned storage. The
// download is spooled to a temporary file that is removed on every path.
func (r *Relocator) Relocate(ctx context.Context, remoteURL string, rc Context) (*UploadedAsset, error) {
	asset, size, err := r.relocate(ctx, remoteURL, rc)
	r.record(rc.MediaType, err, size)
	if err != nil {
		r.logger.Warn("relocation failed",
			zap.String("url", remoteURL),
			zap.String("job_id", rc.JobID),
			zap.Error(err))
		return nil, err
	}

	r.logger.Info("asset relocated",
		zap.String("job_id", rc.JobID),
		zap.String("url", asset.URL),
		zap.Int64("size", asset.Size))
	return asset, nil
}

func (r *Relocator) relocate(ctx context.Context, remoteURL string, rc Context) (*UploadedAsset, int64, error) {
	if _, err := url.ParseRequestURI(remoteURL); err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: err}
	}

	resp, err := r.fetch(ctx, remoteURL)
	if err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: err}
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(r.cfg.TempDir, "relocate-*")
	if err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: fmt.Errorf("create temp file: %w", err)}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, io.LimitReader(resp.Body, r.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if size > r.cfg.MaxDownloadBytes {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: fmt.Errorf("asset exceeds %d bytes", r.cfg.MaxDownloadBytes)}
	}
	if size == 0 {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: errors.New("empty body")}
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: err}
	}
	detected, err := mimetype.DetectReader(tmp)
	if err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: fmt.Errorf("detect type: %w", err)}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, 0, &UploadError{Stage: StageDownload, URL: remoteURL, Err: err}
	}

	contentType := resolveContentType(resp.Header.Get("Content-Type"), detected)
	asset, err := r.upload(ctx, tmp, remoteURL, size, contentType, detected.Extension(), rc)
	return asset, size, err
}

// Store uploads an in-memory payload to owned storage.
func (r *Relocator) Store(ctx context.Context, data []byte, contentType string, rc Context) (*UploadedAsset, error) {
	size := int64(len(data))
	var (
		asset *UploadedAsset
		err   error
	)
	if size == 0 {
		err = &UploadError{Stage: StageUpload, Err: errors.New("empty payload")}
	} else {
		detected := mimetype.Detect(data)
		asset, err = r.upload(ctx, bytes.NewReader(data), "", size, resolveContentType(contentType, detected), detected.Extension(), rc)
	}

	r.record(rc.MediaType, err, size)
	if err != nil {
		r.logger.Warn("store failed", zap.String("job_id", rc.JobID), zap.Error(err))
		return nil, err
	}
	return asset, nil
}

func (r *Relocator) upload(ctx context.Context, body io.Reader, remoteURL string, size int64, contentType, ext string, rc Context) (*UploadedAsset, error) {
	mediaType := rc.MediaType
	if mediaType == "" {
		mediaType = mediaTypeOf(contentType)
	}

	name := rc.Name
	if name == "" {
		name = rc.JobID
	}
	if name == "" {
		name = uuid.NewString()
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}

	obj, err := r.uploader.Upload(ctx, body, UploadOptions{
		Name:              name,
		MediaType:         mediaType,
		ContentType:       contentType,
		Size:              size,
		GenerateThumbnail: mediaType == MediaImage,
		Compress:          mediaType == MediaImage,
	})
	if err != nil {
		return nil, &UploadError{Stage: StageUpload, URL: remoteURL, Err: err}
	}
	if err := r.verifyOwned(obj.URL, remoteURL); err != nil {
		return nil, &UploadError{Stage: StageVerify, URL: remoteURL, Err: err}
	}

	if obj.Name != "" {
		name = obj.Name
	}
	return &UploadedAsset{
		ID:           uuid.New(),
		URL:          obj.URL,
		Name:         name,
		MediaType:    mediaType,
		Size:         size,
		MIMEType:     contentType,
		ThumbnailURL: obj.ThumbnailURL,
	}, nil
}

func (r *Relocator) fetch(ctx context.Context, remoteURL string) (*http.Response, error) {
	target := remoteURL
	if r.cfg.ProxyURL != "" {
		sep := "?"
		if strings.Contains(r.cfg.ProxyURL, "?") {
			sep = "&"
		}
		target = r.cfg.ProxyURL + sep + "url=" + url.QueryEscape(remoteURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// verifyOwned enforces that a stored URL points at owned storage.
func (r *Relocator) verifyOwned(stored, remote string) error {
	if stored == "" {
		return errors.New("storage returned no url")
	}
	if remote != "" && stored == remote {
		return errors.New("storage returned the remote url")
	}
	if r.cfg.OwnedBaseURL != "" && !strings.HasPrefix(stored, r.cfg.OwnedBaseURL) {
		return fmt.Errorf("url %s is outside owned storage", stored)
	}
	return nil
}

func (r *Relocator) record(mediaType MediaType, err error, size int64) {
	if err != nil {
		r.metrics.RecordRelocation(string(mediaType), "failed", 0)
		return
	}
	r.metrics.RecordRelocation(string(mediaType), "success", size)
}

// resolveContentType prefers the declared type unless it is missing or
// generic, in which case the sniffed type wins.
func resolveContentType(declared string, detected *mimetype.MIME) string {
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	switch declared {
	case "", "application/octet-stream", "binary/octet-stream":
		return detected.String()
	default:
		return declared
	}
}

func mediaTypeOf(contentType string) MediaType {
	if strings.HasPrefix(contentType, "video/") {
		return MediaVideo
	}
	return MediaImage
}
