package s3

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/infra/config"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
)

// maxImageBytes bounds images decoded for thumbnails or compression. Larger
// images are stored as-is.
const maxImageBytes = 64 << 20

// ObjectPutter is the part of the S3 API used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// MediaStorage stores generated media in an S3-compatible bucket.
type MediaStorage struct {
	client        ObjectPutter
	bucket        string
	publicBaseURL string
	keyPrefix     string
	thumbnailSize int
	jpegQuality   int
	now           func() time.Time
	logger        *zap.Logger
}

// NewMediaStorage creates a media storage adapter.
func NewMediaStorage(client ObjectPutter, cfg config.StorageConfig, logger *zap.Logger) *MediaStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	thumb := cfg.ThumbnailSize
	if thumb <= 0 {
		thumb = 320
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	return &MediaStorage{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		keyPrefix:     strings.Trim(cfg.KeyPrefix, "/"),
		thumbnailSize: thumb,
		jpegQuality:   quality,
		now:           time.Now,
		logger:        logger.Named("media-storage"),
	}
}

// Upload stores body and returns its public URL. Images may be recompressed
// and get a thumbnail when requested. Other media are streamed unchanged.
func (s *MediaStorage) Upload(ctx context.Context, body io.Reader, opts relocation.UploadOptions) (*relocation.StoredObject, error) {
	id := uuid.NewString()
	key := s.objectKey(string(opts.MediaType), id, path.Ext(opts.Name))

	wantsImageWork := opts.MediaType == relocation.MediaImage && (opts.Compress || opts.GenerateThumbnail)
	if !wantsImageWork || (opts.Size > maxImageBytes) {
		if err := s.put(ctx, key, body, opts.Size, opts.ContentType); err != nil {
			return nil, err
		}
		return &relocation.StoredObject{URL: s.publicURL(key), Name: opts.Name}, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	src, decodeErr := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if decodeErr != nil {
		s.logger.Warn("image could not be decoded, storing as-is",
			zap.String("name", opts.Name),
			zap.Error(decodeErr))
	}

	if decodeErr == nil && opts.Compress {
		data = s.compress(src, data, opts.ContentType)
	}
	if err := s.put(ctx, key, bytes.NewReader(data), int64(len(data)), opts.ContentType); err != nil {
		return nil, err
	}

	obj := &relocation.StoredObject{URL: s.publicURL(key), Name: opts.Name}

	if decodeErr == nil && opts.GenerateThumbnail {
		thumbURL, err := s.thumbnail(ctx, src, id)
		if err != nil {
			s.logger.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
		} else {
			obj.ThumbnailURL = thumbURL
		}
	}

	return obj, nil
}

// compress re-encodes the image and keeps the result only when smaller.
func (s *MediaStorage) compress(src image.Image, original []byte, contentType string) []byte {
	var (
		buf bytes.Buffer
		err error
	)
	switch contentType {
	case "image/jpeg":
		err = imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(s.jpegQuality))
	case "image/png":
		err = imaging.Encode(&buf, src, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return original
	}
	if err != nil || buf.Len() >= len(original) {
		return original
	}
	return buf.Bytes()
}

func (s *MediaStorage) thumbnail(ctx context.Context, src image.Image, id string) (string, error) {
	thumb := imaging.Fit(src, s.thumbnailSize, s.thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(s.jpegQuality)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := s.objectKey("thumbnails", id, ".jpg")
	if err := s.put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg"); err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

func (s *MediaStorage) put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// objectKey builds prefix/kind/yyyy/mm/dd/id.ext.
func (s *MediaStorage) objectKey(kind, id, ext string) string {
	return path.Join(s.keyPrefix, kind, s.now().UTC().Format("2006/01/02"), id+strings.ToLower(ext))
}

func (s *MediaStorage) publicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

// Compile-time interface check
var _ relocation.Uploader = (*MediaStorage)(nil)
