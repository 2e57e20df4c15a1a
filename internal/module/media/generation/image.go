package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// ImageClient performs synchronous image generation.
type ImageClient struct {
	catalog   *provider.Catalog
	transport *transport
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewImageClient creates an image client.
func NewImageClient(catalog *provider.Catalog, client *http.Client, health *provider.HealthMonitor, m *metrics.Metrics, logger *zap.Logger) *ImageClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageClient{
		catalog:   catalog,
		transport: newTransport(client, health),
		metrics:   m,
		logger:    logger.Named("image-client"),
	}
}

type imageRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	Style   string `json:"style,omitempty"`
	N       int    `json:"n,omitempty"`
}

type imageData struct {
	URL           string `json:"url"`
	B64JSON       string `json:"b64_json"`
	RevisedPrompt string `json:"revised_prompt"`
}

// imageResponse accepts both the flat and the data-array response shapes.
type imageResponse struct {
	URL           string      `json:"url"`
	B64JSON       string      `json:"b64_json"`
	RevisedPrompt string      `json:"revisedPrompt"`
	Data          []imageData `json:"data"`
}

// Generate issues one image generation call, plus at most one call to the
// fallback provider when the requested provider lacks image support.
func (c *ImageClient) Generate(ctx context.Context, req Request) (*ImageResult, error) {
	start := time.Now()

	result, err := withFallback(ctx, c.catalog, req, provider.CapabilityImage, c.metrics, c.logger,
		func(ctx context.Context, desc provider.Descriptor, model string) (*ImageResult, error) {
			return c.attempt(ctx, req, desc, model)
		})

	providerID := string(req.Provider)
	if result != nil {
		providerID = string(result.Provider)
	}
	c.metrics.RecordGeneration(providerID, string(provider.CapabilityImage), outcome(err), time.Since(start))

	if err != nil {
		c.logger.Warn("image generation failed",
			zap.String("provider", string(req.Provider)),
			zap.Error(err))
		return nil, err
	}

	c.logger.Debug("image generated",
		zap.String("provider", providerID),
		zap.String("model", result.Model))
	return result, nil
}

func (c *ImageClient) attempt(ctx context.Context, req Request, desc provider.Descriptor, model string) (*ImageResult, error) {
	opts := req.imageOptions()
	body := imageRequest{
		Prompt:  req.Prompt,
		Model:   model,
		Size:    opts.Size,
		Quality: opts.Quality,
		Style:   opts.Style,
		N:       opts.N,
	}

	raw, err := c.transport.call(ctx, desc, provider.CapabilityImage, http.MethodPost, desc.GenerationEndpoint(provider.CapabilityImage), body)
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := decode(desc.ID, raw, &resp); err != nil {
		return nil, err
	}

	img := imageData{URL: resp.URL, B64JSON: resp.B64JSON, RevisedPrompt: resp.RevisedPrompt}
	if img.URL == "" && img.B64JSON == "" && len(resp.Data) > 0 {
		img = resp.Data[0]
	}

	result := &ImageResult{
		Provider:      desc.ID,
		Model:         model,
		URL:           img.URL,
		RevisedPrompt: img.RevisedPrompt,
	}

	switch {
	case img.URL != "":
	case img.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "invalid base64 image payload", Err: err}
		}
		result.Data = data
	default:
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: http.StatusOK, Message: "response carried no image"}
	}

	return result, nil
}

// outcome labels an error for metrics.
func outcome(err error) string {
	var (
		unsupported *ProviderUnsupportedError
		reqErr      *ProviderRequestError
		failed      *JobFailedError
		timeout     *PollingTimeoutError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &unsupported):
		return "unsupported"
	case errors.As(err, &failed):
		return "failed"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &reqErr):
		return "request_error"
	default:
		return "error"
	}
}
