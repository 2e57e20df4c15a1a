package generation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// withFallback attempts the requested provider and, only when it reports the
// capability as absent, attempts the catalog fallback exactly once with the
// fallback's default model. The fallback's own error is returned as-is.
func withFallback[T any](
	ctx context.Context,
	catalog *provider.Catalog,
	req Request,
	c provider.Capability,
	m *metrics.Metrics,
	logger *zap.Logger,
	attempt func(ctx context.Context, desc provider.Descriptor, model string) (T, error),
) (T, error) {
	var zero T

	primary, err := catalog.Resolve(req.Provider)
	if err != nil {
		return zero, err
	}

	var result T
	if primary.Supports(c) {
		result, err = attempt(ctx, primary, req.modelFor(primary, c))
	} else {
		err = &ProviderUnsupportedError{Provider: primary.ID, Capability: c}
	}
	if err == nil {
		return result, nil
	}

	var unsupported *ProviderUnsupportedError
	if !errors.As(err, &unsupported) {
		return zero, err
	}

	fallback := catalog.Fallback()
	if !fallback.Supports(c) {
		return zero, &ProviderUnsupportedError{Provider: fallback.ID, Capability: c}
	}

	logger.Info("provider lacks capability, using fallback",
		zap.String("provider", string(primary.ID)),
		zap.String("fallback", string(fallback.ID)),
		zap.String("capability", string(c)))
	m.RecordFallback(string(primary.ID), string(fallback.ID), string(c))

	return attempt(ctx, fallback, fallback.DefaultModel(c))
}
