package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader is the header for idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from the cache.
	IdempotentReplayHeader = "Idempotent-Replayed"

	idempotencyKeyPrefix  = "media:idempotency:"
	defaultIdempotencyTTL = 24 * time.Hour
	idempotencyLockTTL    = 30 * time.Second
)

// IdempotencyStore is the subset of redis commands the middleware uses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// IdempotencyConfig holds idempotency middleware configuration.
type IdempotencyConfig struct {
	TTL    time.Duration
	Logger *zap.Logger
}

type idempotencyResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Location    string `json:"location,omitempty"`
	Body        []byte `json:"body"`
}

type idempotencyResponseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the first response for a repeated Idempotency-Key so a
// retried submission does not start a second generation task. The key is
// scoped to the route and the request body. Requests without the header,
// or with no store configured, pass through.
func Idempotency(store IdempotencyStore, cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultIdempotencyTTL
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if store == nil || key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey, err := idempotencyCacheKey(c, key)
		if err != nil {
			c.Next()
			return
		}

		if cached, err := getCachedResponse(ctx, store, cacheKey); err == nil {
			if cached.Location != "" {
				c.Header("Location", cached.Location)
			}
			c.Header(IdempotentReplayHeader, "true")
			c.Data(cached.StatusCode, cached.ContentType, cached.Body)
			c.Abort()
			return
		} else if !errors.Is(err, goredis.Nil) {
			log.Warn("idempotency lookup failed", zap.Error(err))
			c.Next()
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := store.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
		if err != nil {
			log.Warn("idempotency lock failed", zap.Error(err))
			c.Next()
			return
		}
		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{
					"code":    "REQUEST_IN_PROGRESS",
					"message": "a request with this idempotency key is already being processed",
				},
			})
			return
		}
		defer store.Del(context.WithoutCancel(ctx), lockKey)

		writer := &idempotencyResponseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		resp := &idempotencyResponse{
			StatusCode:  status,
			ContentType: writer.Header().Get("Content-Type"),
			Location:    writer.Header().Get("Location"),
			Body:        writer.body.Bytes(),
		}
		if err := cacheResponse(context.WithoutCancel(ctx), store, cacheKey, resp, cfg.TTL); err != nil {
			log.Warn("idempotency store failed", zap.Error(err))
		}
	}
}

// idempotencyCacheKey hashes the route, the client key and the body.
func idempotencyCacheKey(c *gin.Context, key string) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	h := sha256.New()
	h.Write([]byte(c.Request.Method + ":" + c.FullPath() + ":" + key + ":"))
	h.Write(body)
	return idempotencyKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

func getCachedResponse(ctx context.Context, store IdempotencyStore, key string) (*idempotencyResponse, error) {
	data, err := store.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var resp idempotencyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func cacheResponse(ctx context.Context, store IdempotencyStore, key string, resp *idempotencyResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, data, ttl).Err()
}
