package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

// maxResponseBytes bounds JSON bodies read from providers. Video payloads
// come base64-encoded in the download response, hence the large limit.
const maxResponseBytes = 256 << 20

// maxMessageLen bounds upstream messages copied into errors.
const maxMessageLen = 512

// transport issues provider calls. Every call runs under the provider's
// circuit breaker when a health monitor is configured.
type transport struct {
	client *http.Client
	health *provider.HealthMonitor
}

func newTransport(client *http.Client, health *provider.HealthMonitor) *transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &transport{client: client, health: health}
}

// call sends a JSON request and returns the raw response body. Status 501
// yields ProviderUnsupportedError for capability c; every other non-2xx
// status yields ProviderRequestError.
func (t *transport) call(ctx context.Context, desc provider.Descriptor, c provider.Capability, method, endpoint string, body any) ([]byte, error) {
	var raw []byte
	fn := func() error {
		var err error
		raw, err = t.do(ctx, desc, c, method, endpoint, body)
		return err
	}

	var err error
	if t.health != nil {
		err = t.health.Execute(desc.ID, fn)
	} else {
		err = fn()
	}

	if errors.Is(err, provider.ErrProviderUnavailable) {
		return nil, &ProviderRequestError{
			Provider: desc.ID,
			Message:  provider.ErrProviderUnavailable.Error(),
			Err:      err,
		}
	}
	return raw, err
}

func (t *transport) do(ctx context.Context, desc provider.Descriptor, c provider.Capability, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if desc.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+desc.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderRequestError{Provider: desc.ID, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderRequestError{Provider: desc.ID, StatusCode: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode == http.StatusNotImplemented {
		return nil, &ProviderUnsupportedError{Provider: desc.ID, Capability: c, Message: bodyMessage(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderRequestError{
			Provider:   desc.ID,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(resp.StatusCode, raw),
		}
	}

	return raw, nil
}

// decode unmarshals a provider response, mapping malformed payloads to
// ProviderRequestError.
func decode(id provider.ID, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderRequestError{
			Provider:   id,
			StatusCode: http.StatusOK,
			Message:    "malformed response: " + err.Error(),
			Err:        err,
		}
	}
	return nil
}

// demoteUnsupported turns a capability-absent answer from a follow-up call
// (status, download) into a plain request error. Only job creation may
// trigger the fallback hop.
func demoteUnsupported(err error) error {
	var unsupported *ProviderUnsupportedError
	if errors.As(err, &unsupported) {
		msg := unsupported.Message
		if msg == "" {
			msg = http.StatusText(http.StatusNotImplemented)
		}
		return &ProviderRequestError{
			Provider:   unsupported.Provider,
			StatusCode: http.StatusNotImplemented,
			Message:    msg,
			Err:        err,
		}
	}
	return err
}

// withQuery appends key=value to endpoint.
func withQuery(endpoint, key, value string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

// upstreamMessage extracts a human-readable message from an error body,
// falling back to the status text.
func upstreamMessage(status int, body []byte) string {
	if msg := bodyMessage(body); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

// bodyMessage looks at error.message, error, message and detail in that
// order, then at the raw text. Empty when the body carries nothing.
func bodyMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
				return truncate(nested.Message)
			}
			if s := jsonString(payload.Error); s != "" {
				return truncate(s)
			}
		}
		if s := jsonString(payload.Message); s != "" {
			return truncate(s)
		}
		if s := jsonString(payload.Detail); s != "" {
			return truncate(s)
		}
	}

	if s := strings.TrimSpace(string(body)); s != "" && s != "null" {
		return truncate(s)
	}
	return ""
}

func jsonString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// truncate cuts s to maxMessageLen bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
