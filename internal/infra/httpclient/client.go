package httpclient

import (
	"net"
	"net/http"

	"github.com/uniedit/mediaflow/internal/infra/config"
)

// New creates a new HTTP client with the given configuration.
// The client is shared by every provider call, the relocation downloader
// and the render pipeline, so pool limits apply across all of them.
func New(cfg config.HTTPClientConfig) *http.Client {
	return &http.Client{
		Transport: newTransport(cfg),
		Timeout:   cfg.ResponseTimeout,
	}
}

// Transfer is the client for large downloads: asset relocation and video
// results. Only the response headers are bound by ResponseTimeout; the body
// is bound by TransferTimeout and the caller's context.
type Transfer struct {
	*http.Client
}

// NewTransfer creates the download client.
func NewTransfer(cfg config.HTTPClientConfig) Transfer {
	transport := newTransport(cfg)
	transport.ResponseHeaderTimeout = cfg.ResponseTimeout
	return Transfer{Client: &http.Client{
		Transport: transport,
		Timeout:   cfg.TransferTimeout,
	}}
}

func newTransport(cfg config.HTTPClientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
		DisableCompression:  false,
	}
}
