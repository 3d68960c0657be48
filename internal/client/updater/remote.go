package updater

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/infra/buildinfo"
)

// ConfigFetcher retrieves the release config resolved for a device. found
// is false when no release applies.
type ConfigFetcher interface {
	FetchReleaseConfig(ctx context.Context, deviceID string, dims map[string]string) (rc *domain.ReleaseConfig, found bool, err error)
}

// Downloader opens the content behind a file URL.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// EventSink delivers telemetry batches to the server.
type EventSink interface {
	SendEvents(ctx context.Context, events []*domain.Event) error
}

// Remote talks to an OTAMesh server over HTTP. It serves as ConfigFetcher,
// Downloader and EventSink.
type Remote struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithTLSConfig sets the TLS configuration used for https servers.
func WithTLSConfig(cfg *tls.Config) RemoteOption {
	return func(r *Remote) {
		if cfg == nil {
			return
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = cfg
		r.client.Transport = t
	}
}

// NewRemote creates a client for the server at server. A bare host:port is
// given an http:// scheme.
func NewRemote(server string, opts ...RemoteOption) *Remote {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	r := &Remote{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 5 * time.Minute},
		userAgent: buildinfo.UserAgent("otamesh-agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchReleaseConfig implements ConfigFetcher. The request carries the
// device id and every dimension value as query parameters.
func (r *Remote) FetchReleaseConfig(ctx context.Context, deviceID string, dims map[string]string) (*domain.ReleaseConfig, bool, error) {
	q := url.Values{}
	for k, v := range dims {
		q.Set(k, v)
	}
	q.Set("device_id", deviceID)

	resp, err := r.do(ctx, http.MethodGet, "/v1/release-config?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, false, nil
	case http.StatusOK:
	default:
		return nil, false, responseError(resp)
	}

	var rc domain.ReleaseConfig
	if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
		return nil, false, domain.ErrConfigFetch.WithDetails("malformed release config").WithCause(err)
	}
	return &rc, true, nil
}

// Download implements Downloader. Relative URLs are resolved against the
// server address.
func (r *Remote) Download(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	if strings.HasPrefix(fileURL, "/") {
		fileURL = r.baseURL + fileURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", fileURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// SendEvents implements EventSink.
func (r *Remote) SendEvents(ctx context.Context, events []*domain.Event) error {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	resp, err := r.do(ctx, http.MethodPost, "/v1/events", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return r.client.Do(req)
}

// responseError decodes the server error envelope.
func responseError(resp *http.Response) error {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Code != "" {
		return domain.NewDomainError(envelope.Code, envelope.Message).WithDetails(envelope.Details)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
