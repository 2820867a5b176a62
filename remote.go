package guestpager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultGuestListPath is the endpoint path of the guest list relative to the base URL.
const DefaultGuestListPath = "web/guest_list.php"

// maxResponseBytes caps the page body read from the backend.
const maxResponseBytes = 8 << 20

// RemoteSource fetches one page of guests. Pages are 1-indexed.
//
// Implementations must not retry: retry policy belongs to the caller of
// Coordinator.Load.
type RemoteSource interface {
	FetchPage(ctx context.Context, page, pageSize int) (RemoteResponse, error)
}

// RemoteSourceFunc adapts a function to RemoteSource.
type RemoteSourceFunc func(ctx context.Context, page, pageSize int) (RemoteResponse, error)

func (f RemoteSourceFunc) FetchPage(ctx context.Context, page, pageSize int) (RemoteResponse, error) {
	return f(ctx, page, pageSize)
}

// HTTPSource posts a form-encoded page request ("page", "limit") to the guest
// list endpoint and decodes either response layout.
type HTTPSource struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSourceLogger sets the logger used for request tracing.
func WithSourceLogger(logger *slog.Logger) HTTPSourceOption {
	return func(s *HTTPSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHTTPSource builds a source for baseURL joined with path. An empty path
// means DefaultGuestListPath.
func NewHTTPSource(baseURL, path string, opts ...HTTPSourceOption) (*HTTPSource, error) {
	endpoint, err := buildEndpoint(baseURL, path)
	if err != nil {
		return nil, err
	}

	s := &HTTPSource{
		endpoint: endpoint,
		client:   http.DefaultClient,
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Endpoint returns the resolved request URL.
func (s *HTTPSource) Endpoint() string {
	return s.endpoint
}

// FetchPage implements RemoteSource. Every failure is a *FetchError.
func (s *HTTPSource) FetchPage(ctx context.Context, page, pageSize int) (RemoteResponse, error) {
	if page < 1 {
		return RemoteResponse{}, &FetchError{Page: page, Err: ErrInvalidPage}
	}

	form := url.Values{}
	form.Set("page", strconv.Itoa(page))
	form.Set("limit", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return RemoteResponse{}, &FetchError{Page: page, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	s.logger.DebugContext(ctx, "fetching guest page",
		slog.String("url", s.endpoint), slog.Int("page", page), slog.Int("limit", pageSize))

	resp, err := s.client.Do(req)
	if err != nil {
		return RemoteResponse{}, &FetchError{Page: page, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return RemoteResponse{}, &FetchError{Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RemoteResponse{}, &FetchError{
			Page:       page,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response status %q", resp.Status),
		}
	}

	decoded, err := DecodeRemoteResponse(body)
	if err != nil {
		return RemoteResponse{}, &FetchError{Page: page, StatusCode: resp.StatusCode, Err: err}
	}

	s.logger.DebugContext(ctx, "fetched guest page",
		slog.Int("page", page), slog.Int("records", len(decoded.Guests)), slog.String("shape", decoded.Shape.String()))

	return decoded, nil
}

func buildEndpoint(baseURL, path string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", fmt.Errorf("empty base url")
	}
	if path == "" {
		path = DefaultGuestListPath
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint path: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

var _ RemoteSource = (*HTTPSource)(nil)
