package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/utils"
)

const maxErrorBody = 512

// Option customises a collaborator client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Provider
	logger     *slog.Logger
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithLimiter throttles outbound requests.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// WithCache enables caching of idempotent lookups.
func WithCache(provider cache.Provider) Option {
	return func(o *options) { o.cache = provider }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewLimiter builds a limiter from requests per second and burst; zero rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func buildOptions(timeout time.Duration, opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	if o.cache == nil {
		o.cache = cache.NoopProvider{}
	}
	o.logger = utils.OrDefault(o.logger)
	return o
}

// jsonClient speaks JSON over HTTP to one collaborator.
type jsonClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newJSONClient(baseURL, token string, o options) *jsonClient {
	return &jsonClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: o.httpClient,
		limiter:    o.limiter,
	}
}

func (c *jsonClient) resolvePath(p string, segments ...string) string {
	if c.baseURL == "" {
		return ""
	}
	parts := append([]string{"/" + strings.TrimLeft(p, "/")}, segments...)
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + path.Join(parts...)
	}
	u.Path = path.Join(append([]string{u.Path}, parts...)...)
	return u.String()
}

func (c *jsonClient) getJSON(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	return c.do(ctx, op, http.MethodGet, endpoint, query, nil, out)
}

func (c *jsonClient) postJSON(ctx context.Context, op, endpoint string, payload, out any) error {
	return c.do(ctx, op, http.MethodPost, endpoint, nil, payload, out)
}

func (c *jsonClient) putJSON(ctx context.Context, op, endpoint string, payload, out any) error {
	return c.do(ctx, op, http.MethodPut, endpoint, nil, payload, out)
}

func (c *jsonClient) delete(ctx context.Context, op, endpoint string) error {
	return c.do(ctx, op, http.MethodDelete, endpoint, nil, nil, nil)
}

// do performs one request. Every failure is reported as a RemoteError so
// callers can tell collaborator trouble apart from bad input.
func (c *jsonClient) do(ctx context.Context, op, method, endpoint string, query url.Values, payload, out any) error {
	if endpoint == "" {
		return &utils.RemoteError{Op: op, Msg: "base URL not configured"}
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &utils.RemoteError{Op: op, Msg: "rate limit wait", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &utils.RemoteError{Op: op, Msg: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &utils.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &utils.RemoteError{Op: op, Status: resp.StatusCode, Msg: errorMessage(resp, snippet)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &utils.RemoteError{Op: op, Status: resp.StatusCode, Msg: "decode response", Err: err}
	}
	return nil
}

func errorMessage(resp *http.Response, body []byte) string {
	text := strings.TrimSpace(string(body))
	var structured struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &structured) == nil {
		text = firstNonEmpty(structured.Error, structured.Detail, text)
	}
	if text == "" {
		return "collaborator returned " + resp.Status
	}
	return fmt.Sprintf("collaborator returned %s: %s", resp.Status, text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
