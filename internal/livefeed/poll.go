package livefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/incident-console/internal/utils"
)

const (
	maxPollBytes  = 8 << 20
	closeDeadline = time.Second
)

func deadline() time.Time { return time.Now().Add(closeDeadline) }

// HTTPFetcher polls a JSON endpoint.
type HTTPFetcher struct {
	URL    string
	Token  string
	Client *http.Client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &utils.RemoteError{Op: "poll feed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBytes))
	if err != nil {
		return nil, &utils.RemoteError{Op: "poll feed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &utils.RemoteError{Op: "poll feed", Status: resp.StatusCode}
	}
	return body, nil
}

// NewStream picks the push transport from the URL scheme: ws and wss use
// WebSocket, http and https use server-sent events. An empty URL yields nil.
func NewStream(rawURL, token string, client *http.Client) (Stream, error) {
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return &WebSocketStream{URL: rawURL, Token: token}, nil
	case "http", "https":
		return &SSEStream{URL: rawURL, Token: token, Client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
}

// NewFetcher returns an HTTPFetcher for rawURL, or nil when it is empty.
func NewFetcher(rawURL, token string, client *http.Client) Fetcher {
	if rawURL == "" {
		return nil
	}
	return &HTTPFetcher{URL: rawURL, Token: token, Client: client}
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
