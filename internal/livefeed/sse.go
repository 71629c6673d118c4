package livefeed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/miradorstack/incident-console/internal/utils"
)

const maxEventBytes = 1 << 20

// SSEStream subscribes to a text/event-stream endpoint. Each event's data
// lines form one JSON payload.
type SSEStream struct {
	URL    string
	Token  string
	Client *http.Client
}

// Transport implements Stream.
func (s *SSEStream) Transport() string { return TransportSSE }

// Open implements Stream.
func (s *SSEStream) Open(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &utils.RemoteError{Op: "open event stream", Status: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	return &sseConn{body: resp.Body, scanner: scanner}, nil
}

type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the data of the next event, skipping comments and events
// without data.
func (c *sseConn) Next(ctx context.Context) ([]byte, error) {
	var data bytes.Buffer
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			if data.Len() > 0 {
				return data.Bytes(), nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(value)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
