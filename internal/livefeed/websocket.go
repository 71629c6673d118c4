package livefeed

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketStream subscribes to a ws:// or wss:// endpoint. Each text
// message is one JSON payload.
type WebSocketStream struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

// Transport implements Stream.
func (s *WebSocketStream) Transport() string { return TransportWebSocket }

// Open implements Stream. The connection is closed when ctx is done.
func (s *WebSocketStream) Open(ctx context.Context) (Conn, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	ws, resp, err := dialer.DialContext(ctx, s.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := &wsConn{ws: ws, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

type wsConn struct {
	ws   *websocket.Conn
	once sync.Once
	done chan struct{}
}

func (c *wsConn) Next(ctx context.Context) ([]byte, error) {
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		err = c.ws.Close()
	})
	return err
}
