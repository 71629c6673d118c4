package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/models"
)

type message struct {
	payload []byte
	err     error
}

type fakeStream struct {
	openErr error
	msgs    chan message
	conn    *fakeConn
	opens   atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{msgs: make(chan message, 8)}
}

func (s *fakeStream) Transport() string { return "fake" }

func (s *fakeStream) Open(context.Context) (Conn, error) {
	s.opens.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.conn = &fakeConn{msgs: s.msgs}
	return s.conn, nil
}

type fakeConn struct {
	msgs   chan message
	closed atomic.Bool
}

func (c *fakeConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-c.msgs:
		return m.payload, m.err
	}
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	payload []byte
	calls   int
}

func (f *fakeFetcher) Fetch(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.payload, nil
}

func (f *fakeFetcher) set(payload string) {
	f.mu.Lock()
	f.payload = []byte(payload)
	f.mu.Unlock()
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type modeLog struct {
	mu    sync.Mutex
	modes []models.FeedMode
}

func (l *modeLog) record(s models.LiveFeedState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.modes); n == 0 || l.modes[n-1] != s.Mode {
		l.modes = append(l.modes, s.Mode)
	}
}

func (l *modeLog) Modes() []models.FeedMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.FeedMode(nil), l.modes...)
}

func newTestController(stream Stream, fetcher Fetcher, log *modeLog) *Controller {
	cfg := Config{
		Kind:         models.FeedIncidents,
		Stream:       stream,
		Fetcher:      fetcher,
		PollInterval: 5 * time.Millisecond,
	}
	if log != nil {
		cfg.OnUpdate = log.record
	}
	return NewController(cfg)
}

func snapshotEquals(c *Controller, want string) func() bool {
	return func() bool {
		return string(c.State().LatestSnapshot) == want
	}
}

func TestOpenFailureDegradesToPolling(t *testing.T) {
	stream := newFakeStream()
	stream.openErr = errors.New("connection refused")
	fetcher := &fakeFetcher{payload: []byte(`{"source":"poll"}`)}
	c := newTestController(stream, fetcher, nil)

	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, snapshotEquals(c, `{"source":"poll"}`), time.Second, time.Millisecond)
	st := c.State()
	assert.Equal(t, models.FeedDegraded, st.Mode)
	assert.Equal(t, TransportPoll, st.Transport)
	assert.False(t, st.LastEventAt.IsZero())
	assert.Equal(t, 1, c.PollersStarted())
	assert.Equal(t, int32(1), stream.opens.Load())
}

func TestPushErrorDegradesOnce(t *testing.T) {
	stream := newFakeStream()
	fetcher := &fakeFetcher{}
	log := &modeLog{}
	c := newTestController(stream, fetcher, log)

	c.Start(context.Background())
	defer c.Close()

	stream.msgs <- message{payload: []byte(`{"cpu":0.5}`)}
	require.Eventually(t, snapshotEquals(c, `{"cpu":0.5}`), time.Second, time.Millisecond)
	assert.Equal(t, models.FeedLive, c.State().Mode)

	stream.msgs <- message{err: errors.New("reset by peer")}
	require.Eventually(t, func() bool { return fetcher.Calls() >= 3 }, time.Second, time.Millisecond)

	assert.Equal(t, []models.FeedMode{models.FeedLive, models.FeedDegraded}, log.Modes())
	assert.Equal(t, 1, c.PollersStarted())
	assert.True(t, stream.conn.closed.Load())
	assert.Equal(t, int32(1), stream.opens.Load())

	// an empty poll body is malformed and must not replace the push snapshot
	assert.Equal(t, `{"cpu":0.5}`, string(c.State().LatestSnapshot))
}

func TestMalformedPushPayloadDegrades(t *testing.T) {
	stream := newFakeStream()
	fetcher := &fakeFetcher{}
	c := newTestController(stream, fetcher, nil)

	c.Start(context.Background())
	defer c.Close()

	stream.msgs <- message{payload: []byte(`{"cpu":0.1}`)}
	require.Eventually(t, snapshotEquals(c, `{"cpu":0.1}`), time.Second, time.Millisecond)
	stream.msgs <- message{payload: []byte(`{not json`)}

	require.Eventually(t, func() bool { return c.State().Mode == models.FeedDegraded }, time.Second, time.Millisecond)
	assert.Equal(t, `{"cpu":0.1}`, string(c.State().LatestSnapshot))
	assert.True(t, stream.conn.closed.Load())

	fetcher.set(`{"cpu":0.9}`)
	require.Eventually(t, snapshotEquals(c, `{"cpu":0.9}`), time.Second, time.Millisecond)
}

func TestMalformedPollPayloadKeepsMode(t *testing.T) {
	fetcher := &fakeFetcher{payload: []byte(`{"ok":true}`)}
	var validated atomic.Int32
	c := NewController(Config{
		Kind:         models.FeedMetrics,
		Fetcher:      fetcher,
		PollInterval: 5 * time.Millisecond,
		Validate: func(p []byte) error {
			validated.Add(1)
			var v map[string]any
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			if _, ok := v["ok"]; !ok {
				return errors.New("missing ok")
			}
			return nil
		},
	})
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, snapshotEquals(c, `{"ok":true}`), time.Second, time.Millisecond)
	fetcher.set(`{"other":1}`)
	before := validated.Load()
	require.Eventually(t, func() bool { return validated.Load() > before+2 }, time.Second, time.Millisecond)

	st := c.State()
	assert.Equal(t, models.FeedDegraded, st.Mode)
	assert.Equal(t, `{"ok":true}`, string(st.LatestSnapshot))
	assert.Equal(t, 1, c.PollersStarted())
}

func TestCloseReleasesTransports(t *testing.T) {
	stream := newFakeStream()
	c := newTestController(stream, &fakeFetcher{}, nil)
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.State().Mode == models.FeedLive }, time.Second, time.Millisecond)

	c.Close()
	assert.True(t, stream.conn.closed.Load())
	assert.Equal(t, 0, c.PollersStarted())
	select {
	case <-c.Done():
	default:
		t.Fatal("controller still running after Close")
	}

	fetcher := &fakeFetcher{payload: []byte(`{}`)}
	polling := newTestController(nil, fetcher, nil)
	polling.Start(context.Background())
	require.Eventually(t, func() bool { return fetcher.Calls() > 0 }, time.Second, time.Millisecond)
	polling.Close()
	calls := fetcher.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.Calls())
}

func TestDefaultPollIntervals(t *testing.T) {
	assert.Equal(t, DefaultIncidentPollInterval, NewController(Config{Kind: models.FeedIncidents}).interval)
	assert.Equal(t, DefaultMetricsPollInterval, NewController(Config{Kind: models.FeedMetrics}).interval)
}
