// Package livefeed keeps the latest telemetry or incident snapshot from a
// push stream, falling back to polling the pull endpoint once the stream fails.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/incident-console/internal/metrics"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

// Transport names reported in LiveFeedState.Transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportPoll      = "poll"
)

// Default poll intervals per feed kind.
const (
	DefaultIncidentPollInterval = 5 * time.Second
	DefaultMetricsPollInterval  = 30 * time.Second
)

var errNoStream = errors.New("no push stream configured")

// Stream opens a push subscription.
type Stream interface {
	Open(ctx context.Context) (Conn, error)
	Transport() string
}

// Conn is an open push subscription. Next blocks until a message arrives.
type Conn interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Fetcher is the pull-equivalent of a Stream.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Config configures a Controller.
type Config struct {
	Kind         models.FeedKind
	Stream       Stream
	Fetcher      Fetcher
	PollInterval time.Duration
	// Validate rejects payloads that are valid JSON but not the expected shape.
	Validate func(payload []byte) error
	// OnUpdate is called after every state change, outside the controller lock.
	OnUpdate func(models.LiveFeedState)
	Logger   *slog.Logger
}

// Controller drives one live feed. At most one transport is active at a
// time: the push stream first, then the poller once the stream has failed.
// The stream is not reopened after degrading.
type Controller struct {
	kind     models.FeedKind
	stream   Stream
	fetcher  Fetcher
	interval time.Duration
	validate func([]byte) error
	onUpdate func(models.LiveFeedState)
	logger   *slog.Logger

	mu             sync.Mutex
	state          models.LiveFeedState
	pollersStarted int
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewController constructs a Controller in the Connecting mode.
func NewController(cfg Config) *Controller {
	logger := utils.OrDefault(cfg.Logger)
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultIncidentPollInterval
		if cfg.Kind == models.FeedMetrics {
			interval = DefaultMetricsPollInterval
		}
	}
	return &Controller{
		kind:     cfg.Kind,
		stream:   cfg.Stream,
		fetcher:  cfg.Fetcher,
		interval: interval,
		validate: cfg.Validate,
		onUpdate: cfg.OnUpdate,
		logger:   logger.With(slog.String("feed", string(cfg.Kind))),
		state:    models.LiveFeedState{Kind: cfg.Kind, Mode: models.FeedConnecting},
	}
}

// Start begins consuming the feed. It returns immediately; call Close to
// release the subscription and poll timer.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	metrics.SetFeedMode(c.kind, models.FeedConnecting)
	go c.run(ctx)
}

// Close stops the feed and waits until its transport is released.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the feed has stopped. It is nil before Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// State returns a copy of the current feed state.
func (c *Controller) State() models.LiveFeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// PollersStarted reports how many poll timers this controller has started.
func (c *Controller) PollersStarted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollersStarted
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	err := c.consumeStream(ctx)
	if ctx.Err() != nil {
		return
	}
	c.degrade(err)
	c.poll(ctx)
}

func (c *Controller) consumeStream(ctx context.Context) error {
	if c.stream == nil {
		return errNoStream
	}
	conn, err := c.stream.Open(ctx)
	if err != nil {
		return &utils.StreamError{Op: "open", Err: err}
	}
	defer conn.Close()

	transport := c.stream.Transport()
	c.update(func(s *models.LiveFeedState) {
		s.Mode = models.FeedLive
		s.Transport = transport
	})
	metrics.SetFeedMode(c.kind, models.FeedLive)
	c.logger.Info("live feed connected", slog.String("transport", transport))

	for {
		payload, err := conn.Next(ctx)
		if err != nil {
			return &utils.StreamError{Op: "read", Err: err}
		}
		if err := c.check(payload); err != nil {
			merr := &utils.MalformedPayloadError{Transport: transport, Err: err}
			c.logger.Warn("dropping malformed push payload", slog.Any("error", merr))
			metrics.ObserveFeedPayload(c.kind, transport, metrics.OutcomeError)
			return merr
		}
		c.apply(payload, transport)
	}
}

// degrade moves the feed to Degraded. It is a no-op when already degraded.
func (c *Controller) degrade(cause error) {
	c.mu.Lock()
	if c.state.Mode == models.FeedDegraded {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("live feed degraded to polling", slog.Any("error", cause), slog.Duration("interval", c.interval))
	c.update(func(s *models.LiveFeedState) {
		s.Mode = models.FeedDegraded
		s.Transport = TransportPoll
	})
	metrics.SetFeedMode(c.kind, models.FeedDegraded)
}

func (c *Controller) poll(ctx context.Context) {
	if c.fetcher == nil {
		c.logger.Warn("live feed has no poll endpoint")
		<-ctx.Done()
		return
	}

	c.mu.Lock()
	c.pollersStarted++
	c.mu.Unlock()
	metrics.ObservePollerStarted(c.kind)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context) {
	payload, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("live feed poll failed", slog.Any("error", err))
		}
		return
	}
	if err := c.check(payload); err != nil {
		c.logger.Warn("dropping malformed poll payload", slog.Any("error", &utils.MalformedPayloadError{Transport: TransportPoll, Err: err}))
		metrics.ObserveFeedPayload(c.kind, TransportPoll, metrics.OutcomeError)
		return
	}
	c.apply(payload, TransportPoll)
}

func (c *Controller) check(payload []byte) error {
	if !json.Valid(payload) {
		return errors.New("invalid JSON")
	}
	if c.validate != nil {
		return c.validate(payload)
	}
	return nil
}

func (c *Controller) apply(payload []byte, transport string) {
	metrics.ObserveFeedPayload(c.kind, transport, metrics.OutcomeSuccess)
	snapshot := append(json.RawMessage(nil), payload...)
	c.update(func(s *models.LiveFeedState) {
		s.LatestSnapshot = snapshot
		s.LastEventAt = time.Now().UTC()
	})
}

func (c *Controller) update(fn func(*models.LiveFeedState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := cloneState(c.state)
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(snapshot)
	}
}

func cloneState(s models.LiveFeedState) models.LiveFeedState {
	s.LatestSnapshot = append(json.RawMessage(nil), s.LatestSnapshot...)
	return s
}
