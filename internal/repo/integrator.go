package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/config"
)

// Escalation is the payload accepted by the incident integrator.
type Escalation struct {
	Summary    string `json:"error_summary"`
	Details    string `json:"error_details"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
}

// IntegratorClient forwards escalations to the incident integrator.
type IntegratorClient struct {
	client      *jsonClient
	url         string
	cache       cache.Provider
	logger      *slog.Logger
	dedupWindow time.Duration
}

// NewIntegratorClient returns nil when no integrator URL is configured.
// With a shared cache, console instances claim each summary before posting
// it so the same incident is filed once per dedupe window.
func NewIntegratorClient(cfg config.IntegratorClientConfig, opts ...Option) *IntegratorClient {
	if cfg.URL == "" {
		return nil
	}
	o := buildOptions(cfg.Timeout, opts)
	return &IntegratorClient{
		client:      newJSONClient(cfg.URL, "", o),
		url:         cfg.URL,
		cache:       o.cache,
		logger:      o.logger,
		dedupWindow: cfg.DedupeWindow,
	}
}

// ReportIncident posts one escalation. It returns nil without posting when
// the summary was already reported inside the dedupe window.
func (c *IntegratorClient) ReportIncident(ctx context.Context, e Escalation) error {
	key, claimed := c.claim(ctx, e.Summary)
	if !claimed {
		c.logger.Debug("escalation already reported", slog.String("key", key))
		return nil
	}
	if err := c.client.postJSON(ctx, "report incident", c.url, e, nil); err != nil {
		if key != "" {
			if delErr := c.cache.Del(ctx, key); delErr != nil {
				c.logger.Warn("escalation claim release failed", slog.Any("error", delErr))
			}
		}
		return err
	}
	return nil
}

// claim reserves summary for the dedupe window. Cache errors fail open.
func (c *IntegratorClient) claim(ctx context.Context, summary string) (string, bool) {
	if c.dedupWindow <= 0 {
		return "", true
	}
	sum := sha256.Sum256([]byte(summary))
	key := "incident-console:escalation:" + hex.EncodeToString(sum[:16])
	ok, err := c.cache.SetNX(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), c.dedupWindow)
	if err != nil {
		c.logger.Warn("escalation claim failed", slog.Any("error", err))
		return "", true
	}
	return key, ok
}
