package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/config"
)

// AnalysisClient calls the four pipeline stage collaborators.
type AnalysisClient struct {
	client        *jsonClient
	analyzePath   string
	predictPath   string
	searchPath    string
	recommendPath string
	cache         cache.Provider
	knowledgeTTL  time.Duration
	logger        *slog.Logger
}

// NewAnalysisClient constructs a client for the configured collaborators.
// Knowledge search results are cached for knowledgeTTL when a cache is supplied.
func NewAnalysisClient(cfg config.AnalysisClientConfig, knowledgeTTL time.Duration, opts ...Option) *AnalysisClient {
	o := buildOptions(cfg.Timeout, opts)
	return &AnalysisClient{
		client:        newJSONClient(cfg.BaseURL, "", o),
		analyzePath:   cfg.AnalyzePath,
		predictPath:   cfg.PredictPath,
		searchPath:    cfg.SearchPath,
		recommendPath: cfg.RecommendPath,
		cache:         o.cache,
		knowledgeTTL:  knowledgeTTL,
		logger:        o.logger,
	}
}

// AnalyzeLogs posts {logs} to the log analyzer.
func (c *AnalysisClient) AnalyzeLogs(ctx context.Context, lines []string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.client.postJSON(ctx, "log analysis", c.client.resolvePath(c.analyzePath), map[string]any{"logs": lines}, &out)
	return out, err
}

// PredictRootCause posts {logs} to the root-cause predictor.
func (c *AnalysisClient) PredictRootCause(ctx context.Context, lines []string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.client.postJSON(ctx, "root cause prediction", c.client.resolvePath(c.predictPath), map[string]any{"logs": lines}, &out)
	return out, err
}

// SearchKnowledge posts {query, top_k} to the knowledge base.
func (c *AnalysisClient) SearchKnowledge(ctx context.Context, query string, topK int) (json.RawMessage, error) {
	key := knowledgeCacheKey(query, topK)
	var cached json.RawMessage
	if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("knowledge cache read failed", slog.Any("error", err))
	}

	var out json.RawMessage
	payload := map[string]any{"query": query, "top_k": topK}
	if err := c.client.postJSON(ctx, "knowledge search", c.client.resolvePath(c.searchPath), payload, &out); err != nil {
		return nil, err
	}

	if c.knowledgeTTL > 0 {
		if err := cache.SetJSON(ctx, c.cache, key, out, c.knowledgeTTL); err != nil {
			c.logger.Warn("knowledge cache write failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// RecommendActions posts {root_cause} to the action recommender.
func (c *AnalysisClient) RecommendActions(ctx context.Context, rootCause string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.client.postJSON(ctx, "action recommendation", c.client.resolvePath(c.recommendPath), map[string]any{"root_cause": rootCause}, &out)
	return out, err
}

func knowledgeCacheKey(query string, topK int) string {
	sum := sha256.Sum256([]byte(query))
	return "incident-console:knowledge:" + strconv.Itoa(topK) + ":" + hex.EncodeToString(sum[:16])
}
