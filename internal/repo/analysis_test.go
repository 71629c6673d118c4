package repo

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/utils"
)

func analysisConfig() config.AnalysisClientConfig {
	return config.AnalysisClientConfig{
		BaseURL:       "http://gateway.test",
		AnalyzePath:   "/analyze",
		PredictPath:   "/predict",
		SearchPath:    "/search",
		RecommendPath: "/recommend",
		TopK:          3,
		Timeout:       time.Second,
	}
}

func TestAnalysisClientRequestShapes(t *testing.T) {
	var seen []string
	client := NewAnalysisClient(analysisConfig(), 0, WithHTTPClient(newTestClient(func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.URL.Path)
		body := decodeBody(t, req)
		switch req.URL.Path {
		case "/analyze", "/predict":
			assert.Equal(t, []any{"ERROR a"}, body["logs"])
		case "/search":
			assert.Equal(t, "db-timeout", body["query"])
			assert.Equal(t, float64(3), body["top_k"])
		case "/recommend":
			assert.Equal(t, "db-timeout", body["root_cause"])
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	})))

	ctx := context.Background()
	_, err := client.AnalyzeLogs(ctx, []string{"ERROR a"})
	require.NoError(t, err)
	_, err = client.PredictRootCause(ctx, []string{"ERROR a"})
	require.NoError(t, err)
	_, err = client.SearchKnowledge(ctx, "db-timeout", 3)
	require.NoError(t, err)
	out, err := client.RecommendActions(ctx, "db-timeout")
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, []string{"/analyze", "/predict", "/search", "/recommend"}, seen)
}

func TestAnalysisClientSurfacesRemoteError(t *testing.T) {
	client := NewAnalysisClient(analysisConfig(), 0, WithHTTPClient(newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{"error":"model unavailable"}`), nil
	})))

	_, err := client.PredictRootCause(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, utils.IsRemote(err))
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Contains(t, err.Error(), "root cause prediction")
}

func TestSearchKnowledgeUsesCache(t *testing.T) {
	hits := 0
	client := NewAnalysisClient(analysisConfig(), time.Minute,
		WithCache(cache.NewMemoryProvider()),
		WithHTTPClient(newTestClient(func(req *http.Request) (*http.Response, error) {
			hits++
			return jsonResponse(http.StatusOK, `[{"title":"Increase pool size","score":0.9}]`), nil
		})))

	ctx := context.Background()
	first, err := client.SearchKnowledge(ctx, "db-timeout", 3)
	require.NoError(t, err)
	second, err := client.SearchKnowledge(ctx, "db-timeout", 3)
	require.NoError(t, err)
	_, err = client.SearchKnowledge(ctx, "db-timeout", 5)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, 2, hits)
}

func TestUnconfiguredBaseURL(t *testing.T) {
	cfg := analysisConfig()
	cfg.BaseURL = ""
	_, err := NewAnalysisClient(cfg, 0).AnalyzeLogs(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, utils.IsRemote(err))
}
