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
)

func TestIntegratorClientDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, NewIntegratorClient(config.IntegratorClientConfig{}))
}

func TestIntegratorDedupesRepeatedSummaries(t *testing.T) {
	posts := 0
	status := http.StatusOK
	cfg := config.IntegratorClientConfig{URL: "http://integrator.test/report", Timeout: time.Second, DedupeWindow: time.Minute}
	client := NewIntegratorClient(cfg,
		WithCache(cache.NewMemoryProvider()),
		WithHTTPClient(newTestClient(func(req *http.Request) (*http.Response, error) {
			posts++
			body := decodeBody(t, req)
			assert.Equal(t, "code-defect: NullPointerException", body["error_summary"])
			return jsonResponse(status, `{}`), nil
		})),
	)
	ctx := context.Background()
	esc := Escalation{Summary: "code-defect: NullPointerException", Details: "trace"}

	status = http.StatusBadGateway
	require.Error(t, client.ReportIncident(ctx, esc))

	status = http.StatusOK
	require.NoError(t, client.ReportIncident(ctx, esc), "a failed post releases its claim")
	require.NoError(t, client.ReportIncident(ctx, esc))
	assert.Equal(t, 2, posts)
}

func TestIntegratorWithoutWindowAlwaysPosts(t *testing.T) {
	posts := 0
	cfg := config.IntegratorClientConfig{URL: "http://integrator.test/report", Timeout: time.Second}
	client := NewIntegratorClient(cfg,
		WithCache(cache.NewMemoryProvider()),
		WithHTTPClient(newTestClient(func(*http.Request) (*http.Response, error) {
			posts++
			return jsonResponse(http.StatusOK, `{}`), nil
		})),
	)
	for i := 0; i < 3; i++ {
		require.NoError(t, client.ReportIncident(context.Background(), Escalation{Summary: "crash"}))
	}
	assert.Equal(t, 3, posts)
}
