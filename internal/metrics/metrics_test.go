package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/models"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestFeedModeGauge(t *testing.T) {
	SetFeedMode(models.FeedMetrics, models.FeedDegraded)
	assert.Equal(t, 2.0, testutil.ToFloat64(liveFeedMode.WithLabelValues("metrics")))
	SetFeedMode(models.FeedMetrics, models.FeedLive)
	assert.Equal(t, 1.0, testutil.ToFloat64(liveFeedMode.WithLabelValues("metrics")))
}

func TestOutcomeLabelsCollapse(t *testing.T) {
	before := testutil.ToFloat64(pipelineRunsTotal.WithLabelValues(OutcomeSuccess))
	ObservePipelineRun(-time.Second, "anything")
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineRunsTotal.WithLabelValues(OutcomeSuccess)))
}
