package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/models"
)

func trendCounts(counts ...int) []TrendPoint {
	points := make([]TrendPoint, 0, len(counts))
	for i, c := range counts {
		points = append(points, TrendPoint{Date: fmt.Sprintf("2024-07-%02d", i+1), IncidentCount: c})
	}
	return points
}

func TestSpikesFlagsOutlierDay(t *testing.T) {
	spikes := Spikes(trendCounts(1, 1, 2, 1, 9))
	require.Len(t, spikes, 1)
	assert.Equal(t, "2024-07-05", spikes[0].Date)
	assert.Equal(t, 9, spikes[0].IncidentCount)
	assert.Equal(t, 1.0, spikes[0].Baseline)
	assert.InDelta(t, 8/1.8, spikes[0].Score, 1e-9)
}

func TestSpikesIgnoresQuietDays(t *testing.T) {
	assert.Empty(t, Spikes(trendCounts(9, 9, 0, 9, 9)))
	assert.Empty(t, Spikes(trendCounts(2, 2, 2, 2)))
}

func TestSpikesNeedsThreeDatedDays(t *testing.T) {
	points := trendCounts(1, 40)
	points = append(points, TrendPoint{Date: UnknownDay, IncidentCount: 100})
	spikes := Spikes(points)
	assert.NotNil(t, spikes)
	assert.Empty(t, spikes)
}

func TestSummarizeIncludesSpikes(t *testing.T) {
	var incidents []models.Incident
	for d, n := range map[int]int{1: 1, 2: 1, 3: 1, 4: 12} {
		for i := 0; i < n; i++ {
			incidents = append(incidents, models.Incident{Timestamp: day(d), Status: models.StatusOpen})
		}
	}
	summary := Summarize(incidents)
	require.Len(t, summary.Spikes, 1)
	assert.Equal(t, "2024-07-04", summary.Spikes[0].Date)
}
