package analytics

import (
	"math"
	"sort"
)

const (
	// SpikeThreshold is the deviation score at which a day counts as a spike.
	SpikeThreshold = 3.0
	minSpikeDays   = 3
)

// TrendSpike flags a day whose incident volume deviates sharply from the
// median day.
type TrendSpike struct {
	Date          string  `json:"date"`
	IncidentCount int     `json:"incidentCount"`
	Baseline      float64 `json:"baseline"`
	Score         float64 `json:"score"`
}

// Spikes scores each dated trend point against the median daily volume using
// the mean absolute deviation. Only days above the median are reported, and
// fewer than three dated days never produce a spike.
func Spikes(points []TrendPoint) []TrendSpike {
	dated := make([]TrendPoint, 0, len(points))
	for _, p := range points {
		if p.Date != UnknownDay {
			dated = append(dated, p)
		}
	}
	if len(dated) < minSpikeDays {
		return []TrendSpike{}
	}

	counts := make([]float64, 0, len(dated))
	for _, p := range dated {
		counts = append(counts, float64(p.IncidentCount))
	}
	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}

	spikes := make([]TrendSpike, 0)
	for _, p := range dated {
		delta := float64(p.IncidentCount) - median
		if delta <= 0 {
			continue
		}
		if score := delta / mad; score >= SpikeThreshold {
			spikes = append(spikes, TrendSpike{
				Date:          p.Date,
				IncidentCount: p.IncidentCount,
				Baseline:      median,
				Score:         score,
			})
		}
	}
	return spikes
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
