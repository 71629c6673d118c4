package models

import (
	"encoding/json"
	"time"
)

// FeedMode is the transport state of a live feed.
type FeedMode string

const (
	FeedConnecting FeedMode = "connecting"
	FeedLive       FeedMode = "live"
	FeedDegraded   FeedMode = "degraded"
)

// FeedKind selects what a live feed carries.
type FeedKind string

const (
	FeedIncidents FeedKind = "incidents"
	FeedMetrics   FeedKind = "metrics"
)

// LiveFeedState is the externally visible state of one live feed.
type LiveFeedState struct {
	Kind           FeedKind        `json:"kind"`
	Mode           FeedMode        `json:"mode"`
	LastEventAt    time.Time       `json:"lastEventAt"`
	LatestSnapshot json.RawMessage `json:"latestSnapshot,omitempty"`
	Transport      string          `json:"transport,omitempty"`
}
