package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorderForwardsAndDrains(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := NewRecorder(NewLogNotifier(logger))

	rec.Notify(LevelSuccess, "Job created")
	rec.Notify(LevelError, "Failed to delete job")

	assert.Equal(t, []Message{{LevelSuccess, "Job created"}, {LevelError, "Failed to delete job"}}, rec.Drain())
	assert.Empty(t, rec.Drain())
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "Job created")
}

func TestNilFuncIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { OrDiscard(nil).Notify(LevelInfo, "ignored") })

	var got string
	Func(func(_ Level, msg string) { got = msg }).Notify(LevelInfo, "hello")
	assert.Equal(t, "hello", got)
}
