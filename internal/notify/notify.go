// Package notify carries user-visible notifications. Components receive a
// Notifier when they are constructed instead of reaching for a global.
package notify

import (
	"log/slog"
	"sync"

	"github.com/miradorstack/incident-console/internal/metrics"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier delivers a message to whoever presents notifications to the operator.
type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a plain function to Notifier.
type Func func(level Level, message string)

// Notify calls f.
func (f Func) Notify(level Level, message string) {
	if f != nil {
		f(level, message)
	}
}

// Discard drops every notification.
var Discard Notifier = Func(nil)

// OrDiscard returns n, or Discard when n is nil.
func OrDiscard(n Notifier) Notifier {
	if n == nil {
		return Discard
	}
	return n
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs message at a level matching the notification level.
func (n *LogNotifier) Notify(level Level, message string) {
	metrics.ObserveNotification(string(level))
	switch level {
	case LevelError:
		n.logger.Error(message, slog.String("notification", string(level)))
	case LevelWarning:
		n.logger.Warn(message, slog.String("notification", string(level)))
	default:
		n.logger.Info(message, slog.String("notification", string(level)))
	}
}

// Message is one recorded notification.
type Message struct {
	Level Level
	Text  string
}

// Recorder keeps notifications in memory so a front-end can drain them.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	next     Notifier
}

// NewRecorder returns a Recorder that also forwards to next when non-nil.
func NewRecorder(next Notifier) *Recorder {
	return &Recorder{next: next}
}

// Notify records the message.
func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Level: level, Text: message})
	r.mu.Unlock()
	if r.next != nil {
		r.next.Notify(level, message)
	}
}

// Drain returns and clears the recorded messages.
func (r *Recorder) Drain() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.messages
	r.messages = nil
	return out
}
