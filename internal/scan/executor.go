package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/incident-console/internal/metrics"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/patterns"
	"github.com/miradorstack/incident-console/internal/utils"
)

// Scanner submits a batch scan to the collaborator.
type Scanner interface {
	ScanLogs(ctx context.Context, req models.ScanRequest) (json.RawMessage, error)
}

// Executor runs one scan at a time on behalf of the operator.
type Executor struct {
	scanner  Scanner
	notifier notify.Notifier
	logger   *slog.Logger
	validate *validator.Validate
	miner    *patterns.Miner
}

// NewExecutor constructs an Executor.
func NewExecutor(logger *slog.Logger, scanner Scanner, notifier notify.Notifier) *Executor {
	logger = utils.OrDefault(logger)
	return &Executor{
		scanner:  scanner,
		notifier: notify.OrDiscard(notifier),
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		miner:    patterns.NewMiner(logger, patterns.DefaultLimit),
	}
}

// Validate checks req without contacting the collaborator.
func (e *Executor) Validate(req models.ScanRequest) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return utils.NewValidationError("", err.Error())
	}
	fe := fieldErrs[0]
	field, _, _ := strings.Cut(fe.StructField(), "[")
	switch field {
	case "Cluster":
		return utils.NewValidationError("cluster", "is required")
	case "Namespaces":
		return utils.NewValidationError("namespaces", "at least one namespace is required")
	case "LogLevels":
		if fe.Tag() == "min" {
			return utils.NewValidationError("logLevels", "at least one log level is required")
		}
		return utils.NewValidationError("logLevels", fmt.Sprintf("unsupported log level %v", fe.Value()))
	case "TimeRangeMinutes":
		return utils.NewValidationError("timeRangeMinutes", "must be at least 1")
	case "MaxLinesPerPod":
		return utils.NewValidationError("maxLinesPerPod", "must be at least 1")
	default:
		return utils.NewValidationError(fe.Field(), "failed "+fe.Tag())
	}
}

// Execute validates req, submits it and normalises the response.
func (e *Executor) Execute(ctx context.Context, req models.ScanRequest) (models.ScanResult, error) {
	if err := e.Validate(req); err != nil {
		metrics.ObserveScan(metrics.OutcomeError)
		return models.ScanResult{}, err
	}

	start := time.Now()
	raw, err := e.scanner.ScanLogs(ctx, req)
	if err != nil {
		metrics.ObserveScan(metrics.OutcomeError)
		e.notifier.Notify(notify.LevelError, "Scan failed: "+err.Error())
		return models.ScanResult{}, fmt.Errorf("scan %s: %w", req.Cluster, err)
	}

	result, err := Normalize(raw)
	if err != nil {
		metrics.ObserveScan(metrics.OutcomeError)
		e.notifier.Notify(notify.LevelError, "Scan returned an unreadable response")
		return models.ScanResult{}, err
	}
	result.Patterns = e.miner.MineEntries(result.Entries)
	metrics.ObserveScan(metrics.OutcomeSuccess)
	e.logger.Info("scan completed",
		slog.String("cluster", req.Cluster),
		slog.Int("entries", len(result.Entries)),
		slog.Int("pods_scanned", result.PodsScanned),
		slog.Int("patterns", len(result.Patterns)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if len(result.Errors) > 0 {
		e.notifier.Notify(notify.LevelWarning, fmt.Sprintf("Scan finished with %d pod errors", len(result.Errors)))
	} else {
		e.notifier.Notify(notify.LevelSuccess, fmt.Sprintf("Scan finished: %d log lines", len(result.Entries)))
	}
	return result, nil
}

type resultWire struct {
	Log             string          `json:"log"`
	Analysis        json.RawMessage `json:"analysis"`
	RootCause       json.RawMessage `json:"root_cause"`
	Knowledge       json.RawMessage `json:"knowledge"`
	Recommendations json.RawMessage `json:"recommendations"`
}

type responseWire struct {
	Results         *[]resultWire   `json:"results"`
	Logs            []string        `json:"logs"`
	Analysis        json.RawMessage `json:"analysis"`
	RootCause       json.RawMessage `json:"root_cause"`
	Knowledge       json.RawMessage `json:"knowledge"`
	Recommendations json.RawMessage `json:"recommendations"`
	PodsScanned     int             `json:"pods_scanned"`
	Errors          json.RawMessage `json:"errors"`
}

// Normalize accepts either the per-line {results:[...]} response or the
// legacy batch response and returns one entry per log line.
func Normalize(raw json.RawMessage) (models.ScanResult, error) {
	var w responseWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ScanResult{}, &utils.MalformedPayloadError{Transport: "scan", Err: err}
	}

	result := models.ScanResult{PodsScanned: w.PodsScanned, Errors: decodeErrors(w.Errors)}
	if w.Results != nil {
		result.Entries = make([]models.ScanEntry, 0, len(*w.Results))
		for _, r := range *w.Results {
			result.Entries = append(result.Entries, models.ScanEntry{
				Log:             r.Log,
				Analysis:        present(r.Analysis),
				RootCause:       present(r.RootCause),
				Knowledge:       present(r.Knowledge),
				Recommendations: present(r.Recommendations),
			})
		}
		return result, nil
	}

	result.Legacy = true
	result.Entries = make([]models.ScanEntry, 0, len(w.Logs))
	for _, line := range w.Logs {
		result.Entries = append(result.Entries, models.ScanEntry{
			Log:             line,
			Analysis:        present(w.Analysis),
			RootCause:       present(w.RootCause),
			Knowledge:       present(w.Knowledge),
			Recommendations: present(w.Recommendations),
		})
	}
	return result, nil
}

// decodeErrors accepts a list of strings, a list of objects or a single string.
func decodeErrors(raw json.RawMessage) []string {
	raw = present(raw)
	if raw == nil {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		list = []json.RawMessage{raw}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		out = append(out, string(item))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func present(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
