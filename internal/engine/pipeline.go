package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/incident-console/internal/metrics"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/repo"
	"github.com/miradorstack/incident-console/internal/utils"
)

// FallbackQuery is searched when the prediction carries no usable text.
const FallbackQuery = "error"

const (
	defaultTopK       = 3
	escalationTimeout = 10 * time.Second
	maxDetailLines    = 20
)

// Collaborators are the four stage services the pipeline sequences.
type Collaborators interface {
	AnalyzeLogs(ctx context.Context, lines []string) (json.RawMessage, error)
	PredictRootCause(ctx context.Context, lines []string) (json.RawMessage, error)
	SearchKnowledge(ctx context.Context, query string, topK int) (json.RawMessage, error)
	RecommendActions(ctx context.Context, rootCause string) (json.RawMessage, error)
}

// Escalator files incidents with the incident integrator.
type Escalator interface {
	ReportIncident(ctx context.Context, e repo.Escalation) error
}

// StageError reports the stage that halted a run. Its message is the
// collaborator error, unchanged.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// StageLabel is the operator-facing name of stage.
func StageLabel(stage models.Stage) string {
	switch stage {
	case models.StageLogAnalysis:
		return "Log analysis"
	case models.StageRootCausePrediction:
		return "Root cause prediction"
	case models.StageKnowledgeSearch:
		return "Knowledge search"
	case models.StageActionRecommendation:
		return "Action recommendation"
	default:
		return string(stage)
	}
}

// Pipeline runs the four analysis stages strictly in order and stops at the
// first failure.
type Pipeline struct {
	logger        *slog.Logger
	collaborators Collaborators
	rules         *EscalationRules
	escalator     Escalator
	notifier      notify.Notifier
	topK          int
	latency       *utils.LatencyTracker

	mu       sync.RWMutex
	active   *models.PipelineRun
	cancelFn context.CancelFunc
	wg       *sync.WaitGroup
}

// NewPipeline constructs a pipeline. rules and escalator may be nil to disable escalation.
func NewPipeline(
	logger *slog.Logger,
	collaborators Collaborators,
	rules *EscalationRules,
	escalator Escalator,
	notifier notify.Notifier,
	topK int,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Pipeline{
		logger:        logger,
		collaborators: collaborators,
		rules:         rules,
		escalator:     escalator,
		notifier:      notify.OrDiscard(notifier),
		topK:          topK,
		latency:       utils.NewLatencyTracker(256),
		wg:            &sync.WaitGroup{},
	}
}

// Fork returns a pipeline with its own current run that shares p's
// collaborators, rules and escalation tracking. Runs on a fork never
// supersede runs on p or on other forks; Wait on either side covers the
// escalations of both.
func (p *Pipeline) Fork() *Pipeline {
	return &Pipeline{
		logger:        p.logger,
		collaborators: p.collaborators,
		rules:         p.rules,
		escalator:     p.escalator,
		notifier:      p.notifier,
		topK:          p.topK,
		latency:       p.latency,
		wg:            p.wg,
	}
}

// Run analyses lines. A run started while another is in flight supersedes it:
// the older run is cancelled and can no longer change what Current reports.
// On failure the returned run keeps the results of the stages that completed.
func (p *Pipeline) Run(ctx context.Context, lines []string) (models.PipelineRun, error) {
	if p.collaborators == nil {
		return models.PipelineRun{}, fmt.Errorf("pipeline collaborators not configured")
	}
	lines = normalizeLines(lines)
	if len(lines) == 0 {
		return models.PipelineRun{}, utils.NewValidationError("logs", "at least one non-empty log line is required")
	}

	run := &models.PipelineRun{
		ID:           uuid.NewString(),
		InputLines:   lines,
		StageResults: make(map[models.Stage]json.RawMessage, len(models.Stages)),
		CurrentStage: models.RunNotStarted,
		StartedAt:    time.Now().UTC(),
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.activate(run, cancel)

	logger := p.logger.With(slog.String("run_id", run.ID))
	logger.Info("pipeline run started", slog.Int("lines", len(lines)))

	for _, stage := range models.Stages {
		p.update(func() { run.CurrentStage = models.StageRunning(stage) })

		started := time.Now()
		result, err := p.invoke(runCtx, stage, run)
		p.latency.Observe(string(stage), time.Since(started))

		if err != nil {
			return p.fail(logger, run, stage, err)
		}

		p.update(func() {
			run.StageResults[stage] = result
			if stage == models.StageRootCausePrediction {
				run.SearchQuery = ExtractSearchQuery(result)
			}
			run.CurrentStage = models.StageDone(stage)
		})
		logger.Debug("pipeline stage done", slog.String("stage", string(stage)), slog.Duration("took", time.Since(started)))
	}

	escalate := p.shouldEscalate(run.SearchQuery)
	p.update(func() {
		run.CurrentStage = models.RunAllDone
		run.FinishedAt = time.Now().UTC()
		run.Escalated = escalate
	})
	if escalate {
		p.escalate(ctx, logger, run)
	}

	metrics.ObservePipelineRun(run.FinishedAt.Sub(run.StartedAt), metrics.OutcomeSuccess)
	logger.Info("pipeline run complete",
		slog.String("query", run.SearchQuery),
		slog.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
		slog.Duration("search_p95", p.latency.Percentile(string(models.StageKnowledgeSearch), 95)),
	)
	if p.isActive(run.ID) {
		p.notifier.Notify(notify.LevelSuccess, "Incident analysis complete")
	}
	return p.snapshot(run), nil
}

// Current returns a copy of the most recently started run.
func (p *Pipeline) Current() (models.PipelineRun, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return models.PipelineRun{}, false
	}
	return p.active.Clone(), true
}

// Reset discards the current run, cancelling it if still in flight.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelFn != nil {
		p.cancelFn()
	}
	p.active = nil
	p.cancelFn = nil
}

// Wait blocks until background escalations have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) activate(run *models.PipelineRun, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelFn != nil {
		p.cancelFn()
	}
	p.active = run
	p.cancelFn = cancel
}

func (p *Pipeline) isActive(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active != nil && p.active.ID == id
}

// update applies fn to a run under the lock that guards Current readers.
func (p *Pipeline) update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *Pipeline) snapshot(run *models.PipelineRun) models.PipelineRun {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return run.Clone()
}

func (p *Pipeline) invoke(ctx context.Context, stage models.Stage, run *models.PipelineRun) (json.RawMessage, error) {
	switch stage {
	case models.StageLogAnalysis:
		return p.collaborators.AnalyzeLogs(ctx, run.InputLines)
	case models.StageRootCausePrediction:
		return p.collaborators.PredictRootCause(ctx, run.InputLines)
	case models.StageKnowledgeSearch:
		return p.collaborators.SearchKnowledge(ctx, p.query(run), p.topK)
	case models.StageActionRecommendation:
		return p.collaborators.RecommendActions(ctx, p.query(run))
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func (p *Pipeline) query(run *models.PipelineRun) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return run.SearchQuery
}

func (p *Pipeline) fail(logger *slog.Logger, run *models.PipelineRun, stage models.Stage, err error) (models.PipelineRun, error) {
	p.update(func() {
		failed := stage
		run.CurrentStage = models.RunFailed
		run.FailedStage = &failed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()
	})

	metrics.ObserveStageFailure(stage)
	metrics.ObservePipelineRun(run.FinishedAt.Sub(run.StartedAt), metrics.OutcomeError)
	logger.Error("pipeline stage failed", slog.String("stage", string(stage)), slog.Any("error", err))
	if p.isActive(run.ID) {
		p.notifier.Notify(notify.LevelError, fmt.Sprintf("%s failed: %s", StageLabel(stage), err.Error()))
	}
	return p.snapshot(run), &StageError{Stage: stage, Err: err}
}

func (p *Pipeline) shouldEscalate(query string) bool {
	if p.escalator == nil || p.rules == nil || query == FallbackQuery {
		return false
	}
	_, ok := p.rules.Match(query)
	return ok
}

// escalate files the incident in the background; its outcome never changes the run.
func (p *Pipeline) escalate(ctx context.Context, logger *slog.Logger, run *models.PipelineRun) {
	rule, _ := p.rules.Match(run.SearchQuery)
	summary := run.SearchQuery
	if rule.Summary != "" {
		summary = rule.Summary + ": " + run.SearchQuery
	}
	details := run.InputLines
	if len(details) > maxDetailLines {
		details = details[:maxDetailLines]
	}
	escalation := repo.Escalation{
		Summary: summary,
		Details: run.SearchQuery + "\n\n" + strings.Join(details, "\n"),
	}

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		escCtx, cancel := context.WithTimeout(bg, escalationTimeout)
		defer cancel()
		if err := p.escalator.ReportIncident(escCtx, escalation); err != nil {
			logger.Warn("incident escalation failed", slog.String("rule", rule.ID), slog.Any("error", err))
			return
		}
		logger.Info("incident escalated", slog.String("rule", rule.ID))
	}()
}

// ExtractSearchQuery picks the text used for knowledge search and
// recommendation from a prediction payload: root_cause, then prediction,
// then FallbackQuery.
func ExtractSearchQuery(prediction json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(prediction, &fields); err != nil {
		return FallbackQuery
	}
	for _, key := range []string{"root_cause", "prediction"} {
		var text string
		if raw, ok := fields[key]; ok && json.Unmarshal(raw, &text) == nil {
			if text = strings.TrimSpace(text); text != "" {
				return text
			}
		}
	}
	return FallbackQuery
}

func normalizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		for _, part := range strings.Split(line, "\n") {
			part = strings.TrimRight(part, "\r")
			if strings.TrimSpace(part) == "" {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}
