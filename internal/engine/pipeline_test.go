package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/repo"
	"github.com/miradorstack/incident-console/internal/utils"
)

type call struct {
	stage models.Stage
	arg   string
}

type fakeCollaborators struct {
	mu        sync.Mutex
	calls     []call
	analysis  string
	predict   string
	failAt    models.Stage
	failErr   error
	blockAt   models.Stage
	blocked   chan struct{}
	searchArg []int
}

func (f *fakeCollaborators) record(stage models.Stage, arg string) {
	f.mu.Lock()
	f.calls = append(f.calls, call{stage: stage, arg: arg})
	f.mu.Unlock()
}

func (f *fakeCollaborators) respond(ctx context.Context, stage models.Stage, body *string) (json.RawMessage, error) {
	f.mu.Lock()
	blockAt, blocked := f.blockAt, f.blocked
	if blockAt == stage {
		f.blocked = nil
	}
	failAt, failErr, payload := f.failAt, f.failErr, *body
	f.mu.Unlock()

	if blockAt == stage {
		if blocked != nil {
			close(blocked)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failAt == stage {
		return nil, failErr
	}
	return json.RawMessage(payload), nil
}

func (f *fakeCollaborators) AnalyzeLogs(ctx context.Context, lines []string) (json.RawMessage, error) {
	f.record(models.StageLogAnalysis, lines[0])
	return f.respond(ctx, models.StageLogAnalysis, &f.analysis)
}

func (f *fakeCollaborators) PredictRootCause(ctx context.Context, lines []string) (json.RawMessage, error) {
	f.record(models.StageRootCausePrediction, lines[0])
	return f.respond(ctx, models.StageRootCausePrediction, &f.predict)
}

func (f *fakeCollaborators) SearchKnowledge(ctx context.Context, query string, topK int) (json.RawMessage, error) {
	f.record(models.StageKnowledgeSearch, query)
	f.mu.Lock()
	f.searchArg = append(f.searchArg, topK)
	f.mu.Unlock()
	body := `[{"title":"runbook"}]`
	return f.respond(ctx, models.StageKnowledgeSearch, &body)
}

func (f *fakeCollaborators) RecommendActions(ctx context.Context, rootCause string) (json.RawMessage, error) {
	f.record(models.StageActionRecommendation, rootCause)
	body := `{"actions":["restart"]}`
	return f.respond(ctx, models.StageActionRecommendation, &body)
}

func (f *fakeCollaborators) callsFor(stage models.Stage) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var args []string
	for _, c := range f.calls {
		if c.stage == stage {
			args = append(args, c.arg)
		}
	}
	return args
}

type fakeEscalator struct {
	reports chan repo.Escalation
	err     error
}

func (f *fakeEscalator) ReportIncident(_ context.Context, e repo.Escalation) error {
	f.reports <- e
	return f.err
}

func TestPipelineEndToEnd(t *testing.T) {
	collab := &fakeCollaborators{analysis: `{"result":"fail"}`, predict: `{"root_cause":"db-timeout"}`}
	rec := notify.NewRecorder(nil)
	p := NewPipeline(nil, collab, nil, nil, rec, 5)

	run, err := p.Run(context.Background(), []string{"2024-07-07 ERROR Database connection failed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.CurrentStage != models.RunAllDone {
		t.Fatalf("expected all_done, got %s", run.CurrentStage)
	}
	if run.FailedStage != nil {
		t.Fatalf("expected no failed stage")
	}
	for _, stage := range models.Stages {
		if len(run.Result(stage)) == 0 {
			t.Fatalf("missing result for %s", stage)
		}
	}
	if got := collab.callsFor(models.StageKnowledgeSearch); len(got) != 1 || got[0] != "db-timeout" {
		t.Fatalf("expected search with db-timeout, got %v", got)
	}
	if got := collab.callsFor(models.StageActionRecommendation); len(got) != 1 || got[0] != "db-timeout" {
		t.Fatalf("expected recommendation with db-timeout, got %v", got)
	}
	if collab.searchArg[0] != 5 {
		t.Fatalf("expected top_k 5, got %d", collab.searchArg[0])
	}
	if run.SearchQuery != "db-timeout" || run.ID == "" {
		t.Fatalf("unexpected run metadata: %+v", run)
	}
	if msgs := rec.Drain(); len(msgs) != 1 || msgs[0].Level != notify.LevelSuccess {
		t.Fatalf("expected one success notification, got %v", msgs)
	}

	current, ok := p.Current()
	if !ok || current.ID != run.ID {
		t.Fatalf("expected current run to match returned run")
	}
}

func TestPipelineSearchesPredictionNotRawLine(t *testing.T) {
	collab := &fakeCollaborators{analysis: `{}`, predict: `{"root_cause":"X","confidence":0.4}`}
	p := NewPipeline(nil, collab, nil, nil, nil, 0)

	if _, err := p.Run(context.Background(), []string{"ERROR a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collab.callsFor(models.StageKnowledgeSearch); len(got) != 1 || got[0] != "X" {
		t.Fatalf("expected query X, got %v", got)
	}
	if got := collab.callsFor(models.StageRootCausePrediction); got[0] != "ERROR a" {
		t.Fatalf("prediction must receive the raw lines, got %v", got)
	}
}

func TestPipelineStageOneFailureStopsSequence(t *testing.T) {
	remote := &utils.RemoteError{Op: "log analysis", Status: 503, Msg: "collaborator returned 503 Service Unavailable"}
	collab := &fakeCollaborators{failAt: models.StageLogAnalysis, failErr: remote}
	rec := notify.NewRecorder(nil)
	p := NewPipeline(nil, collab, nil, nil, rec, 0)

	run, err := p.Run(context.Background(), []string{"ERROR a"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != models.StageLogAnalysis {
		t.Fatalf("expected stage error for log analysis, got %v", err)
	}
	if err.Error() != remote.Error() {
		t.Fatalf("expected verbatim message %q, got %q", remote.Error(), err.Error())
	}
	for _, stage := range models.Stages[1:] {
		if n := len(collab.callsFor(stage)); n != 0 {
			t.Fatalf("stage %s invoked %d times after failure", stage, n)
		}
	}
	if run.CurrentStage != models.RunFailed || run.FailedStage == nil || *run.FailedStage != models.StageLogAnalysis {
		t.Fatalf("unexpected run state: %+v", run)
	}
	if run.Error != remote.Error() {
		t.Fatalf("expected run error %q, got %q", remote.Error(), run.Error)
	}
	msgs := rec.Drain()
	if len(msgs) != 1 || msgs[0].Level != notify.LevelError {
		t.Fatalf("expected one error notification, got %v", msgs)
	}
}

func TestPipelineKeepsPartialResults(t *testing.T) {
	collab := &fakeCollaborators{
		analysis: `{"result":"fail"}`,
		predict:  `{"prediction":"disk pressure"}`,
		failAt:   models.StageKnowledgeSearch,
		failErr:  errors.New("knowledge base offline"),
	}
	p := NewPipeline(nil, collab, nil, nil, nil, 0)

	run, err := p.Run(context.Background(), []string{"WARN disk 95%"})
	if err == nil || err.Error() != "knowledge base offline" {
		t.Fatalf("expected knowledge base error, got %v", err)
	}
	if len(run.Result(models.StageLogAnalysis)) == 0 || len(run.Result(models.StageRootCausePrediction)) == 0 {
		t.Fatalf("expected earlier stage results to be retained")
	}
	if run.Result(models.StageKnowledgeSearch) != nil || run.Result(models.StageActionRecommendation) != nil {
		t.Fatalf("expected no results past the failure")
	}
	if run.SearchQuery != "disk pressure" {
		t.Fatalf("expected prediction field to be used, got %q", run.SearchQuery)
	}
	if n := len(collab.callsFor(models.StageActionRecommendation)); n != 0 {
		t.Fatalf("recommendation invoked %d times", n)
	}
}

func TestPipelineRejectsEmptyInput(t *testing.T) {
	collab := &fakeCollaborators{}
	p := NewPipeline(nil, collab, nil, nil, nil, 0)

	_, err := p.Run(context.Background(), []string{"", "   ", "\n"})
	if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(collab.calls) != 0 {
		t.Fatalf("expected no collaborator calls, got %d", len(collab.calls))
	}
	if _, ok := p.Current(); ok {
		t.Fatalf("rejected input must not create a run")
	}
}

func TestPipelineSupersededRunCannotOverwriteCurrent(t *testing.T) {
	blocked := make(chan struct{})
	slow := &fakeCollaborators{blockAt: models.StageLogAnalysis, blocked: blocked}
	p := NewPipeline(nil, slow, nil, nil, nil, 0)

	firstDone := make(chan models.PipelineRun, 1)
	go func() {
		run, _ := p.Run(context.Background(), []string{"ERROR first"})
		firstDone <- run
	}()
	<-blocked

	slow.mu.Lock()
	slow.blockAt = ""
	slow.analysis = `{}`
	slow.predict = `{"root_cause":"second"}`
	slow.mu.Unlock()

	second, err := p.Run(context.Background(), []string{"ERROR second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var first models.PipelineRun
	select {
	case first = <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded run was not cancelled")
	}
	if first.CurrentStage != models.RunFailed {
		t.Fatalf("expected superseded run to fail, got %s", first.CurrentStage)
	}

	current, _ := p.Current()
	if current.ID != second.ID || current.CurrentStage != models.RunAllDone {
		t.Fatalf("current run should be the second run, got %+v", current)
	}
	if current.InputLines[0] != "ERROR second" {
		t.Fatalf("stale input leaked into current run: %v", current.InputLines)
	}
}

func TestPipelineResetCancelsInFlightRun(t *testing.T) {
	blocked := make(chan struct{})
	slow := &fakeCollaborators{blockAt: models.StageRootCausePrediction, blocked: blocked, analysis: `{}`}
	p := NewPipeline(nil, slow, nil, nil, nil, 0)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), []string{"ERROR slow"})
		done <- err
	}()
	<-blocked

	p.Reset()
	if _, ok := p.Current(); ok {
		t.Fatalf("expected no current run after reset")
	}

	select {
	case err := <-done:
		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != models.StageRootCausePrediction {
			t.Fatalf("expected cancelled prediction stage, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reset did not cancel the in-flight run")
	}
}

func TestPipelineEscalatesCodeDefects(t *testing.T) {
	collab := &fakeCollaborators{analysis: `{}`, predict: `{"root_cause":"NullPointerException in OrderService"}`}
	esc := &fakeEscalator{reports: make(chan repo.Escalation, 1)}
	p := NewPipeline(nil, collab, DefaultEscalationRules(nil), esc, nil, 0)

	run, err := p.Run(context.Background(), []string{"ERROR npe", "at OrderService.java:42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !run.Escalated {
		t.Fatalf("expected run to be marked escalated")
	}
	p.Wait()
	report := <-esc.reports
	if report.Summary != "NullPointerException in OrderService" {
		t.Fatalf("unexpected summary %q", report.Summary)
	}
}

func TestPipelineEscalationFailureDoesNotFailRun(t *testing.T) {
	collab := &fakeCollaborators{analysis: `{}`, predict: `{"root_cause":"panic: runtime error"}`}
	esc := &fakeEscalator{reports: make(chan repo.Escalation, 1), err: errors.New("integrator down")}
	p := NewPipeline(nil, collab, DefaultEscalationRules(nil), esc, nil, 0)

	run, err := p.Run(context.Background(), []string{"panic"})
	if err != nil || run.CurrentStage != models.RunAllDone {
		t.Fatalf("escalation failure must not fail the run: %v %s", err, run.CurrentStage)
	}
	p.Wait()
}

func TestPipelineFallbackQueryNeverEscalates(t *testing.T) {
	collab := &fakeCollaborators{analysis: `{}`, predict: `{"confidence":0.1}`}
	esc := &fakeEscalator{reports: make(chan repo.Escalation, 1)}
	p := NewPipeline(nil, collab, DefaultEscalationRules(nil), esc, nil, 0)

	run, err := p.Run(context.Background(), []string{"ERROR a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.SearchQuery != FallbackQuery || run.Escalated {
		t.Fatalf("expected fallback query without escalation, got %+v", run)
	}
}

func TestExtractSearchQuery(t *testing.T) {
	cases := map[string]string{
		`{"root_cause":"db-timeout"}`:            "db-timeout",
		`{"root_cause":"  ","prediction":"oom"}`: "oom",
		`{"prediction":"oom"}`:                   "oom",
		`{"root_cause":{"nested":true}}`:         FallbackQuery,
		`{}`:                                     FallbackQuery,
		`"just text"`:                            FallbackQuery,
		`not json`:                               FallbackQuery,
	}
	for in, want := range cases {
		if got := ExtractSearchQuery(json.RawMessage(in)); got != want {
			t.Fatalf("ExtractSearchQuery(%s) = %q, want %q", in, got, want)
		}
	}
}
