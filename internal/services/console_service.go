// Package services wires the console subsystems behind the gRPC surface.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-console/internal/analytics"
	"github.com/miradorstack/incident-console/internal/api"
	"github.com/miradorstack/incident-console/internal/jobs"
	"github.com/miradorstack/incident-console/internal/livefeed"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/repo"
	"github.com/miradorstack/incident-console/internal/scan"
	"github.com/miradorstack/incident-console/internal/utils"
)

// Analyzer runs the incident-analysis pipeline.
type Analyzer interface {
	Run(ctx context.Context, lines []string) (models.PipelineRun, error)
}

// Scanner executes on-demand scans.
type Scanner interface {
	Execute(ctx context.Context, req models.ScanRequest) (models.ScanResult, error)
}

// IncidentSource loads the recent incident list.
type IncidentSource interface {
	RecentIncidents(ctx context.Context) ([]models.Incident, error)
}

// Dependencies are the subsystems a ConsoleService fronts. Feeds holds one
// controller template per feed kind; each WatchFeed stream gets its own copy.
// NewAnalyzer returns a run scope; analyses only supersede each other when
// they share a session.
type Dependencies struct {
	NewAnalyzer  func() Analyzer
	Registry     *jobs.Registry
	Scanner      Scanner
	ScanDefaults scan.Defaults
	Incidents    IncidentSource
	Feeds        map[models.FeedKind]livefeed.Config
}

// ConsoleService implements api.ConsoleServer.
type ConsoleService struct {
	logger    *slog.Logger
	deps      Dependencies
	latencies *utils.LatencyTracker

	mu       sync.Mutex
	calls    map[string]int
	sessions map[string]*analysisSession
}

type analysisSession struct {
	analyzer Analyzer
	inflight int
}

var _ api.ConsoleServer = (*ConsoleService)(nil)

// NewConsoleService constructs the console facade.
func NewConsoleService(logger *slog.Logger, deps Dependencies) *ConsoleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleService{
		logger:    logger,
		deps:      deps,
		latencies: utils.NewLatencyTracker(1024),
		calls:     make(map[string]int),
		sessions:  make(map[string]*analysisSession),
	}
}

type analyzeRequest struct {
	Logs      []string `json:"logs"`
	Text      string   `json:"text"`
	SessionID string   `json:"sessionId"`
}

// AnalyzeLogs runs the pipeline over the submitted lines. A stage failure is
// returned as Aborted with the partial run attached to the status details.
// A call carrying the sessionId of an in-flight analysis cancels that
// analysis; calls without one never affect each other.
func (s *ConsoleService) AnalyzeLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.NewAnalyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in analyzeRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}
	lines := in.Logs
	if len(lines) == 0 && in.Text != "" {
		lines = strings.Split(in.Text, "\n")
	}

	analyzer, release := s.acquireAnalyzer(in.SessionID)
	defer release()

	start := time.Now()
	run, err := analyzer.Run(ctx, lines)
	s.observe("analyze", time.Since(start))
	if err != nil {
		if run.ID == "" {
			return nil, api.ToStatus(err, nil)
		}
		s.logger.Warn("analysis run failed", slog.String("run_id", run.ID), slog.Any("error", err))
		return nil, api.ToStatus(err, run)
	}
	return encode(run)
}

func (s *ConsoleService) acquireAnalyzer(session string) (Analyzer, func()) {
	if session == "" {
		return s.deps.NewAnalyzer(), func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[session]
	if !ok {
		sess = &analysisSession{analyzer: s.deps.NewAnalyzer()}
		s.sessions[session] = sess
	}
	sess.inflight++
	return sess.analyzer, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sess.inflight--; sess.inflight == 0 {
			delete(s.sessions, session)
		}
	}
}

type listJobsRequest struct {
	Refresh bool `json:"refresh"`
}

type listJobsResponse struct {
	Jobs        []models.ScheduledJob `json:"jobs"`
	Rows        []jobs.JobRow         `json:"rows"`
	RefreshedAt time.Time             `json:"refreshedAt"`
	Stale       bool                  `json:"stale"`
	Error       string                `json:"error,omitempty"`
}

// ListJobs returns the canonical job list, refreshing it when asked or when
// it has never been loaded. A failed refresh serves the previous list marked
// stale.
func (s *ConsoleService) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	var in listJobsRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}

	var resp listJobsResponse
	refreshedAt, _ := s.deps.Registry.Status()
	if in.Refresh || refreshedAt.IsZero() {
		if _, err := s.deps.Registry.List(ctx); err != nil {
			if refreshedAt.IsZero() {
				return nil, api.ToStatus(err, nil)
			}
			resp.Stale = true
			resp.Error = err.Error()
		}
	}
	resp.Jobs = s.deps.Registry.Jobs()
	resp.Rows = s.deps.Registry.Rows()
	resp.RefreshedAt, _ = s.deps.Registry.Status()
	return encode(resp)
}

type jobRequest struct {
	ID    string      `json:"id"`
	Draft *jobs.Draft `json:"draft"`
}

func (r jobRequest) draft() (jobs.Draft, error) {
	if r.Draft == nil {
		return jobs.Draft{}, utils.NewValidationError("draft", "is required")
	}
	return *r.Draft, nil
}

type jobResponse struct {
	Job models.ScheduledJob `json:"job"`
	Row jobs.JobRow         `json:"row"`
}

// CreateJob validates and stores a new job.
func (s *ConsoleService) CreateJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	var in jobRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}
	draft, err := in.draft()
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	job, err := s.deps.Registry.Create(ctx, draft)
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	return encode(jobResponse{Job: job, Row: jobs.Present(job)})
}

// UpdateJob replaces the writable fields of an existing job.
func (s *ConsoleService) UpdateJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	var in jobRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}
	draft, err := in.draft()
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	job, err := s.deps.Registry.Update(ctx, in.ID, draft)
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	return encode(jobResponse{Job: job, Row: jobs.Present(job)})
}

// DeleteJob removes a job. Deleting an unknown job succeeds.
func (s *ConsoleService) DeleteJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	var in jobRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}
	if err := s.deps.Registry.Delete(ctx, in.ID); err != nil {
		return nil, api.ToStatus(err, nil)
	}
	return encode(map[string]any{"id": in.ID, "deleted": true})
}

type prepareEditRequest struct {
	ID        string `json:"id"`
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// PrepareJobEdit returns a hydrated editor state. Without an id it returns a
// create-mode draft, optionally walking the cascade to cluster and namespace.
func (s *ConsoleService) PrepareJobEdit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	var in prepareEditRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}

	var editor *jobs.Editor
	if in.ID != "" {
		e, err := s.deps.Registry.BeginEdit(ctx, in.ID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				return nil, status.Error(codes.NotFound, err.Error())
			}
			return nil, api.ToStatus(err, nil)
		}
		editor = e
	} else {
		editor = s.deps.Registry.BeginCreate()
		if in.Cluster != "" {
			editor.SelectCluster(ctx, in.Cluster)
			if in.Namespace != "" {
				editor.SelectNamespace(ctx, in.Namespace)
			}
		}
	}
	editor.LoadClusters(ctx)
	return encode(map[string]any{"editor": editor.State()})
}

type scanRequest struct {
	JobID   string          `json:"jobId"`
	Request json.RawMessage `json:"request"`
}

// ScanLogs runs one on-demand scan. With a jobId the request is seeded from
// that job and the supplied fields override it.
func (s *ConsoleService) ScanLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Scanner == nil {
		return nil, status.Error(codes.FailedPrecondition, "scanner not configured")
	}
	var in scanRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return nil, api.ToStatus(err, nil)
	}

	base := scan.NewRequest("", s.deps.ScanDefaults)
	if in.JobID != "" {
		if s.deps.Registry == nil {
			return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
		}
		job, err := s.deps.Registry.Find(ctx, in.JobID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				return nil, status.Error(codes.NotFound, err.Error())
			}
			return nil, api.ToStatus(err, nil)
		}
		base = scan.FromJob(job, s.deps.ScanDefaults)
	}
	if len(in.Request) > 0 {
		if err := json.Unmarshal(in.Request, &base); err != nil {
			return nil, api.ToStatus(utils.NewValidationError("request", err.Error()), nil)
		}
	}

	start := time.Now()
	result, err := s.deps.Scanner.Execute(ctx, base)
	s.observe("scan", time.Since(start))
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	return encode(map[string]any{"request": base, "result": result})
}

// GetAnalytics loads recent incidents and returns their aggregate projections.
func (s *ConsoleService) GetAnalytics(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident source not configured")
	}
	incidents, err := s.deps.Incidents.RecentIncidents(ctx)
	if err != nil {
		return nil, api.ToStatus(err, nil)
	}
	return encode(analytics.Summarize(incidents))
}

type watchRequest struct {
	Kind models.FeedKind `json:"kind"`
}

type feedUpdate struct {
	Kind        models.FeedKind    `json:"kind"`
	Mode        models.FeedMode    `json:"mode"`
	Transport   string             `json:"transport,omitempty"`
	LastEventAt *time.Time         `json:"lastEventAt,omitempty"`
	Snapshot    json.RawMessage    `json:"snapshot,omitempty"`
	Analytics   *analytics.Summary `json:"analytics,omitempty"`
}

// WatchFeed streams live feed state until the client goes away. Each stream
// owns one controller, released when the stream ends.
func (s *ConsoleService) WatchFeed(req *structpb.Struct, stream api.Console_WatchFeedServer) error {
	var in watchRequest
	if err := api.DecodeStruct(req, &in); err != nil {
		return api.ToStatus(err, nil)
	}
	if in.Kind == "" {
		in.Kind = models.FeedIncidents
	}
	template, ok := s.deps.Feeds[in.Kind]
	if !ok {
		return status.Errorf(codes.InvalidArgument, "unknown feed kind %q", in.Kind)
	}

	ctx := stream.Context()
	changed := make(chan struct{}, 1)
	cfg := template
	cfg.Kind = in.Kind
	cfg.Logger = s.logger
	cfg.OnUpdate = func(models.LiveFeedState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	controller := livefeed.NewController(cfg)
	controller.Start(ctx)
	defer controller.Close()

	if err := s.sendFeed(stream, controller.State()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := s.sendFeed(stream, controller.State()); err != nil {
				return err
			}
		}
	}
}

func (s *ConsoleService) sendFeed(stream api.Console_WatchFeedServer, state models.LiveFeedState) error {
	msg, err := encode(FeedUpdate(state))
	if err != nil {
		return err
	}
	return stream.Send(msg)
}

// FeedUpdate renders a feed state for watchers. Incident snapshots are
// decoded with the wire translation and re-aggregated.
func FeedUpdate(state models.LiveFeedState) any {
	u := feedUpdate{
		Kind:      state.Kind,
		Mode:      state.Mode,
		Transport: state.Transport,
		Snapshot:  state.LatestSnapshot,
	}
	if !state.LastEventAt.IsZero() {
		t := state.LastEventAt
		u.LastEventAt = &t
	}
	if state.Kind == models.FeedIncidents && len(state.LatestSnapshot) > 0 {
		if incidents, err := repo.DecodeIncidents(state.LatestSnapshot); err == nil {
			summary := analytics.Summarize(incidents)
			u.Analytics = &summary
		}
	}
	return u
}

func (s *ConsoleService) observe(op string, d time.Duration) {
	s.latencies.Observe(op, d)

	s.mu.Lock()
	s.calls[op]++
	calls := s.calls[op]
	s.mu.Unlock()

	// Report every 20th call; the tracker window caps its own sample count.
	if calls%20 == 0 {
		s.logger.Info("console latency",
			slog.String("operation", op),
			slog.Duration("p95", s.latencies.Percentile(op, 95)),
			slog.Int("samples", s.latencies.Count(op)),
			slog.Int("calls", calls),
		)
	}
}

func encode(v any) (*structpb.Struct, error) {
	msg, err := api.EncodeStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return msg, nil
}
