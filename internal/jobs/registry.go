// Package jobs keeps the operator's working copy of scheduled scan jobs and
// the draft state used to create or edit them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/miradorstack/incident-console/internal/metrics"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/utils"
)

// DefaultRefreshInterval is the cadence of background list refreshes.
const DefaultRefreshInterval = 5 * time.Minute

// ErrJobNotFound is returned when an id is absent from the canonical list.
var ErrJobNotFound = errors.New("job not found")

// Store is the authoritative job store.
type Store interface {
	ListJobs(ctx context.Context) ([]models.ScheduledJob, error)
	CreateJob(ctx context.Context, spec models.JobSpec) (models.ScheduledJob, error)
	UpdateJob(ctx context.Context, id string, spec models.JobSpec) (models.ScheduledJob, error)
	DeleteJob(ctx context.Context, id string) error
}

// Lookup resolves the cluster, namespace and pod choices offered to a draft.
type Lookup interface {
	ListClusters(ctx context.Context) ([]models.Cluster, error)
	ListNamespaces(ctx context.Context, cluster string) ([]string, error)
	ListPods(ctx context.Context, cluster, namespace string) ([]string, error)
}

// Registry owns the canonical job list. Mutations go to the store first and
// are followed by a full re-list; local state is never patched optimistically.
type Registry struct {
	logger   *slog.Logger
	store    Store
	lookup   Lookup
	notifier notify.Notifier

	mu          sync.RWMutex
	jobs        []models.ScheduledJob
	refreshedAt time.Time
	lastErr     error
}

// NewRegistry constructs a Registry.
func NewRegistry(logger *slog.Logger, store Store, lookup Lookup, notifier notify.Notifier) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		store:    store,
		lookup:   lookup,
		notifier: notify.OrDiscard(notifier),
	}
}

// List refreshes the canonical list from the store. On failure the previous
// list is kept and a RemoteError is returned.
func (r *Registry) List(ctx context.Context) ([]models.ScheduledJob, error) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		metrics.ObserveJobOperation("list", metrics.OutcomeError)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return r.Jobs(), fmt.Errorf("list jobs: %w", err)
	}
	metrics.ObserveJobOperation("list", metrics.OutcomeSuccess)

	r.mu.Lock()
	r.jobs = cloneJobs(jobs)
	r.refreshedAt = time.Now()
	r.lastErr = nil
	r.mu.Unlock()

	r.logger.Debug("job list refreshed", slog.Int("jobs", len(jobs)))
	return cloneJobs(jobs), nil
}

// Jobs returns a copy of the canonical list.
func (r *Registry) Jobs() []models.ScheduledJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneJobs(r.jobs)
}

// Job returns the canonical copy of job id.
func (r *Registry) Job(id string) (models.ScheduledJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if job.ID == id {
			return cloneJob(job), true
		}
	}
	return models.ScheduledJob{}, false
}

// Status reports when the list was last refreshed and the last refresh error.
func (r *Registry) Status() (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt, r.lastErr
}

// Rows renders the canonical list for display.
func (r *Registry) Rows() []JobRow {
	jobs := r.Jobs()
	rows := make([]JobRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, Present(job))
	}
	return rows
}

// Create validates d and stores it as a new job.
func (r *Registry) Create(ctx context.Context, d Draft) (models.ScheduledJob, error) {
	if err := d.Validate(); err != nil {
		metrics.ObserveJobOperation("create", metrics.OutcomeError)
		return models.ScheduledJob{}, err
	}

	job, err := r.store.CreateJob(ctx, d.Spec())
	if err != nil {
		metrics.ObserveJobOperation("create", metrics.OutcomeError)
		r.notifier.Notify(notify.LevelError, "Failed to create job: "+err.Error())
		return models.ScheduledJob{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJobOperation("create", metrics.OutcomeSuccess)
	r.logger.Info("job created", slog.String("job_id", job.ID), slog.String("namespace", job.Namespace))
	r.notifier.Notify(notify.LevelSuccess, "Job created")
	r.refreshAfter(ctx, "create")
	return job, nil
}

// Update validates d and replaces the writable fields of job id.
func (r *Registry) Update(ctx context.Context, id string, d Draft) (models.ScheduledJob, error) {
	if id == "" {
		return models.ScheduledJob{}, utils.NewValidationError("id", "is required")
	}
	if err := d.Validate(); err != nil {
		metrics.ObserveJobOperation("update", metrics.OutcomeError)
		return models.ScheduledJob{}, err
	}

	job, err := r.store.UpdateJob(ctx, id, d.Spec())
	if err != nil {
		metrics.ObserveJobOperation("update", metrics.OutcomeError)
		r.notifier.Notify(notify.LevelError, "Failed to update job: "+err.Error())
		return models.ScheduledJob{}, fmt.Errorf("update job %s: %w", id, err)
	}
	metrics.ObserveJobOperation("update", metrics.OutcomeSuccess)
	r.logger.Info("job updated", slog.String("job_id", id))
	r.notifier.Notify(notify.LevelSuccess, "Job updated")
	r.refreshAfter(ctx, "update")
	return job, nil
}

// Delete removes job id. Deleting a job the store no longer has is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewValidationError("id", "is required")
	}

	err := r.store.DeleteJob(ctx, id)
	switch {
	case err == nil:
		metrics.ObserveJobOperation("delete", metrics.OutcomeSuccess)
		r.logger.Info("job deleted", slog.String("job_id", id))
		r.notifier.Notify(notify.LevelSuccess, "Job deleted")
	case utils.IsNotFound(err):
		metrics.ObserveJobOperation("delete", metrics.OutcomeSuccess)
		r.logger.Info("job already deleted", slog.String("job_id", id))
		r.notifier.Notify(notify.LevelInfo, "Job was already deleted")
	default:
		metrics.ObserveJobOperation("delete", metrics.OutcomeError)
		r.notifier.Notify(notify.LevelError, "Failed to delete job: "+err.Error())
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	r.refreshAfter(ctx, "delete")
	return nil
}

func (r *Registry) refreshAfter(ctx context.Context, op string) {
	if _, err := r.List(ctx); err != nil {
		r.logger.Warn("job list refresh failed", slog.String("after", op), slog.Any("error", err))
		r.notifier.Notify(notify.LevelWarning, "Job list could not be refreshed")
	}
}

// Run refreshes the list immediately and then every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	r.refreshTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshTick(ctx)
		}
	}
}

func (r *Registry) refreshTick(ctx context.Context) {
	if _, err := r.List(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("scheduled job refresh failed", slog.Any("error", err))
	}
}

// BeginCreate starts a create-mode editor.
func (r *Registry) BeginCreate() *Editor {
	return newEditor(r, ModeCreate, "", NewDraft())
}

// Find returns job id from the canonical list, relisting once on a miss.
func (r *Registry) Find(ctx context.Context, id string) (models.ScheduledJob, error) {
	if job, ok := r.Job(id); ok {
		return job, nil
	}
	if _, err := r.List(ctx); err != nil {
		return models.ScheduledJob{}, err
	}
	if job, ok := r.Job(id); ok {
		return job, nil
	}
	return models.ScheduledJob{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
}

// BeginEdit starts an edit-mode editor for job id and hydrates its cascade
// before returning. The draft is seeded from the canonical list once; later
// refreshes do not touch it.
func (r *Registry) BeginEdit(ctx context.Context, id string) (*Editor, error) {
	job, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	e := newEditor(r, ModeEdit, id, Draft{})
	e.Hydrate(ctx, job)
	return e, nil
}

func cloneJob(job models.ScheduledJob) models.ScheduledJob {
	job.PodFilter = slices.Clone(job.PodFilter)
	job.LogLevels = slices.Clone(job.LogLevels)
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		job.LastRunAt = &t
	}
	return job
}

func cloneJobs(jobs []models.ScheduledJob) []models.ScheduledJob {
	out := make([]models.ScheduledJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, cloneJob(job))
	}
	return out
}
