package jobs

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/utils"
)

// FetchState tracks one level of the cluster -> namespace -> pod cascade.
type FetchState string

const (
	FetchIdle    FetchState = "idle"
	FetchPending FetchState = "pending"
	FetchReady   FetchState = "ready"
	FetchFailed  FetchState = "failed"
)

// EditorMode distinguishes creating a job from editing an existing one.
type EditorMode string

const (
	ModeCreate EditorMode = "create"
	ModeEdit   EditorMode = "edit"
)

// Level is the option list offered at one cascade level.
type Level struct {
	Options []string   `json:"options"`
	State   FetchState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// EditorState is a snapshot of an Editor.
type EditorState struct {
	Mode       EditorMode `json:"mode"`
	JobID      string     `json:"jobId,omitempty"`
	Draft      Draft      `json:"draft"`
	Clusters   Level      `json:"clusters"`
	Namespaces Level      `json:"namespaces"`
	Pods       Level      `json:"pods"`
	Ready      bool       `json:"ready"`
}

// Editor owns one draft and its dependent lookups. Each level is fetched
// only after the level above changes; results from a superseded selection
// are dropped.
type Editor struct {
	registry *Registry
	logger   *slog.Logger
	lookup   Lookup
	notifier notify.Notifier

	mu         sync.Mutex
	mode       EditorMode
	jobID      string
	draft      Draft
	clusters   Level
	namespaces Level
	pods       Level
	ready      bool
	nsGen      uint64
	podGen     uint64
}

func newEditor(r *Registry, mode EditorMode, jobID string, draft Draft) *Editor {
	return &Editor{
		registry:   r,
		logger:     r.logger.With(slog.String("editor", string(mode))),
		lookup:     r.lookup,
		notifier:   r.notifier,
		mode:       mode,
		jobID:      jobID,
		draft:      draft,
		clusters:   Level{State: FetchIdle},
		namespaces: Level{State: FetchIdle},
		pods:       Level{State: FetchIdle},
		ready:      mode == ModeCreate,
	}
}

// LoadClusters fetches the cluster choices.
func (e *Editor) LoadClusters(ctx context.Context) {
	e.mu.Lock()
	e.clusters = Level{State: FetchPending}
	e.mu.Unlock()

	clusters, err := e.lookup.ListClusters(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.clusters = e.failedLevel("clusters", err)
		return
	}
	names := make([]string, 0, len(clusters))
	for _, c := range clusters {
		names = append(names, c.Name)
	}
	e.clusters = Level{Options: names, State: FetchReady}
}

// SelectCluster sets the cluster, clears the namespace and pod selection and
// fetches the cluster's namespaces. Reselecting the current cluster is a
// no-op unless its namespace fetch failed, in which case it retries.
func (e *Editor) SelectCluster(ctx context.Context, cluster string) {
	e.mu.Lock()
	if cluster == e.draft.Cluster && (e.namespaces.State == FetchPending || e.namespaces.State == FetchReady) {
		e.mu.Unlock()
		return
	}
	e.draft.Cluster = cluster
	e.draft.Namespace = ""
	e.draft.Pods = nil
	e.pods = Level{State: FetchIdle}
	e.podGen++
	e.mu.Unlock()

	e.fetchNamespaces(ctx, cluster)
}

// SelectNamespace sets the single selected namespace, fetches its pods and
// defaults the pod filter to every pod returned.
func (e *Editor) SelectNamespace(ctx context.Context, namespace string) {
	e.mu.Lock()
	cluster := e.draft.Cluster
	e.draft.Namespace = namespace
	e.draft.Pods = nil
	e.mu.Unlock()

	pods, ok := e.fetchPods(ctx, cluster, namespace)
	if !ok {
		return
	}
	e.mu.Lock()
	e.draft.Pods = slices.Clone(pods)
	e.mu.Unlock()
}

func (e *Editor) fetchNamespaces(ctx context.Context, cluster string) bool {
	e.mu.Lock()
	e.nsGen++
	gen := e.nsGen
	e.namespaces = Level{State: FetchPending}
	e.mu.Unlock()

	namespaces, err := e.lookup.ListNamespaces(ctx, cluster)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.nsGen {
		return false
	}
	if err != nil {
		e.namespaces = e.failedLevel("namespaces", err)
		return false
	}
	e.namespaces = Level{Options: namespaces, State: FetchReady}
	return true
}

func (e *Editor) fetchPods(ctx context.Context, cluster, namespace string) ([]string, bool) {
	e.mu.Lock()
	e.podGen++
	gen := e.podGen
	e.pods = Level{State: FetchPending}
	e.mu.Unlock()

	pods, err := e.lookup.ListPods(ctx, cluster, namespace)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.podGen {
		return nil, false
	}
	if err != nil {
		e.pods = e.failedLevel("pods", err)
		return nil, false
	}
	e.pods = Level{Options: pods, State: FetchReady}
	return pods, true
}

// failedLevel degrades a cascade level to an empty list. Callers hold e.mu.
func (e *Editor) failedLevel(level string, err error) Level {
	e.logger.Warn("cascade lookup failed", slog.String("level", level), slog.Any("error", err))
	e.notifier.Notify(notify.LevelWarning, "Could not load "+level)
	return Level{Options: []string{}, State: FetchFailed, Message: err.Error()}
}

// Hydrate populates the cascade from job in order: cluster, namespaces,
// namespace, pods, then the scalar fields. Lookup failures leave the level
// empty but never block the scalar fields.
func (e *Editor) Hydrate(ctx context.Context, job models.ScheduledJob) {
	e.mu.Lock()
	e.ready = false
	e.draft.Cluster = job.Cluster
	e.mu.Unlock()

	e.fetchNamespaces(ctx, job.Cluster)

	e.mu.Lock()
	e.draft.Namespace = job.Namespace
	e.mu.Unlock()

	pods, ok := e.fetchPods(ctx, job.Cluster, job.Namespace)

	seeded := DraftFromJob(job)
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case len(seeded.Pods) > 0:
		e.draft.Pods = seeded.Pods
	case ok:
		e.draft.Pods = slices.Clone(pods)
	default:
		e.draft.Pods = nil
	}
	e.draft.Name = seeded.Name
	e.draft.IntervalMinutes = seeded.IntervalMinutes
	e.draft.LogLevels = seeded.LogLevels
	e.ready = true
}

// TogglePod adds or removes pod from the filter.
func (e *Editor) TogglePod(pod string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.TogglePod(pod)
}

// SetPods replaces the pod filter. An empty filter means every pod.
func (e *Editor) SetPods(pods []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.Pods = slices.Clone(pods)
}

// SetName sets the job name.
func (e *Editor) SetName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.Name = name
}

// SetIntervalMinutes sets the run interval in minutes.
func (e *Editor) SetIntervalMinutes(minutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.IntervalMinutes = minutes
}

// ToggleLogLevel adds or removes level.
func (e *Editor) ToggleLogLevel(level models.LogLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.ToggleLogLevel(level)
}

// SetLogLevels replaces the selected log levels.
func (e *Editor) SetLogLevels(levels []models.LogLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.LogLevels = slices.Clone(levels)
}

// State returns a snapshot of the editor.
func (e *Editor) State() EditorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EditorState{
		Mode:       e.mode,
		JobID:      e.jobID,
		Draft:      e.draft.Clone(),
		Clusters:   cloneLevel(e.clusters),
		Namespaces: cloneLevel(e.namespaces),
		Pods:       cloneLevel(e.pods),
		Ready:      e.ready,
	}
}

// Draft returns a copy of the current draft.
func (e *Editor) Draft() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft.Clone()
}

// Submit creates or updates the job from the draft.
func (e *Editor) Submit(ctx context.Context) (models.ScheduledJob, error) {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return models.ScheduledJob{}, utils.NewValidationError("draft", "is still loading")
	}
	draft := e.draft.Clone()
	mode, id := e.mode, e.jobID
	e.mu.Unlock()

	if mode == ModeEdit {
		return e.registry.Update(ctx, id, draft)
	}
	return e.registry.Create(ctx, draft)
}

func cloneLevel(l Level) Level {
	l.Options = slices.Clone(l.Options)
	return l
}
