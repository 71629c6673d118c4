package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/incident-console/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    []models.ScheduledJob
	calls   []string
	listErr error
	saveErr error
	delErr  error
	nextID  int
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) ListJobs(context.Context) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list")
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.ScheduledJob(nil), s.jobs...), nil
}

func (s *fakeStore) CreateJob(_ context.Context, spec models.JobSpec) (models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create")
	if s.saveErr != nil {
		return models.ScheduledJob{}, s.saveErr
	}
	s.nextID++
	job := jobFromSpec(fmt.Sprintf("job-%d", s.nextID), spec)
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, id string, spec models.JobSpec) (models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update:" + id)
	if s.saveErr != nil {
		return models.ScheduledJob{}, s.saveErr
	}
	job := jobFromSpec(id, spec)
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i] = job
		}
	}
	return job, nil
}

func (s *fakeStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete:" + id)
	return s.delErr
}

func jobFromSpec(id string, spec models.JobSpec) models.ScheduledJob {
	return models.ScheduledJob{
		ID:              id,
		Name:            spec.Name,
		Cluster:         spec.Cluster,
		Namespace:       spec.Namespace,
		PodFilter:       spec.PodFilter,
		LogLevels:       spec.LogLevels,
		IntervalSeconds: spec.IntervalSeconds,
		CreatedAt:       time.Date(2024, time.July, 7, 0, 0, 0, 0, time.UTC),
	}
}

type fakeLookup struct {
	mu            sync.Mutex
	calls         []string
	clusters      []models.Cluster
	namespaces    map[string][]string
	pods          map[string][]string
	namespacesErr error
	podsErr       error
}

func (l *fakeLookup) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLookup) ListClusters(context.Context) ([]models.Cluster, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "clusters")
	return l.clusters, nil
}

func (l *fakeLookup) ListNamespaces(_ context.Context, cluster string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "namespaces:"+cluster)
	if l.namespacesErr != nil {
		return nil, l.namespacesErr
	}
	return l.namespaces[cluster], nil
}

func (l *fakeLookup) ListPods(_ context.Context, cluster, namespace string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "pods:"+cluster+"/"+namespace)
	if l.podsErr != nil {
		return nil, l.podsErr
	}
	return l.pods[cluster+"/"+namespace], nil
}
