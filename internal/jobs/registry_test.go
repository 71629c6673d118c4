package jobs

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/utils"
)

func newTestRegistry(store *fakeStore, lookup *fakeLookup) (*Registry, *notify.Recorder) {
	rec := notify.NewRecorder(nil)
	if lookup == nil {
		lookup = &fakeLookup{}
	}
	return NewRegistry(nil, store, lookup, rec), rec
}

func TestCreateWithoutLogLevelsNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	reg, _ := newTestRegistry(store, nil)

	_, err := reg.Create(context.Background(), Draft{Namespace: "ns1", IntervalMinutes: 5})
	require.Error(t, err)
	assert.True(t, utils.IsValidation(err))
	assert.Empty(t, store.Calls())
}

func TestCreateWithoutIntervalNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	reg, _ := newTestRegistry(store, nil)

	_, err := reg.Create(context.Background(), Draft{Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelError}})
	require.Error(t, err)
	var verr *utils.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "intervalMinutes", verr.Field)
	assert.Empty(t, store.Calls())
}

func TestFindRelistsOnMiss(t *testing.T) {
	store := &fakeStore{jobs: []models.ScheduledJob{{ID: "j1", Namespace: "ns1"}}}
	reg, _ := newTestRegistry(store, nil)

	job, err := reg.Find(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "ns1", job.Namespace)
	assert.Equal(t, []string{"list"}, store.Calls())

	_, err = reg.Find(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"list"}, store.Calls(), "a cached job needs no relist")

	_, err = reg.Find(context.Background(), "j9")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestCreateRelistsAfterSuccess(t *testing.T) {
	store := &fakeStore{}
	reg, rec := newTestRegistry(store, nil)

	d := NewDraft()
	d.Cluster = "c1"
	d.Namespace = "ns1"
	job, err := reg.Create(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 3600, job.IntervalSeconds)
	assert.Equal(t, []string{"create", "list"}, store.Calls())
	require.Len(t, reg.Jobs(), 1)

	msgs := rec.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.LevelSuccess, msgs[0].Level)
}

func TestCreateRemoteFailureLeavesCanonicalList(t *testing.T) {
	store := &fakeStore{jobs: []models.ScheduledJob{{ID: "j1", Namespace: "ns1"}}}
	reg, rec := newTestRegistry(store, nil)
	_, err := reg.List(context.Background())
	require.NoError(t, err)

	store.saveErr = &utils.RemoteError{Op: "create job", Status: http.StatusBadGateway}
	d := NewDraft()
	d.Namespace = "ns2"
	_, err = reg.Create(context.Background(), d)
	require.Error(t, err)
	assert.True(t, utils.IsRemote(err))
	assert.Len(t, reg.Jobs(), 1)

	msgs := rec.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.LevelError, msgs[0].Level)
}

func TestListFailureKeepsPreviousJobs(t *testing.T) {
	store := &fakeStore{jobs: []models.ScheduledJob{{ID: "j1"}}}
	reg, _ := newTestRegistry(store, nil)
	_, err := reg.List(context.Background())
	require.NoError(t, err)

	store.listErr = &utils.RemoteError{Op: "list jobs", Err: errors.New("connection refused")}
	jobs, err := reg.List(context.Background())
	require.Error(t, err)
	assert.Len(t, jobs, 1)
	_, lastErr := reg.Status()
	assert.Error(t, lastErr)
}

func TestDeleteMissingJobIsNoop(t *testing.T) {
	store := &fakeStore{delErr: &utils.RemoteError{Op: "delete job", Status: http.StatusNotFound}}
	reg, rec := newTestRegistry(store, nil)

	require.NoError(t, reg.Delete(context.Background(), "gone"))
	require.NoError(t, reg.Delete(context.Background(), "gone"))
	assert.Equal(t, []string{"delete:gone", "list", "delete:gone", "list"}, store.Calls())

	for _, m := range rec.Drain() {
		assert.Equal(t, notify.LevelInfo, m.Level)
	}
}

func TestDeleteSurfacesOtherErrors(t *testing.T) {
	store := &fakeStore{delErr: &utils.RemoteError{Op: "delete job", Status: http.StatusInternalServerError}}
	reg, _ := newTestRegistry(store, nil)

	err := reg.Delete(context.Background(), "j1")
	require.Error(t, err)
	assert.Equal(t, []string{"delete:j1"}, store.Calls())
}

func TestRowsShowNeverRun(t *testing.T) {
	ran := time.Date(2024, time.July, 7, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{jobs: []models.ScheduledJob{
		{ID: "j1", Name: "orders", Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelError}, IntervalSeconds: 300},
		{ID: "j2", Namespace: "ns2", PodFilter: []string{"api-0", "api-1"}, IntervalSeconds: 7200, LastRunAt: &ran},
	}}
	reg, _ := newTestRegistry(store, nil)
	_, err := reg.List(context.Background())
	require.NoError(t, err)

	rows := reg.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, NeverRunLabel, rows[0].LastRun)
	assert.Equal(t, "all pods", rows[0].Pods)
	assert.Equal(t, "every 5m", rows[0].Interval)
	assert.Equal(t, "2024-07-07T12:00:00Z", rows[1].LastRun)
	assert.Equal(t, "ns2", rows[1].Name)
	assert.Equal(t, "api-0, api-1", rows[1].Pods)
	assert.Equal(t, "every 2h", rows[1].Interval)
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	store := &fakeStore{}
	reg, _ := newTestRegistry(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(store.Calls()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}
