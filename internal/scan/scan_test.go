package scan

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/utils"
)

type fakeScanner struct {
	calls    int
	last     models.ScanRequest
	response string
	err      error
}

func (f *fakeScanner) ScanLogs(_ context.Context, req models.ScanRequest) (json.RawMessage, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func validRequest() models.ScanRequest {
	req := NewRequest("prod", Defaults{})
	SetNamespaces(&req, []string{"payments", " ", "payments"})
	return req
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("prod", DefaultsFromConfig(config.ScanConfig{LogLevels: []string{"error", " warn"}}))
	assert.Equal(t, 60, req.TimeRangeMinutes)
	assert.Equal(t, 1000, req.MaxLinesPerPod)
	assert.Equal(t, []models.LogLevel{models.LogLevelError, models.LogLevelWarn}, req.LogLevels)

	job := models.ScheduledJob{Cluster: "c1", Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelDebug}}
	fromJob := FromJob(job, Defaults{TimeRangeMinutes: 15, MaxLinesPerPod: 50})
	assert.Equal(t, "c1", fromJob.Cluster)
	assert.Equal(t, []string{"ns1"}, fromJob.Namespaces)
	assert.Equal(t, []models.LogLevel{models.LogLevelDebug}, fromJob.LogLevels)
	assert.Equal(t, 15, fromJob.TimeRangeMinutes)
}

func TestDraftEditing(t *testing.T) {
	req := validRequest()
	assert.Equal(t, []string{"payments"}, req.Namespaces)

	AddSearchPattern(&req, "timeout")
	AddSearchPattern(&req, " timeout ")
	AddSearchPattern(&req, "")
	AddSearchPattern(&req, "OOMKilled")
	assert.Equal(t, []string{"timeout", "OOMKilled"}, req.SearchPatterns)
	RemoveSearchPattern(&req, "timeout")
	assert.Equal(t, []string{"OOMKilled"}, req.SearchPatterns)

	SetPodLabel(&req, "app", "api")
	SetPodLabel(&req, " ", "ignored")
	assert.Equal(t, map[string]string{"app": "api"}, req.PodLabels)
	RemovePodLabel(&req, "app")
	assert.Nil(t, req.PodLabels)

	ToggleLogLevel(&req, models.LogLevelError)
	assert.NotContains(t, req.LogLevels, models.LogLevelError)
	ToggleLogLevel(&req, models.LogLevelError)
	assert.Contains(t, req.LogLevels, models.LogLevelError)
}

func TestExecuteRejectsInvalidRequestLocally(t *testing.T) {
	cases := map[string]func(*models.ScanRequest){
		"cluster":          func(r *models.ScanRequest) { r.Cluster = "" },
		"namespaces":       func(r *models.ScanRequest) { r.Namespaces = nil },
		"logLevels":        func(r *models.ScanRequest) { r.LogLevels = nil },
		"timeRangeMinutes": func(r *models.ScanRequest) { r.TimeRangeMinutes = 0 },
		"maxLinesPerPod":   func(r *models.ScanRequest) { r.MaxLinesPerPod = 0 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			scanner := &fakeScanner{}
			req := validRequest()
			mutate(&req)

			_, err := NewExecutor(nil, scanner, nil).Execute(context.Background(), req)
			var verr *utils.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
			assert.Zero(t, scanner.calls)
		})
	}
}

func TestExecuteNormalizesPerLineResults(t *testing.T) {
	scanner := &fakeScanner{response: `{
		"results": [
			{"log": "ERROR db down", "analysis": {"severity": "high"}, "root_cause": {"root_cause": "db"}, "knowledge": [], "recommendations": null},
			{"log": "WARN slow"}
		],
		"pods_scanned": 3,
		"errors": ["pod api-2: forbidden"]
	}`}
	rec := notify.NewRecorder(nil)

	result, err := NewExecutor(nil, scanner, rec).Execute(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, result.Legacy)
	assert.Equal(t, 3, result.PodsScanned)
	assert.Equal(t, []string{"pod api-2: forbidden"}, result.Errors)
	require.Len(t, result.Entries, 2)
	assert.JSONEq(t, `{"severity":"high"}`, string(result.Entries[0].Analysis))
	assert.Nil(t, result.Entries[0].Recommendations)
	assert.Nil(t, result.Entries[1].Analysis)
	assert.Equal(t, "prod", scanner.last.Cluster)

	msgs := rec.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.LevelWarning, msgs[0].Level)
}

func TestNormalizeLegacyResponse(t *testing.T) {
	result, err := Normalize(json.RawMessage(`{
		"logs": ["a", "b"],
		"analysis": {"summary": "x"},
		"root_cause": "disk",
		"pods_scanned": 1,
		"errors": []
	}`))
	require.NoError(t, err)
	assert.True(t, result.Legacy)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "b", result.Entries[1].Log)
	assert.JSONEq(t, `"disk"`, string(result.Entries[1].RootCause))
	assert.Nil(t, result.Errors)

	_, err = Normalize(json.RawMessage(`[`))
	var merr *utils.MalformedPayloadError
	assert.ErrorAs(t, err, &merr)
}

func TestExecuteWrapsRemoteError(t *testing.T) {
	scanner := &fakeScanner{err: &utils.RemoteError{Op: "scan logs", Err: errors.New("refused")}}
	rec := notify.NewRecorder(nil)

	_, err := NewExecutor(nil, scanner, rec).Execute(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, utils.IsRemote(err))
	assert.Equal(t, notify.LevelError, rec.Drain()[0].Level)
}

func TestRenderMarksAbsentSections(t *testing.T) {
	var out strings.Builder
	err := Render(&out, models.ScanResult{
		PodsScanned: 2,
		Entries: []models.ScanEntry{{
			Log:       "ERROR boom",
			Analysis:  json.RawMessage(`{"k":"v"}`),
			RootCause: json.RawMessage(`"oom"`),
		}},
	})
	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "Pods scanned: 2")
	assert.Contains(t, text, "[1] ERROR boom")
	assert.Contains(t, text, `"k": "v"`)
	assert.Contains(t, text, `"oom"`)
	assert.Equal(t, 2, strings.Count(text, absent))
}

func TestExecuteAttachesRecurringPatterns(t *testing.T) {
	scanner := &fakeScanner{response: `{
		"results": [
			{"log": "ERROR pool exhausted after 30s"},
			{"log": "ERROR pool exhausted after 41s"},
			{"log": "WARN slow"}
		],
		"pods_scanned": 1
	}`}

	result, err := NewExecutor(nil, scanner, nil).Execute(context.Background(), validRequest())
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, "ERROR pool exhausted after <num>", result.Patterns[0].Signature)
	assert.Equal(t, 2, result.Patterns[0].Count)

	var out strings.Builder
	require.NoError(t, Render(&out, result))
	assert.Contains(t, out.String(), "2x ERROR pool exhausted after <num>")
}
