package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

func TestNewDraftDefaults(t *testing.T) {
	d := NewDraft()
	assert.Equal(t, 60, d.IntervalMinutes)
	assert.Equal(t, []models.LogLevel{models.LogLevelError, models.LogLevelWarn, models.LogLevelCritical}, d.LogLevels)

	d.ToggleLogLevel(models.LogLevelWarn)
	assert.Equal(t, []models.LogLevel{models.LogLevelError, models.LogLevelCritical}, d.LogLevels)
	assert.Len(t, models.DefaultLogLevels, 3, "toggling a draft must not touch the shared defaults")
}

func TestDraftValidate(t *testing.T) {
	cases := []struct {
		name  string
		draft Draft
		field string
	}{
		{name: "missing namespace", draft: Draft{LogLevels: []models.LogLevel{models.LogLevelError}}, field: "namespace"},
		{name: "no log levels", draft: Draft{Namespace: "ns1"}, field: "logLevels"},
		{name: "unknown log level", draft: Draft{Namespace: "ns1", LogLevels: []models.LogLevel{"TRACE"}}, field: "logLevels"},
		{name: "negative interval", draft: Draft{Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelInfo}, IntervalMinutes: -1}, field: "intervalMinutes"},
		{name: "missing interval", draft: Draft{Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelInfo}}, field: "intervalMinutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			require.Error(t, err)
			var verr *utils.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	ok := Draft{Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelDebug}, IntervalMinutes: 1}
	assert.NoError(t, ok.Validate())
}

func TestDraftIntervalConversion(t *testing.T) {
	d := Draft{Namespace: "ns1", LogLevels: []models.LogLevel{models.LogLevelError}, IntervalMinutes: 15}
	spec := d.Spec()
	assert.Equal(t, 900, spec.IntervalSeconds)

	back := DraftFromJob(models.ScheduledJob{Namespace: "ns1", IntervalSeconds: 900, LogLevels: spec.LogLevels})
	assert.Equal(t, 15, back.IntervalMinutes)
}

func TestDraftCloneIsIndependent(t *testing.T) {
	d := Draft{Pods: []string{"a"}, LogLevels: []models.LogLevel{models.LogLevelError}}
	c := d.Clone()
	c.TogglePod("b")
	c.Pods[0] = "z"
	assert.Equal(t, []string{"a"}, d.Pods)
}
