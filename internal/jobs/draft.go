package jobs

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

// DefaultIntervalMinutes seeds new drafts.
const DefaultIntervalMinutes = 60

var draftValidate *validator.Validate

func init() {
	draftValidate = validator.New(validator.WithRequiredStructEnabled())
}

// Draft is the in-progress, unsubmitted form of a job. Intervals are in
// minutes here and converted to seconds only when the draft is submitted.
type Draft struct {
	Name            string            `json:"name" validate:"max=128"`
	Cluster         string            `json:"cluster"`
	Namespace       string            `json:"namespace" validate:"required"`
	Pods            []string          `json:"pods"`
	LogLevels       []models.LogLevel `json:"logLevels" validate:"min=1,dive,oneof=ERROR WARN CRITICAL INFO DEBUG"`
	IntervalMinutes int               `json:"intervalMinutes" validate:"gte=1"`
}

// NewDraft returns a draft with the default interval and log levels.
func NewDraft() Draft {
	return Draft{
		IntervalMinutes: DefaultIntervalMinutes,
		LogLevels:       slices.Clone(models.DefaultLogLevels),
	}
}

// DraftFromJob seeds a draft from a stored job.
func DraftFromJob(job models.ScheduledJob) Draft {
	return Draft{
		Name:            job.Name,
		Cluster:         job.Cluster,
		Namespace:       job.Namespace,
		Pods:            slices.Clone(job.PodFilter),
		LogLevels:       slices.Clone(job.LogLevels),
		IntervalMinutes: utils.SecondsToMinutes(job.IntervalSeconds),
	}
}

// Validate reports the first problem with the draft as a ValidationError.
func (d Draft) Validate() error {
	err := draftValidate.Struct(d)
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
	case "Namespace":
		return utils.NewValidationError("namespace", "is required")
	case "LogLevels":
		if fe.Tag() == "min" {
			return utils.NewValidationError("logLevels", "at least one log level is required")
		}
		return utils.NewValidationError("logLevels", fmt.Sprintf("unsupported log level %v", fe.Value()))
	case "IntervalMinutes":
		return utils.NewValidationError("intervalMinutes", "must be at least 1 minute")
	case "Name":
		return utils.NewValidationError("name", "is too long")
	default:
		return utils.NewValidationError(fe.Field(), "failed "+fe.Tag())
	}
}

// Spec converts the draft into its stored form.
func (d Draft) Spec() models.JobSpec {
	return models.JobSpec{
		Name:            strings.TrimSpace(d.Name),
		Cluster:         d.Cluster,
		Namespace:       d.Namespace,
		PodFilter:       slices.Clone(d.Pods),
		LogLevels:       slices.Clone(d.LogLevels),
		IntervalSeconds: utils.MinutesToSeconds(d.IntervalMinutes),
	}
}

// ToggleLogLevel adds level when absent and removes it otherwise.
func (d *Draft) ToggleLogLevel(level models.LogLevel) {
	if i := slices.Index(d.LogLevels, level); i >= 0 {
		d.LogLevels = slices.Delete(d.LogLevels, i, i+1)
		return
	}
	d.LogLevels = append(d.LogLevels, level)
}

// TogglePod adds pod to the filter when absent and removes it otherwise.
func (d *Draft) TogglePod(pod string) {
	if i := slices.Index(d.Pods, pod); i >= 0 {
		d.Pods = slices.Delete(d.Pods, i, i+1)
		return
	}
	d.Pods = append(d.Pods, pod)
}

// Clone returns a deep copy.
func (d Draft) Clone() Draft {
	d.Pods = slices.Clone(d.Pods)
	d.LogLevels = slices.Clone(d.LogLevels)
	return d
}
