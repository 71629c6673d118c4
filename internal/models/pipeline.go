package models

import (
	"encoding/json"
	"time"
)

// Stage names one step of the analysis pipeline.
type Stage string

const (
	StageLogAnalysis          Stage = "log_analysis"
	StageRootCausePrediction  Stage = "root_cause_prediction"
	StageKnowledgeSearch      Stage = "knowledge_search"
	StageActionRecommendation Stage = "action_recommendation"
)

// Stages is the fixed execution order.
var Stages = []Stage{StageLogAnalysis, StageRootCausePrediction, StageKnowledgeSearch, StageActionRecommendation}

// RunState is the position of a run in its state machine.
type RunState string

const (
	RunNotStarted RunState = "not_started"
	RunAllDone    RunState = "all_done"
	RunFailed     RunState = "failed"
)

// StageRunning is the state while stage is in flight.
func StageRunning(stage Stage) RunState {
	return RunState(string(stage) + "_running")
}

// StageDone is the state after stage completed and before the next one starts.
func StageDone(stage Stage) RunState {
	return RunState(string(stage) + "_done")
}

// PipelineRun is the ephemeral record of one analysis invocation.
type PipelineRun struct {
	ID           string                    `json:"id"`
	InputLines   []string                  `json:"inputLines"`
	StageResults map[Stage]json.RawMessage `json:"stageResults"`
	CurrentStage RunState                  `json:"currentStage"`
	FailedStage  *Stage                    `json:"failedStage"`
	Error        string                    `json:"error,omitempty"`
	SearchQuery  string                    `json:"searchQuery,omitempty"`
	Escalated    bool                      `json:"escalated"`
	StartedAt    time.Time                 `json:"startedAt"`
	FinishedAt   time.Time                 `json:"finishedAt"`
}

// Result returns the payload recorded for stage, or nil.
func (r *PipelineRun) Result(stage Stage) json.RawMessage {
	return r.StageResults[stage]
}

// Terminal reports whether the run has finished, successfully or not.
func (r *PipelineRun) Terminal() bool {
	return r.CurrentStage == RunAllDone || r.CurrentStage == RunFailed
}

// Clone returns a copy that shares no mutable state with r.
func (r *PipelineRun) Clone() PipelineRun {
	out := *r
	out.InputLines = append([]string(nil), r.InputLines...)
	out.StageResults = make(map[Stage]json.RawMessage, len(r.StageResults))
	for k, v := range r.StageResults {
		out.StageResults[k] = append(json.RawMessage(nil), v...)
	}
	if r.FailedStage != nil {
		stage := *r.FailedStage
		out.FailedStage = &stage
	}
	return out
}
