package domain

import "encoding/json"

// Analysis job states reported by the backend. The wire field is French
// ("statut"); the values are stable identifiers.
const (
	AnalysisPending            = "pending"
	AnalysisGeneratingChart    = "generating_chart"
	AnalysisGeneratingAnalysis = "generating_analysis"
	AnalysisCompleted          = "completed"
	AnalysisError              = "error"
)

// AnalysisStage maps a backend job state to a progress percentage and a
// user-facing label. Stages form a fixed ordered table; ProgressPercent is
// non-decreasing across it.
type AnalysisStage struct {
	Key             string `json:"key"`
	ProgressPercent int    `json:"progress_percent"`
	Label           string `json:"label"`
}

// AnalysisStages is the fixed stage table, in backend progression order.
var AnalysisStages = []AnalysisStage{
	{Key: AnalysisPending, ProgressPercent: 10, Label: "Préparation de votre analyse..."},
	{Key: AnalysisGeneratingChart, ProgressPercent: 40, Label: "Génération de votre carte du ciel..."},
	{Key: AnalysisGeneratingAnalysis, ProgressPercent: 75, Label: "Rédaction de votre analyse astrologique..."},
	{Key: AnalysisCompleted, ProgressPercent: 100, Label: "Analyse terminée"},
}

// StageIndex returns the position of key in the stage table, or -1.
func StageIndex(key string) int {
	for i, s := range AnalysisStages {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// StageFor resolves a backend state to a stage, clamping unknown keys to the
// stage at lastKnownIdx so an evolving backend vocabulary never moves
// progress backwards or crashes the tracker. The returned index replaces
// lastKnownIdx for the next call.
func StageFor(key string, lastKnownIdx int) (AnalysisStage, int) {
	if idx := StageIndex(key); idx >= 0 {
		if idx < lastKnownIdx {
			idx = lastKnownIdx
		}
		return AnalysisStages[idx], idx
	}
	if lastKnownIdx < 0 {
		return AnalysisStages[0], 0
	}
	if lastKnownIdx >= len(AnalysisStages) {
		lastKnownIdx = len(AnalysisStages) - 1
	}
	return AnalysisStages[lastKnownIdx], lastKnownIdx
}

// IsNonTerminalAnalysisState reports whether the tracker should keep polling.
func IsNonTerminalAnalysisState(key string) bool {
	switch key {
	case AnalysisPending, AnalysisGeneratingChart, AnalysisGeneratingAnalysis:
		return true
	}
	return false
}

// AnalysisSnapshot is one observation of the backend job.
type AnalysisSnapshot struct {
	Status   string          `json:"status"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// AnalysisOutcome is the tracker's final resolution.
type AnalysisOutcome struct {
	Completed bool            `json:"completed"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Message   string          `json:"message,omitempty"`
}
