package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisStages_ProgressIsNonDecreasing(t *testing.T) {
	prev := 0
	for _, stage := range AnalysisStages {
		assert.GreaterOrEqual(t, stage.ProgressPercent, prev, "stage %s", stage.Key)
		prev = stage.ProgressPercent
	}
}

func TestStageFor_KnownKeys(t *testing.T) {
	lastIdx := -1

	var stage AnalysisStage
	for i, want := range AnalysisStages {
		stage, lastIdx = StageFor(want.Key, lastIdx)
		assert.Equal(t, want.Label, stage.Label)
		assert.Equal(t, i, lastIdx)
	}
}

// Unknown stage keys clamp to the last known stage instead of crashing or
// moving progress backwards.
func TestStageFor_UnknownKeyClamps(t *testing.T) {
	_, lastIdx := StageFor(AnalysisGeneratingChart, -1)

	stage, idx := StageFor("some_new_backend_stage", lastIdx)
	assert.Equal(t, AnalysisGeneratingChart, stage.Key)
	assert.Equal(t, lastIdx, idx)
}

func TestStageFor_UnknownKeyBeforeAnyKnown(t *testing.T) {
	stage, idx := StageFor("mystery", -1)
	assert.Equal(t, AnalysisPending, stage.Key)
	assert.Equal(t, 0, idx)
}

// A backend that regresses to an earlier stage never moves progress backwards.
func TestStageFor_BackendRegressionIsClamped(t *testing.T) {
	_, lastIdx := StageFor(AnalysisGeneratingAnalysis, -1)

	stage, idx := StageFor(AnalysisPending, lastIdx)
	assert.Equal(t, AnalysisGeneratingAnalysis, stage.Key)
	assert.Equal(t, lastIdx, idx)
}

func TestIsNonTerminalAnalysisState(t *testing.T) {
	assert.True(t, IsNonTerminalAnalysisState(AnalysisPending))
	assert.True(t, IsNonTerminalAnalysisState(AnalysisGeneratingChart))
	assert.True(t, IsNonTerminalAnalysisState(AnalysisGeneratingAnalysis))
	assert.False(t, IsNonTerminalAnalysisState(AnalysisCompleted))
	assert.False(t, IsNonTerminalAnalysisState(AnalysisError))
	assert.False(t, IsNonTerminalAnalysisState("unknown"))
}
