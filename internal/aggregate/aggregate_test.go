package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/model"
)

func scoreOf(avg float64) model.CriterionScores {
	return model.CriterionScores{
		Completeness:  avg,
		Correctness:   avg,
		Groundedness:  avg,
		Actionability: avg,
	}
}

func TestTotalsEmpty(t *testing.T) {
	totals := Totals(nil)
	assert.Equal(t, 0, totals.TotalTasks)
	assert.Equal(t, 0.0, totals.PassRate)
	assert.NotNil(t, totals.FailureBreakdown)
}

func TestTotalsMixedOutcomes(t *testing.T) {
	outdated := model.FailureClassOutdatedContent
	structure := model.FailureClassPoorStructure
	evals := []model.TaskEvaluation{
		{Pass: true, QualityPass: true, ValidityPass: true, CriterionScores: scoreOf(8)},
		{Pass: false, FailureClass: &outdated, CriterionScores: scoreOf(2)},
		{Pass: false, FailureClass: &structure, CriterionScores: scoreOf(4)},
	}

	totals := Totals(evals)
	require.Equal(t, 3, totals.TotalTasks)
	assert.Equal(t, 1, totals.PassedTasks)
	assert.Equal(t, 2, totals.FailedTasks)
	assert.InDelta(t, 1.0/3.0, totals.PassRate, 1e-9)
	assert.Equal(t, 1, totals.FailureBreakdown["outdated_content"])
	assert.Equal(t, 1, totals.FailureBreakdown["poor_structure"])
	assert.InDelta(t, (8.0+2.0+4.0)/3.0, totals.AverageScore, 1e-9)
}

func TestTotalsIsIdempotentOverTheSameSlice(t *testing.T) {
	evals := []model.TaskEvaluation{
		{Pass: true, CriterionScores: scoreOf(7)},
		{Pass: false, CriterionScores: scoreOf(3)},
	}
	first := Totals(evals)
	second := Totals(evals)
	assert.Equal(t, first, second)
}

func TestDeltaRoundsToFourDecimals(t *testing.T) {
	baseline := model.RunTotals{PassRate: 0.333333, AverageScore: 5.11111, PassedTasks: 3, FailedTasks: 7}
	optimized := model.RunTotals{PassRate: 0.666666, AverageScore: 7.99999, PassedTasks: 6, FailedTasks: 4}

	delta := Delta(baseline, optimized)
	assert.InDelta(t, 0.3333, delta.PassRateDelta, 1e-9)
	assert.InDelta(t, 2.8889, delta.AverageScoreDelta, 1e-9)
	assert.Equal(t, 3, delta.PassedTasksDelta)
	assert.Equal(t, -3, delta.FailedTasksDelta)
}

func TestDeltaHandlesNegativeValues(t *testing.T) {
	baseline := model.RunTotals{PassRate: 0.8, AverageScore: 9.0}
	optimized := model.RunTotals{PassRate: 0.2, AverageScore: 1.0}

	delta := Delta(baseline, optimized)
	assert.InDelta(t, -0.6, delta.PassRateDelta, 1e-9)
	assert.InDelta(t, -8.0, delta.AverageScoreDelta, 1e-9)
}
