// Package aggregate implements the Aggregator (C10): reduces a phase's
// TaskEvaluation rows into totals and a failure-class breakdown.
//
// No teacher file does this exact reduction; this is a pure-function
// package over stdlib slices/maps, which is the correct shape for it —
// there is no I/O, state, or protocol concern here for a third-party
// library to serve.
package aggregate

import "docseval/internal/model"

// Totals computes the §4.10 aggregate over a phase's evaluations.
// Empty input yields all zeros. Calling Totals twice on the same slice
// (or the slice with a no-op append) must yield an identical result
// (P9); since this is a pure function over immutable input, that
// property holds structurally.
func Totals(evals []model.TaskEvaluation) model.RunTotals {
	t := model.RunTotals{FailureBreakdown: map[string]int{}}
	t.TotalTasks = len(evals)
	if t.TotalTasks == 0 {
		return t
	}

	var scoreSum float64
	for _, e := range evals {
		if e.Pass {
			t.PassedTasks++
		} else {
			t.FailedTasks++
			if e.FailureClass != nil {
				t.FailureBreakdown[string(*e.FailureClass)]++
			}
		}
		if e.QualityPass {
			t.QualityPassedTasks++
		}
		if e.ValidityPass {
			t.ValidityPassedTasks++
		}
		scoreSum += e.CriterionScores.Average()
	}

	n := float64(t.TotalTasks)
	t.PassRate = float64(t.PassedTasks) / n
	t.QualityPassRate = float64(t.QualityPassedTasks) / n
	t.ValidityPassRate = float64(t.ValidityPassedTasks) / n
	t.AverageScore = scoreSum / n
	return t
}

// Delta computes the component-wise optimized-minus-baseline
// comparison, rounded to 4 decimals, per spec.md §4.9 step 5.
func Delta(baseline, optimized model.RunTotals) model.TotalsDelta {
	return model.TotalsDelta{
		PassRateDelta:     round4(optimized.PassRate - baseline.PassRate),
		AverageScoreDelta: round4(optimized.AverageScore - baseline.AverageScore),
		PassedTasksDelta:  optimized.PassedTasks - baseline.PassedTasks,
		FailedTasksDelta:  optimized.FailedTasks - baseline.FailedTasks,
	}
}

func round4(v float64) float64 {
	const scale = 10000
	r := v * scale
	if r >= 0 {
		r += 0.5
	} else {
		r -= 0.5
	}
	return float64(int64(r)) / scale
}
