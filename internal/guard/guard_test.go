package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/model"
	"docseval/internal/retrieval"
)

func buildIndex() *retrieval.Index {
	return retrieval.NewIndex([]retrieval.Chunk{
		{SourceURL: "https://docs.example.com/install", SnippetHash: "hash1", Text: "install instructions"},
	})
}

func passingAttempt(idx *retrieval.Index) Attempt {
	return Attempt{
		Task: model.Task{ExpectedSignals: []string{"install", "configure"}},
		Answer: "1. Install the package.\n2. Configure the settings.\n" +
			"This covers install and configure steps.",
		StepCount:  3,
		StopReason: model.StopReasonCompleted,
		Citations: []Citation{
			{Source: "https://docs.example.com/install", SnippetHash: "hash1", Excerpt: "install instructions"},
		},
		Index: idx,
	}
}

func TestRunChecksAllPass(t *testing.T) {
	idx := buildIndex()
	result := RunChecks(passingAttempt(idx))

	assert.Nil(t, result.Caps.Groundedness)
	assert.Nil(t, result.Caps.Completeness)
	assert.Nil(t, result.Caps.Actionability)
	assert.Nil(t, result.Caps.Correctness)
	assert.Empty(t, result.ValidityBlockedReasons)
	require.Len(t, result.Checks, 5)
	for _, c := range result.Checks {
		assert.Truef(t, c.Passed, "check %s expected to pass", c.Name)
	}
}

func TestRunChecksMissingCitationsCapsGroundednessAndBlocksValidity(t *testing.T) {
	attempt := passingAttempt(buildIndex())
	attempt.Citations = nil

	result := RunChecks(attempt)
	require.NotNil(t, result.Caps.Groundedness)
	assert.Equal(t, 3.0, *result.Caps.Groundedness)
	assert.Contains(t, result.ValidityBlockedReasons, "missing_citations")
}

func TestRunChecksCitationNotInIndexFailsIntegrity(t *testing.T) {
	attempt := passingAttempt(buildIndex())
	attempt.Citations = []Citation{
		{Source: "https://docs.example.com/other", SnippetHash: "does-not-exist", Excerpt: "x"},
	}

	result := RunChecks(attempt)
	require.NotNil(t, result.Caps.Groundedness)
	assert.Contains(t, result.ValidityBlockedReasons, "invalid_citations")
}

func TestRunChecksLowSignalCoverageCapsCompleteness(t *testing.T) {
	attempt := passingAttempt(buildIndex())
	attempt.Task.ExpectedSignals = []string{"install", "configure", "troubleshoot", "uninstall"}
	attempt.Answer = "1. Install the package.\n2. Run it."

	result := RunChecks(attempt)
	require.NotNil(t, result.Caps.Completeness)
	assert.Equal(t, 6.0, *result.Caps.Completeness)
}

func TestRunChecksShallowStepsCapsActionability(t *testing.T) {
	attempt := passingAttempt(buildIndex())
	attempt.Answer = "Just do it, no steps given."
	attempt.StepCount = 1

	result := RunChecks(attempt)
	require.NotNil(t, result.Caps.Actionability)
	assert.Equal(t, 6.0, *result.Caps.Actionability)
}

func TestRunChecksNonCompletedStopReasonCapsCorrectness(t *testing.T) {
	attempt := passingAttempt(buildIndex())
	attempt.StopReason = model.StopReasonStepLimit

	result := RunChecks(attempt)
	require.NotNil(t, result.Caps.Correctness)
	assert.Equal(t, 8.0, *result.Caps.Correctness)
}

func TestExpectedSignalCoverageEmptySignalsIsFullCoverage(t *testing.T) {
	assert.Equal(t, 1.0, ExpectedSignalCoverage(nil, "anything"))
}

func TestExpectedSignalCoverageIsCaseInsensitiveAndWhitespaceCollapsing(t *testing.T) {
	coverage := ExpectedSignalCoverage([]string{"Install   Guide"}, "see the install\n guide here")
	assert.Equal(t, 1.0, coverage)
}

func TestExpectedSignalCoveragePartialMatch(t *testing.T) {
	coverage := ExpectedSignalCoverage([]string{"alpha", "beta", "gamma"}, "alpha and beta mentioned")
	assert.InDelta(t, 2.0/3.0, coverage, 1e-9)
}
