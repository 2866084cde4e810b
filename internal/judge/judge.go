// Package judge implements the Rubric Judge (C5): a two-pass LLM
// evaluation producing criterion scores and a failure classification.
//
// Grounded on the ModelClient interface boundary
// (internal/modelclient) and the teacher's retry-with-backoff idiom
// used elsewhere in this corpus for provider calls
// (internal/executor/executor.go's retry loops around subprocess and
// HTTP calls) — the judge's two model calls go through the same
// CompleteJSON contract the Agent Loop uses, so retry/backoff/repair
// behavior lives once, in modelclient, not duplicated here.
package judge

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"docseval/internal/guard"
	"docseval/internal/model"
	"docseval/internal/modelclient"
)

// EvidenceChunk is one retrieval chunk supplied to the alignment call.
type EvidenceChunk struct {
	SourceURL   string
	SnippetHash string
	Text        string
}

// AlignmentResult is the parsed output of the alignment call.
type AlignmentResult struct {
	IsSupportedByEvidence bool     `json:"isSupportedByEvidence"`
	UnsupportedClaims     []string `json:"unsupportedClaims"`
	Notes                 string   `json:"notes"`
}

// RubricResult is the parsed output of the rubric call, before
// guardrail/cap post-processing.
type RubricResult struct {
	Scores                model.CriterionScores `json:"scores"`
	Rationale             string                `json:"rationale"`
	Confidence            float64               `json:"confidence"`
	SuggestedFailureClass string                `json:"suggestedFailureClass"`
}

// Input is everything the judge needs to evaluate one TaskExecution's
// attempt.
type Input struct {
	Task            model.Task
	Answer          string
	StepOutput      string
	Citations       []guard.Citation
	StepCount       int
	StopReason      model.StopReason
	Evidence        []EvidenceChunk
	GuardResult     guard.Result
	TieBreakEnabled bool
	JudgeModel      string
}

// Judge runs the two-call rubric evaluation.
type Judge struct {
	client modelclient.Client
}

// New constructs a Judge over the given model client.
func New(client modelclient.Client) *Judge {
	return &Judge{client: client}
}

// MaxEvidenceChunks bounds how many evidence chunks the alignment call
// sees. Callers should already have narrowed to the top-ranked chunks;
// Evaluate only truncates a longer slice as a backstop.
const MaxEvidenceChunks = 12

var failureClassSet = map[model.FailureClass]struct{}{
	model.FailureClassOutdatedContent:       {},
	model.FailureClassBrokenLinks:           {},
	model.FailureClassMissingExamples:       {},
	model.FailureClassAmbiguousInstructions: {},
	model.FailureClassMissingContent:        {},
	model.FailureClassInsufficientDetail:    {},
	model.FailureClassPoorStructure:         {},
	model.FailureClassMissingCitations:      {},
}

// Evaluate runs the alignment call, the rubric call (with an optional
// tie-break second rubric call), applies guardrails and deterministic
// caps, and classifies failure. It returns a TaskEvaluation ready to
// persist.
func (j *Judge) Evaluate(ctx context.Context, in Input) (model.TaskEvaluation, error) {
	evidence := in.Evidence
	if len(evidence) > MaxEvidenceChunks {
		evidence = evidence[:MaxEvidenceChunks]
	}

	alignment, err := j.callAlignment(ctx, in, evidence)
	if err != nil {
		return model.TaskEvaluation{}, err
	}

	rubric1, err := j.callRubric(ctx, in, alignment)
	if err != nil {
		return model.TaskEvaluation{}, err
	}

	// §4.5 sequences guardrails, then caps, then the average
	// recomputation, before the tie-break check reads that average -
	// applying both score sets the same treatment so the tie-break
	// band is evaluated on the same post-processed average that
	// ultimately decides quality pass.
	scores := rubric1.Scores
	applyGuardrails(&scores, alignment, in.Citations, in.StepCount)
	applyCaps(&scores, in.GuardResult.Caps)
	avg := scores.Average()

	if in.TieBreakEnabled && avg >= 6.5 && avg <= 7.5 {
		rubric2, err := j.callRubric(ctx, in, alignment)
		if err != nil {
			return model.TaskEvaluation{}, err
		}
		scores2 := rubric2.Scores
		applyGuardrails(&scores2, alignment, in.Citations, in.StepCount)
		applyCaps(&scores2, in.GuardResult.Caps)
		scores = averageScores(scores, scores2)
	}

	qualityPass := scores.Average() >= 7
	validityPass := alignment.IsSupportedByEvidence && len(in.GuardResult.ValidityBlockedReasons) == 0
	pass := qualityPass && validityPass

	eval := model.TaskEvaluation{
		TaskID:                 in.Task.ID,
		RunID:                  in.Task.RunID,
		CriterionScores:        scores,
		Pass:                   pass,
		QualityPass:            qualityPass,
		ValidityPass:           validityPass,
		ValidityBlockedReasons: in.GuardResult.ValidityBlockedReasons,
		Rationale:              rubric1.Rationale,
		JudgeModel:             in.JudgeModel,
		Confidence:             rubric1.Confidence,
	}

	if !pass {
		fc := classifyFailure(rubric1, scores)
		eval.FailureClass = &fc
	}

	return eval, nil
}

func averageScores(a, b model.CriterionScores) model.CriterionScores {
	return model.CriterionScores{
		Completeness:  round2((a.Completeness + b.Completeness) / 2),
		Correctness:   round2((a.Correctness + b.Correctness) / 2),
		Groundedness:  round2((a.Groundedness + b.Groundedness) / 2),
		Actionability: round2((a.Actionability + b.Actionability) / 2),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func applyGuardrails(scores *model.CriterionScores, alignment AlignmentResult, citations []guard.Citation, stepCount int) {
	if len(citations) == 0 && scores.Groundedness > 4 {
		scores.Groundedness = 4
	}
	if stepCount < 2 && scores.Actionability > 6 {
		scores.Actionability = 6
	}
	if len(alignment.UnsupportedClaims) > 0 {
		if scores.Correctness > 6 {
			scores.Correctness = 6
		}
		if scores.Groundedness > 5 {
			scores.Groundedness = 5
		}
	}
}

func applyCaps(scores *model.CriterionScores, caps guard.Caps) {
	if caps.Groundedness != nil && scores.Groundedness > *caps.Groundedness {
		scores.Groundedness = *caps.Groundedness
	}
	if caps.Completeness != nil && scores.Completeness > *caps.Completeness {
		scores.Completeness = *caps.Completeness
	}
	if caps.Actionability != nil && scores.Actionability > *caps.Actionability {
		scores.Actionability = *caps.Actionability
	}
	if caps.Correctness != nil && scores.Correctness > *caps.Correctness {
		scores.Correctness = *caps.Correctness
	}
}

var (
	reOutdated  = regexp.MustCompile(`(?i)outdated|deprecated`)
	reBroken    = regexp.MustCompile(`(?i)broken link|404`)
	reNoExample = regexp.MustCompile(`(?i)no example|missing example`)
	reAmbiguous = regexp.MustCompile(`(?i)ambiguous|unclear`)
)

func classifyFailure(rubric RubricResult, scores model.CriterionScores) model.FailureClass {
	if fc := model.FailureClass(rubric.SuggestedFailureClass); fc != "" {
		if _, ok := failureClassSet[fc]; ok {
			return fc
		}
	}

	switch {
	case reOutdated.MatchString(rubric.Rationale):
		return model.FailureClassOutdatedContent
	case reBroken.MatchString(rubric.Rationale):
		return model.FailureClassBrokenLinks
	case reNoExample.MatchString(rubric.Rationale):
		return model.FailureClassMissingExamples
	case reAmbiguous.MatchString(rubric.Rationale):
		return model.FailureClassAmbiguousInstructions
	}

	switch {
	case scores.Groundedness < 5:
		return model.FailureClassMissingContent
	case scores.Actionability < 6 && scores.Completeness < 6:
		return model.FailureClassInsufficientDetail
	default:
		return model.FailureClassPoorStructure
	}
}

func (j *Judge) callAlignment(ctx context.Context, in Input, evidence []EvidenceChunk) (AlignmentResult, error) {
	var evBuilder strings.Builder
	for _, e := range evidence {
		evBuilder.WriteString(e.SourceURL)
		evBuilder.WriteString(": ")
		evBuilder.WriteString(e.Text)
		evBuilder.WriteString("\n")
	}
	messages := []modelclient.Message{
		{Role: "system", Content: "You check whether an answer is supported by the given evidence."},
		{Role: "user", Content: "Answer:\n" + in.Answer + "\n\nEvidence:\n" + evBuilder.String()},
	}
	res, err := j.client.CompleteJSON(ctx, modelclient.Config{Model: in.JudgeModel}, messages, alignmentSchema)
	if err != nil {
		return AlignmentResult{}, err
	}
	var out AlignmentResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return AlignmentResult{}, err
	}
	return out, nil
}

func (j *Judge) callRubric(ctx context.Context, in Input, alignment AlignmentResult) (RubricResult, error) {
	alignJSON, _ := json.Marshal(alignment)
	messages := []modelclient.Message{
		{Role: "system", Content: "You score a candidate answer on four axes: completeness, correctness, groundedness, actionability, each 0-10."},
		{Role: "user", Content: "Answer:\n" + in.Answer + "\n\nAlignment:\n" + string(alignJSON)},
	}
	res, err := j.client.CompleteJSON(ctx, modelclient.Config{Model: in.JudgeModel}, messages, rubricSchema)
	if err != nil {
		return RubricResult{}, err
	}
	var out RubricResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return RubricResult{}, err
	}
	return out, nil
}

var alignmentSchema = json.RawMessage(`{
	"type": "object",
	"required": ["isSupportedByEvidence", "unsupportedClaims", "notes"],
	"properties": {
		"isSupportedByEvidence": {"type": "boolean"},
		"unsupportedClaims": {"type": "array", "items": {"type": "string"}},
		"notes": {"type": "string"}
	}
}`)

var rubricSchema = json.RawMessage(`{
	"type": "object",
	"required": ["scores", "rationale", "confidence"],
	"properties": {
		"scores": {
			"type": "object",
			"required": ["completeness", "correctness", "groundedness", "actionability"],
			"properties": {
				"completeness": {"type": "number"},
				"correctness": {"type": "number"},
				"groundedness": {"type": "number"},
				"actionability": {"type": "number"}
			}
		},
		"rationale": {"type": "string"},
		"confidence": {"type": "number"},
		"suggestedFailureClass": {"type": "string"}
	}
}`)
