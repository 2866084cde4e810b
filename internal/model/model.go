// Package model holds the persistent entity shapes shared across the
// orchestrator, the storage layer, and the HTTP surface.
package model

import (
	"encoding/json"
	"time"
)

// RunStatus is a Run's position in the lifecycle DAG:
// queued -> ingesting -> generating_tasks -> running -> evaluating ->
// {completed, failed, canceled}. Once a status is terminal it is sticky.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusIngesting       RunStatus = "ingesting"
	RunStatusGeneratingTasks RunStatus = "generating_tasks"
	RunStatusRunning         RunStatus = "running"
	RunStatusEvaluating      RunStatus = "evaluating"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusCanceled        RunStatus = "canceled"
)

// IsTerminal reports whether the run will never transition again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// WorkerAssignment is one entry of RunConfig's worker population: a
// model/provider pairing and how many Worker rows it expands to.
type WorkerAssignment struct {
	Provider string          `json:"provider" db:"provider" bson:"provider"`
	Model    string          `json:"model" db:"model" bson:"model"`
	Quantity int             `json:"quantity" db:"quantity" bson:"quantity"`
	Overrides json.RawMessage `json:"overrides,omitempty" db:"overrides" bson:"overrides,omitempty"`
}

// UserTask is a caller-supplied task definition, merged with generated
// tasks during generating_tasks.
type UserTask struct {
	Name            string   `json:"name" bson:"name"`
	Description     string   `json:"description" bson:"description"`
	Category        string   `json:"category" bson:"category"`
	Difficulty      string   `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	ExpectedSignals []string `json:"expectedSignals,omitempty" bson:"expectedSignals,omitempty"`
}

// RunConfig is immutable after Run creation.
type RunConfig struct {
	MaxTasks               int                `json:"maxTasks" db:"max_tasks" bson:"maxTasks"`
	MaxStepsPerTask        int                `json:"maxStepsPerTask" db:"max_steps_per_task" bson:"maxStepsPerTask"`
	MaxTokensPerTask        int               `json:"maxTokensPerTask" db:"max_tokens_per_task" bson:"maxTokensPerTask"`
	HardCostCapUSD         float64            `json:"hardCostCapUsd" db:"hard_cost_cap_usd" bson:"hardCostCapUsd"`
	ExecutionConcurrency   int                `json:"executionConcurrency" db:"execution_concurrency" bson:"executionConcurrency"`
	JudgeConcurrency       int                `json:"judgeConcurrency" db:"judge_concurrency" bson:"judgeConcurrency"`
	TieBreakEnabled        bool               `json:"tieBreakEnabled" db:"tie_break_enabled" bson:"tieBreakEnabled"`
	EnableSkillOptimization bool              `json:"enableSkillOptimization" db:"enable_skill_optimization" bson:"enableSkillOptimization"`
	RunModel               string             `json:"runModel" db:"run_model" bson:"runModel"`
	JudgeModel             string             `json:"judgeModel" db:"judge_model" bson:"judgeModel"`
	TimeoutMs              int                `json:"timeoutMs" db:"timeout_ms" bson:"timeoutMs"`
	Retries                int                `json:"retries" db:"retries" bson:"retries"`
	WorkerCount            int                `json:"workerCount" db:"worker_count" bson:"workerCount"`
	Assignments            []WorkerAssignment `json:"assignments,omitempty" db:"-" bson:"assignments,omitempty"`
	UserTasks              []UserTask         `json:"tasks,omitempty" db:"-" bson:"tasks,omitempty"`
}

// RunTotals is the aggregator output attached to a run (per-phase).
type RunTotals struct {
	TotalTasks           int                `json:"totalTasks" bson:"totalTasks"`
	PassedTasks          int                `json:"passedTasks" bson:"passedTasks"`
	FailedTasks          int                `json:"failedTasks" bson:"failedTasks"`
	PassRate             float64            `json:"passRate" bson:"passRate"`
	QualityPassedTasks   int                `json:"qualityPassedTasks" bson:"qualityPassedTasks"`
	QualityPassRate      float64            `json:"qualityPassRate" bson:"qualityPassRate"`
	ValidityPassedTasks  int                `json:"validityPassedTasks" bson:"validityPassedTasks"`
	ValidityPassRate     float64            `json:"validityPassRate" bson:"validityPassRate"`
	AverageScore         float64            `json:"averageScore" bson:"averageScore"`
	FailureBreakdown     map[string]int     `json:"failureBreakdown" bson:"failureBreakdown"`
}

// Run owns everything else produced by one benchmark execution.
type Run struct {
	ID           string     `json:"id" db:"id" bson:"_id"`
	DocsURL      string     `json:"docsUrl" db:"docs_url" bson:"docsUrl"`
	Status       RunStatus  `json:"status" db:"status" bson:"status"`
	Config       RunConfig  `json:"config" db:"-" bson:"config"`
	Totals       *RunTotals `json:"totals,omitempty" db:"-" bson:"totals,omitempty"`
	CostEstimate float64    `json:"costEstimate" db:"cost_estimate" bson:"costEstimate"`
	StartedAt    time.Time  `json:"startedAt" db:"started_at" bson:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty" db:"ended_at" bson:"endedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// IsRunning reports whether the run is in any non-terminal active state.
func (r *Run) IsRunning() bool {
	switch r.Status {
	case RunStatusIngesting, RunStatusGeneratingTasks, RunStatusRunning, RunStatusEvaluating:
		return true
	default:
		return false
	}
}

// TaskStatus is scoped within one run phase.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusPassed  TaskStatus = "passed"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusError   TaskStatus = "error"
	TaskStatusSkipped TaskStatus = "skipped"
)

// Task is one benchmark question posed against the ingested documentation.
type Task struct {
	ID              string     `json:"taskId" db:"id" bson:"_id"`
	RunID           string     `json:"runId" db:"run_id" bson:"runId"`
	Name            string     `json:"name" db:"name" bson:"name"`
	Description     string     `json:"description" db:"description" bson:"description"`
	Category        string     `json:"category" db:"category" bson:"category"`
	Difficulty      string     `json:"difficulty,omitempty" db:"difficulty" bson:"difficulty,omitempty"`
	ExpectedSignals []string   `json:"expectedSignals,omitempty" db:"-" bson:"expectedSignals,omitempty"`
	Status          TaskStatus `json:"status" db:"status" bson:"status"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// WorkerStatus tracks a Worker activity's lifecycle: idle -> running ->
// idle* -> {done, error}.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusRunning WorkerStatus = "running"
	WorkerStatusDone    WorkerStatus = "done"
	WorkerStatusError   WorkerStatus = "error"
)

// Worker is one concurrent execution slot in the Worker Pool (C7).
// Labels are unique within a run.
//
// containerRef is an optional opaque handle to the sandboxed execution
// context the worker uses; unused by scheduling logic, persisted so a
// future execution backend can attach real sandboxes without a schema
// change.
type Worker struct {
	ID            string          `json:"id" db:"id" bson:"_id"`
	RunID         string          `json:"runId" db:"run_id" bson:"runId"`
	WorkerLabel   string          `json:"workerLabel" db:"worker_label" bson:"workerLabel"`
	ModelProvider string          `json:"modelProvider" db:"model_provider" bson:"modelProvider"`
	ModelName     string          `json:"modelName" db:"model_name" bson:"modelName"`
	ModelConfig   json.RawMessage `json:"modelConfig,omitempty" db:"model_config" bson:"modelConfig,omitempty"`
	Status        WorkerStatus    `json:"status" db:"status" bson:"status"`
	ContainerRef  string          `json:"containerRef,omitempty" db:"container_ref" bson:"containerRef,omitempty"`
}

// Phase distinguishes the baseline run from the optimized re-run.
type Phase string

const (
	PhaseBaseline  Phase = "baseline"
	PhaseOptimized Phase = "optimized"
)

// StopReason is the terminal reason a TaskExecution or Agent Loop stopped.
type StopReason string

const (
	StopReasonCompleted  StopReason = "completed"
	StopReasonError      StopReason = "error"
	StopReasonTokenLimit StopReason = "token_limit"
	StopReasonStepLimit  StopReason = "step_limit"
	StopReasonCostLimit  StopReason = "cost_limit"
	StopReasonCancelled  StopReason = "cancelled"
)

// TaskExecution is one attempt of a task by a worker within a phase.
type TaskExecution struct {
	ID           string      `json:"id" db:"id" bson:"_id"`
	TaskID       string      `json:"taskId" db:"task_id" bson:"taskId"`
	RunID        string      `json:"runId" db:"run_id" bson:"runId"`
	WorkerID     string      `json:"workerId" db:"worker_id" bson:"workerId"`
	Phase        Phase       `json:"phase" db:"phase" bson:"phase"`
	StepCount    int         `json:"stepCount" db:"step_count" bson:"stepCount"`
	TokensIn     int         `json:"tokensIn" db:"tokens_in" bson:"tokensIn"`
	TokensOut    int         `json:"tokensOut" db:"tokens_out" bson:"tokensOut"`
	CostEstimate float64     `json:"costEstimate" db:"cost_estimate" bson:"costEstimate"`
	StopReason   StopReason  `json:"stopReason,omitempty" db:"stop_reason" bson:"stopReason,omitempty"`
	Status       TaskStatus  `json:"status" db:"status" bson:"status"`
	StartedAt    time.Time   `json:"startedAt" db:"started_at" bson:"startedAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty" db:"finished_at" bson:"finishedAt,omitempty"`
	FinalAnswer  string      `json:"finalAnswer,omitempty" db:"final_answer" bson:"finalAnswer,omitempty"`
}

// Remaining budget snapshot embedded in AgentMemoryState, mirroring the
// Budget Accountant's per-execution counters.
type RemainingBudget struct {
	StepsRemaining  int     `json:"stepsRemaining" bson:"stepsRemaining"`
	TokensRemaining int     `json:"tokensRemaining" bson:"tokensRemaining"`
	CostRemaining   float64 `json:"costRemaining" bson:"costRemaining"`
}

// AgentMemoryState is the working memory the Agent Loop (C6) carries
// between iterations of one TaskExecution. Upserted; a writer owns its
// execution and is the sole mutator. Plan, VisitedSources and Facts are
// deduplicated on update; Facts keeps the last 20 entries and
// StepSummaries, which is not deduplicated, the last 12.
type AgentMemoryState struct {
	TaskExecutionID string          `json:"taskExecutionId" db:"task_execution_id" bson:"_id"`
	CurrentStep     int             `json:"currentStep" db:"current_step" bson:"currentStep"`
	Goal            string          `json:"goal" db:"goal" bson:"goal"`
	Plan            []PlanItem      `json:"plan" db:"-" bson:"plan"`
	VisitedSources  []string        `json:"visitedSources" db:"-" bson:"visitedSources"`
	Facts           []string        `json:"facts" db:"-" bson:"facts"`
	StepSummaries   []string        `json:"stepSummaries" db:"-" bson:"stepSummaries"`
	RemainingBudget RemainingBudget `json:"remainingBudget" db:"-" bson:"remainingBudget"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at" bson:"updatedAt"`
}

// PlanItem is one entry of AgentMemoryState.Plan.
type PlanItem struct {
	Text string `json:"text" bson:"text"`
	Done bool   `json:"done" bson:"done"`
}

// StepPhase is one of the four phases executed per agent loop iteration.
type StepPhase string

const (
	StepPhaseRetrieve StepPhase = "retrieve"
	StepPhasePlan     StepPhase = "plan"
	StepPhaseAct      StepPhase = "act"
	StepPhaseReflect  StepPhase = "reflect"
)

// Usage is the token/cost/latency accounting for one model call.
type Usage struct {
	InputTokens  int     `json:"inputTokens" bson:"inputTokens"`
	OutputTokens int     `json:"outputTokens" bson:"outputTokens"`
	CostEstimate float64 `json:"costEstimate" bson:"costEstimate"`
	LatencyMs    int64   `json:"latencyMs" bson:"latencyMs"`
}

// StepTrace is one phase of one iteration of the agent loop. Ordered
// strictly by (taskExecutionId, id); stepIndex is shared by the four
// phases of one iteration.
type StepTrace struct {
	ID              string          `json:"id" db:"id" bson:"_id"`
	TaskExecutionID string          `json:"taskExecutionId" db:"task_execution_id" bson:"taskExecutionId"`
	StepIndex       int             `json:"stepIndex" db:"step_index" bson:"stepIndex"`
	Phase           StepPhase       `json:"phase" db:"phase" bson:"phase"`
	Input           json.RawMessage `json:"input,omitempty" db:"input" bson:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty" db:"output" bson:"output,omitempty"`
	Retrieval       json.RawMessage `json:"retrieval,omitempty" db:"retrieval" bson:"retrieval,omitempty"`
	Usage           *Usage          `json:"usage,omitempty" db:"-" bson:"usage,omitempty"`
	Decision        json.RawMessage `json:"decision,omitempty" db:"decision" bson:"decision,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// StepCitation is one evidence reference attached to a StepTrace.
type StepCitation struct {
	ID          string `json:"id" db:"id" bson:"_id"`
	StepID      string `json:"stepId" db:"step_id" bson:"stepId"`
	Source      string `json:"source" db:"source" bson:"source"`
	SnippetHash string `json:"snippetHash,omitempty" db:"snippet_hash" bson:"snippetHash,omitempty"`
	Excerpt     string `json:"excerpt" db:"excerpt" bson:"excerpt"`
	StartOffset *int   `json:"startOffset,omitempty" db:"start_offset" bson:"startOffset,omitempty"`
	EndOffset   *int   `json:"endOffset,omitempty" db:"end_offset" bson:"endOffset,omitempty"`
}

// DeterministicCheckResult is the outcome of one named check run by the
// Deterministic Guard (C4) against a TaskExecution's attempt.
type DeterministicCheckResult struct {
	TaskExecutionID string  `json:"taskExecutionId" db:"task_execution_id" bson:"taskExecutionId"`
	Name            string  `json:"name" db:"name" bson:"name"`
	Passed          bool    `json:"passed" db:"passed" bson:"passed"`
	ScoreDelta      float64 `json:"scoreDelta" db:"score_delta" bson:"scoreDelta"`
	Details         string  `json:"details,omitempty" db:"details" bson:"details,omitempty"`
}

// CriterionScores are the four rubric axes, each in [0,10].
type CriterionScores struct {
	Completeness float64 `json:"completeness" bson:"completeness"`
	Correctness  float64 `json:"correctness" bson:"correctness"`
	Groundedness float64 `json:"groundedness" bson:"groundedness"`
	Actionability float64 `json:"actionability" bson:"actionability"`
}

// Average returns the mean of the four criteria.
func (c CriterionScores) Average() float64 {
	return (c.Completeness + c.Correctness + c.Groundedness + c.Actionability) / 4
}

// FailureClass is a closed set of eight categorical failure diagnoses.
type FailureClass string

const (
	FailureClassOutdatedContent      FailureClass = "outdated_content"
	FailureClassBrokenLinks          FailureClass = "broken_links"
	FailureClassMissingExamples      FailureClass = "missing_examples"
	FailureClassAmbiguousInstructions FailureClass = "ambiguous_instructions"
	FailureClassMissingContent       FailureClass = "missing_content"
	FailureClassInsufficientDetail   FailureClass = "insufficient_detail"
	FailureClassPoorStructure        FailureClass = "poor_structure"
	FailureClassMissingCitations     FailureClass = "missing_citations"
)

// TaskEvaluation is the Rubric Judge's (C5) combined verdict for one
// (runId, taskId, phase).
type TaskEvaluation struct {
	TaskID                 string          `json:"taskId" db:"task_id" bson:"taskId"`
	RunID                  string          `json:"runId" db:"run_id" bson:"runId"`
	Phase                  Phase           `json:"phase" db:"phase" bson:"phase"`
	CriterionScores        CriterionScores `json:"criterionScores" db:"-" bson:"criterionScores"`
	Pass                   bool            `json:"pass" db:"pass" bson:"pass"`
	QualityPass            bool            `json:"qualityPass" db:"quality_pass" bson:"qualityPass"`
	ValidityPass           bool            `json:"validityPass" db:"validity_pass" bson:"validityPass"`
	ValidityBlockedReasons []string        `json:"validityBlockedReasons,omitempty" db:"-" bson:"validityBlockedReasons,omitempty"`
	FailureClass           *FailureClass   `json:"failureClass,omitempty" db:"failure_class" bson:"failureClass,omitempty"`
	Rationale              string          `json:"rationale" db:"rationale" bson:"rationale"`
	JudgeModel             string          `json:"judgeModel" db:"judge_model" bson:"judgeModel"`
	Confidence             float64         `json:"confidence" db:"confidence" bson:"confidence"`
	CreatedAt              time.Time       `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// RunEvent is one append-only entry in a Run's event log (C1). id is
// dense and globally ordered across the whole store; seq is dense and
// unique per run. Consumers must cursor by id, not seq.
type RunEvent struct {
	ID        int64           `json:"id" db:"id" bson:"id"`
	RunID     string          `json:"runId" db:"run_id" bson:"runId"`
	Seq       int             `json:"seq" db:"seq" bson:"seq"`
	EventType string          `json:"eventType" db:"event_type" bson:"eventType"`
	Payload   json.RawMessage `json:"payload" db:"payload" bson:"payload"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// SkillOptimizationSessionStatus tracks the optimization branch's own
// lifecycle, distinct from the owning Run's status.
type SkillOptimizationSessionStatus string

const (
	SkillSessionStatusRunning SkillOptimizationSessionStatus = "running"
	SkillSessionStatusSkipped SkillOptimizationSessionStatus = "skipped"
	SkillSessionStatusError   SkillOptimizationSessionStatus = "error"
	SkillSessionStatusCompleted SkillOptimizationSessionStatus = "completed"
)

// SkillOrigin distinguishes an optimized skill built from an existing
// site-provided skill artifact versus one synthesized from scratch.
type SkillOrigin string

const (
	SkillOriginSite SkillOrigin = "site_skill"
	SkillOriginNone SkillOrigin = "none"
)

// TotalsDelta is the optimized-minus-baseline comparison, rounded to 4
// decimals component-wise.
type TotalsDelta struct {
	PassRateDelta    float64 `json:"passRateDelta" bson:"passRateDelta"`
	AverageScoreDelta float64 `json:"averageScoreDelta" bson:"averageScoreDelta"`
	PassedTasksDelta int     `json:"passedTasksDelta" bson:"passedTasksDelta"`
	FailedTasksDelta int     `json:"failedTasksDelta" bson:"failedTasksDelta"`
}

// SkillOptimizationSession records the optimization branch for a run.
// Exactly one per run when optimization is enabled.
type SkillOptimizationSession struct {
	RunID             string                         `json:"runId" db:"run_id" bson:"_id"`
	Status            SkillOptimizationSessionStatus `json:"status" db:"status" bson:"status"`
	SourceSkillOrigin SkillOrigin                    `json:"sourceSkillOrigin" db:"source_skill_origin" bson:"sourceSkillOrigin"`
	BaselineTotals    *RunTotals                     `json:"baselineTotals,omitempty" db:"-" bson:"baselineTotals,omitempty"`
	OptimizedTotals   *RunTotals                     `json:"optimizedTotals,omitempty" db:"-" bson:"optimizedTotals,omitempty"`
	Delta             *TotalsDelta                   `json:"delta,omitempty" db:"-" bson:"delta,omitempty"`
	ErrorMessage      string                         `json:"errorMessage,omitempty" db:"error_message" bson:"errorMessage,omitempty"`
	CreatedAt         time.Time                      `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// ArtifactType enumerates the kinds of ingested/derived documents the
// Ingestor and Phase Executor persist.
type ArtifactType string

const (
	ArtifactTypePage           ArtifactType = "page"
	ArtifactTypeLLMsTxt        ArtifactType = "llms_txt"
	ArtifactTypeLLMsFullTxt    ArtifactType = "llms_full_txt"
	ArtifactTypeSkill          ArtifactType = "skill"
	ArtifactTypeOptimizedSkill ArtifactType = "optimized_skill"
)

// Artifact is a fetched or derived document attached to a Run, keyed by
// (artifactType, sourceUrl). Content over the inline-size threshold is
// written to object storage and only the object key/hash kept here.
type Artifact struct {
	ID          string          `json:"id" db:"id" bson:"_id"`
	RunID       string          `json:"runId" db:"run_id" bson:"runId"`
	Type        ArtifactType    `json:"artifactType" db:"artifact_type" bson:"artifactType"`
	SourceURL   string          `json:"sourceUrl" db:"source_url" bson:"sourceUrl"`
	Content     string          `json:"content,omitempty" db:"content" bson:"content,omitempty"`
	ObjectKey   string          `json:"objectKey,omitempty" db:"object_key" bson:"objectKey,omitempty"`
	ContentHash string          `json:"contentHash" db:"content_hash" bson:"contentHash"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata" bson:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// RunError is one entry of the run-error list surfaced to callers
// (RUN_FATAL, TASK_EXECUTION_ERROR, ...).
type RunError struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	RunID     string    `json:"runId" db:"run_id" bson:"runId"`
	Code      string    `json:"code" db:"code" bson:"code"`
	Message   string    `json:"message" db:"message" bson:"message"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}
