// Package agentloop implements the Agent Loop (C6): the bounded
// retrieve/plan/act/reflect iteration driven for one (task, worker)
// pair, the largest single component of the orchestrator.
//
// Grounded on the teacher's internal/executor/executor.go iteration-loop
// shape — a bounded loop that persists one typed record per step and
// applies accounting before the next phase runs — generalized from a
// single-phase subprocess-output loop into the spec's four-phase model
// call sequence. Citation/step persistence follows the same
// child-rows-under-a-parent-step pattern the teacher uses for
// subprocess output lines.
package agentloop

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"docseval/internal/budget"
	"docseval/internal/eventlog"
	"docseval/internal/guard"
	"docseval/internal/model"
	"docseval/internal/modelclient"
	"docseval/internal/retrieval"
	"docseval/internal/storage"
)

// Deps are the collaborators one Loop invocation needs. Index is
// phase-scoped: the caller rebuilds it per §4.2 when the optimized
// phase substitutes the site skill artifact.
type Deps struct {
	Client     modelclient.Client
	Index      *retrieval.Index
	Accountant *budget.Accountant
	Store      storage.ExecutionStore
	Events     *eventlog.Log
	CostFunc   budget.CostFunc
	Model      string
}

// Outcome is the finished attempt handed to the Deterministic Guard and
// Rubric Judge by the caller (Worker Pool).
type Outcome struct {
	StopReason model.StopReason
	Answer     string
	StepOutput string
	Citations  []guard.Citation
	StepCount  int
	SkipNoEval bool
}

// Loop drives one TaskExecution's §4.6 iteration.
type Loop struct {
	deps Deps
}

// New constructs a Loop over the given collaborators.
func New(deps Deps) *Loop {
	if deps.CostFunc == nil {
		deps.CostFunc = budget.DefaultCostFunc
	}
	return &Loop{deps: deps}
}

// Run executes the bounded iteration for one (task, execution) pair.
func (l *Loop) Run(ctx context.Context, task model.Task, execID, runID string, cfg model.RunConfig) (Outcome, error) {
	mem := &model.AgentMemoryState{
		TaskExecutionID: execID,
		Goal:            task.Name + ": " + task.Description,
	}

	var (
		lastAct      ActResult
		tokensIn     int
		tokensOut    int
		stepCount    int // per-model-call progress tally, for UpdateTaskExecutionProgress only
		stopReason   model.StopReason
		skipNoEval   bool
		finalDecided bool
	)

iterations:
	for stepIndex := 0; ; stepIndex++ {
		if stop := l.deps.Accountant.CheckTopOfIteration(); stop.Should {
			stopReason = stop.Reason
			break iterations
		}
		l.deps.Accountant.IncrementStep()
		if canceled, err := l.deps.Accountant.IsCanceled(ctx); err != nil {
			return Outcome{}, err
		} else if canceled {
			stopReason = model.StopReasonCancelled
			break iterations
		}

		chunks := l.retrieve(ctx, task, mem, stepIndex, execID)

		if canceled, err := l.deps.Accountant.IsCanceled(ctx); err != nil {
			return Outcome{}, err
		} else if canceled {
			stopReason = model.StopReasonCancelled
			break iterations
		}

		plan, usage, err := l.plan(ctx, task, mem, chunks, stepIndex, execID)
		if err != nil {
			return Outcome{}, err
		}
		tokensIn += usage.InputTokens
		tokensOut += usage.OutputTokens
		stepCount++
		if err := l.progress(ctx, execID, stepCount, tokensIn, tokensOut); err != nil {
			return Outcome{}, err
		}
		if stop, err := l.deps.Accountant.CheckAfterCall(ctx); err != nil {
			return Outcome{}, err
		} else if stop.Should {
			stopReason, skipNoEval = stop.Reason, stop.SkipNoEval
			break iterations
		}

		act, usage, err := l.act(ctx, task, mem, plan, chunks, stepIndex, execID)
		if err != nil {
			return Outcome{}, err
		}
		lastAct = act
		tokensIn += usage.InputTokens
		tokensOut += usage.OutputTokens
		stepCount++
		if err := l.progress(ctx, execID, stepCount, tokensIn, tokensOut); err != nil {
			return Outcome{}, err
		}
		if stop, err := l.deps.Accountant.CheckAfterCall(ctx); err != nil {
			return Outcome{}, err
		} else if stop.Should {
			stopReason, skipNoEval = stop.Reason, stop.SkipNoEval
			break iterations
		}

		reflect, usage, err := l.reflect(ctx, task, mem, act, stepIndex, execID)
		if err != nil {
			return Outcome{}, err
		}
		tokensIn += usage.InputTokens
		tokensOut += usage.OutputTokens
		stepCount++
		if err := l.progress(ctx, execID, stepCount, tokensIn, tokensOut); err != nil {
			return Outcome{}, err
		}

		l.updateMemory(mem, plan, reflect, act, chunks, cfg)
		if err := l.deps.Store.UpsertTaskAgentState(ctx, mem); err != nil {
			return Outcome{}, err
		}

		// token_limit takes the highest precedence, evaluated after
		// reflect, per spec.md §4.6.
		if stop, err := l.deps.Accountant.CheckAfterCall(ctx); err != nil {
			return Outcome{}, err
		} else if stop.Should {
			stopReason, skipNoEval = stop.Reason, stop.SkipNoEval
			break iterations
		}

		if act.Done {
			stopReason = model.StopReasonCompleted
			finalDecided = true
			break iterations
		}
		if !reflect.ShouldContinue {
			stopReason = classifyReflectStop(reflect.StopReason)
			finalDecided = true
			break iterations
		}
	}
	_ = finalDecided

	if stopReason == "" {
		stopReason = model.StopReasonStepLimit
	}

	return Outcome{
		StopReason: stopReason,
		Answer:     lastAct.Answer,
		StepOutput: lastAct.StepOutput,
		Citations:  toGuardCitations(lastAct.Citations),
		StepCount:  mem.CurrentStep,
		SkipNoEval: skipNoEval,
	}, nil
}

func (l *Loop) progress(ctx context.Context, execID string, stepCount, tokensIn, tokensOut int) error {
	snap := l.deps.Accountant.Snapshot()
	return l.deps.Store.UpdateTaskExecutionProgress(ctx, execID, stepCount, tokensIn, tokensOut, snap.CostUsed)
}

// classifyReflectStop maps reflect's free-text stopReason to completed
// or error, per spec.md §4.6's "classified by the stopReason string".
func classifyReflectStop(reason string) model.StopReason {
	if reErrorStop.MatchString(reason) {
		return model.StopReasonError
	}
	return model.StopReasonCompleted
}

var reErrorStop = regexp.MustCompile(`(?i)error|fail|cannot|unable`)

func toGuardCitations(cs []ActCitation) []guard.Citation {
	out := make([]guard.Citation, 0, len(cs))
	for _, c := range cs {
		out = append(out, guard.Citation{Source: c.Source, SnippetHash: c.SnippetHash, Excerpt: c.Excerpt})
	}
	return out
}

// --- retrieve ---

func (l *Loop) retrieve(ctx context.Context, task model.Task, mem *model.AgentMemoryState, stepIndex int, execID string) []retrieval.Scored {
	query := buildQuery(task, mem)
	chunks := l.deps.Index.TopK(query, 8)

	inputJSON, _ := json.Marshal(map[string]any{"query": query})
	outputJSON, _ := json.Marshal(chunkRefs(chunks))
	step := &model.StepTrace{
		ID:              storage.NewID("step"),
		TaskExecutionID: execID,
		StepIndex:       stepIndex,
		Phase:           model.StepPhaseRetrieve,
		Input:           inputJSON,
		Output:          outputJSON,
	}
	l.persistStep(ctx, step)
	return chunks
}

func buildQuery(task model.Task, mem *model.AgentMemoryState) string {
	var b strings.Builder
	b.WriteString(task.Name)
	b.WriteString(" ")
	b.WriteString(task.Description)
	b.WriteString(" ")
	b.WriteString(strings.Join(task.ExpectedSignals, " "))
	for _, p := range mem.Plan {
		if !p.Done {
			b.WriteString(" ")
			b.WriteString(p.Text)
		}
	}
	for _, s := range lastN(mem.StepSummaries, 2) {
		b.WriteString(" ")
		b.WriteString(s)
	}
	for _, f := range lastN(mem.Facts, 5) {
		b.WriteString(" ")
		b.WriteString(f)
	}
	return b.String()
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

type chunkRef struct {
	SourceURL   string  `json:"sourceUrl"`
	SnippetHash string  `json:"snippetHash"`
	Score       float64 `json:"score"`
}

func chunkRefs(scored []retrieval.Scored) []chunkRef {
	out := make([]chunkRef, 0, len(scored))
	for _, s := range scored {
		out = append(out, chunkRef{SourceURL: s.Chunk.SourceURL, SnippetHash: s.Chunk.SnippetHash, Score: s.Score})
	}
	return out
}

// --- plan ---

// PlanResult is the parsed output of the plan call.
type PlanResult struct {
	PlanItems []string `json:"planItems"`
	Rationale string   `json:"rationale"`
}

var planSchema = json.RawMessage(`{
	"type": "object",
	"required": ["planItems", "rationale"],
	"properties": {
		"planItems": {"type": "array", "items": {"type": "string"}},
		"rationale": {"type": "string"}
	}
}`)

func (l *Loop) plan(ctx context.Context, task model.Task, mem *model.AgentMemoryState, chunks []retrieval.Scored, stepIndex int, execID string) (PlanResult, modelclient.Usage, error) {
	messages := []modelclient.Message{
		{Role: "system", Content: "You plan the next actions toward completing a documentation task using only retrieved context."},
		{Role: "user", Content: "Task: " + task.Name + "\n" + task.Description + "\n\nRetrieved:\n" + chunkText(chunks)},
	}
	res, err := l.deps.Client.CompleteJSON(ctx, modelclient.Config{Model: l.deps.Model}, messages, planSchema)
	if err != nil {
		return PlanResult{}, modelclient.Usage{}, err
	}
	var out PlanResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return PlanResult{}, modelclient.Usage{}, err
	}

	inputJSON, _ := json.Marshal(messages)
	outputJSON, _ := json.Marshal(out)
	step := &model.StepTrace{
		ID:              storage.NewID("step"),
		TaskExecutionID: execID,
		StepIndex:       stepIndex,
		Phase:           model.StepPhasePlan,
		Input:           inputJSON,
		Output:          outputJSON,
		Usage:           &model.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens), LatencyMs: res.LatencyMs},
	}
	l.persistStep(ctx, step)

	cost := l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens)
	if _, err := l.deps.Accountant.Apply(ctx, budget.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}); err != nil {
		return PlanResult{}, modelclient.Usage{}, err
	}
	return out, modelclient.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}, nil
}

func chunkText(chunks []retrieval.Scored) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Chunk.SourceURL)
		b.WriteString(": ")
		b.WriteString(c.Chunk.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// --- act ---

// ActCitation mirrors the citation shape the model is asked to return.
type ActCitation struct {
	Source      string `json:"source"`
	SnippetHash string `json:"snippetHash"`
	Excerpt     string `json:"excerpt"`
	StartOffset *int   `json:"startOffset,omitempty"`
	EndOffset   *int   `json:"endOffset,omitempty"`
}

// ActResult is the parsed output of the act call.
type ActResult struct {
	Answer          string        `json:"answer"`
	StepOutput      string        `json:"stepOutput"`
	Citations       []ActCitation `json:"citations"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"doneReason"`
	DiscoveredFacts []string      `json:"discoveredFacts"`
}

var actSchema = json.RawMessage(`{
	"type": "object",
	"required": ["answer", "stepOutput", "citations", "done"],
	"properties": {
		"answer": {"type": "string"},
		"stepOutput": {"type": "string"},
		"citations": {"type": "array"},
		"done": {"type": "boolean"},
		"doneReason": {"type": "string"},
		"discoveredFacts": {"type": "array", "items": {"type": "string"}}
	}
}`)

func (l *Loop) act(ctx context.Context, task model.Task, mem *model.AgentMemoryState, plan PlanResult, chunks []retrieval.Scored, stepIndex int, execID string) (ActResult, modelclient.Usage, error) {
	messages := []modelclient.Message{
		{Role: "system", Content: "You execute the next plan step and answer the task, citing only retrieved sources."},
		{Role: "user", Content: "Task: " + task.Name + "\nPlan: " + strings.Join(plan.PlanItems, "; ") + "\n\nRetrieved:\n" + chunkText(chunks)},
	}
	res, err := l.deps.Client.CompleteJSON(ctx, modelclient.Config{Model: l.deps.Model}, messages, actSchema)
	if err != nil {
		return ActResult{}, modelclient.Usage{}, err
	}
	var out ActResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return ActResult{}, modelclient.Usage{}, err
	}

	inputJSON, _ := json.Marshal(messages)
	outputJSON, _ := json.Marshal(out)
	retrievalJSON, _ := json.Marshal(chunkRefs(chunks))
	stepID := storage.NewID("step")
	step := &model.StepTrace{
		ID:              stepID,
		TaskExecutionID: execID,
		StepIndex:       stepIndex,
		Phase:           model.StepPhaseAct,
		Input:           inputJSON,
		Output:          outputJSON,
		Retrieval:       retrievalJSON,
		Usage:           &model.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens), LatencyMs: res.LatencyMs},
	}
	l.persistStep(ctx, step)
	l.persistCitations(ctx, stepID, out.Citations)

	cost := l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens)
	if _, err := l.deps.Accountant.Apply(ctx, budget.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}); err != nil {
		return ActResult{}, modelclient.Usage{}, err
	}
	return out, modelclient.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}, nil
}

func (l *Loop) persistCitations(ctx context.Context, stepID string, cs []ActCitation) {
	if len(cs) == 0 {
		return
	}
	rows := make([]model.StepCitation, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, model.StepCitation{
			ID:          storage.NewID("cit"),
			StepID:      stepID,
			Source:      c.Source,
			SnippetHash: c.SnippetHash,
			Excerpt:     c.Excerpt,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
		})
	}
	_ = l.deps.Store.PersistTaskStepCitations(ctx, rows)
}

// --- reflect ---

// ReflectResult is the parsed output of the reflect call, before the
// shouldContinue override in §4.6 is applied.
type ReflectResult struct {
	ShouldContinue bool     `json:"shouldContinue"`
	Summary        string   `json:"summary"`
	PlanUpdates    []string `json:"planUpdates"`
	Confidence     float64  `json:"confidence"`
	StopReason     string   `json:"stopReason"`
}

var reflectSchema = json.RawMessage(`{
	"type": "object",
	"required": ["shouldContinue", "summary"],
	"properties": {
		"shouldContinue": {"type": "boolean"},
		"summary": {"type": "string"},
		"planUpdates": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number"},
		"stopReason": {"type": "string"}
	}
}`)

var reNoFound = regexp.MustCompile(`(?i)no .*(found|available|documented)|unable to (find|locate)`)

func (l *Loop) reflect(ctx context.Context, task model.Task, mem *model.AgentMemoryState, act ActResult, stepIndex int, execID string) (ReflectResult, modelclient.Usage, error) {
	messages := []modelclient.Message{
		{Role: "system", Content: "You decide whether to continue the loop or stop, given the latest attempt."},
		{Role: "user", Content: "Answer: " + act.Answer + "\nStepOutput: " + act.StepOutput},
	}
	res, err := l.deps.Client.CompleteJSON(ctx, modelclient.Config{Model: l.deps.Model}, messages, reflectSchema)
	if err != nil {
		return ReflectResult{}, modelclient.Usage{}, err
	}
	var out ReflectResult
	if err := json.Unmarshal(res.Parsed, &out); err != nil {
		return ReflectResult{}, modelclient.Usage{}, err
	}

	if !act.Done {
		coverage := guard.ExpectedSignalCoverage(task.ExpectedSignals, act.Answer+" "+act.StepOutput)
		if stepIndex < 2 || coverage < 0.75 || len(act.Citations) == 0 || reNoFound.MatchString(act.Answer+" "+act.StepOutput) {
			out.ShouldContinue = true
		}
	}

	decisionJSON, _ := json.Marshal(out)
	inputJSON, _ := json.Marshal(messages)
	step := &model.StepTrace{
		ID:              storage.NewID("step"),
		TaskExecutionID: execID,
		StepIndex:       stepIndex,
		Phase:           model.StepPhaseReflect,
		Input:           inputJSON,
		Decision:        decisionJSON,
		Usage:           &model.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens), LatencyMs: res.LatencyMs},
	}
	l.persistStep(ctx, step)

	cost := l.deps.CostFunc(res.Usage.InputTokens, res.Usage.OutputTokens)
	if _, err := l.deps.Accountant.Apply(ctx, budget.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}); err != nil {
		return ReflectResult{}, modelclient.Usage{}, err
	}
	return out, modelclient.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostEstimate: cost}, nil
}

// --- memory ---

func (l *Loop) updateMemory(mem *model.AgentMemoryState, plan PlanResult, reflect ReflectResult, act ActResult, chunks []retrieval.Scored, cfg model.RunConfig) {
	mem.CurrentStep++

	items := append(append([]string{}, planItemTexts(mem.Plan)...), plan.PlanItems...)
	items = append(items, reflect.PlanUpdates...)
	mem.Plan = dedupPlanItems(items)

	var visited []string
	for _, v := range mem.VisitedSources {
		visited = append(visited, v)
	}
	for _, c := range chunks {
		visited = append(visited, c.Chunk.SourceURL+"#"+c.Chunk.SnippetHash)
	}
	mem.VisitedSources = dedupStrings(visited)

	facts := append(append([]string{}, mem.Facts...), act.DiscoveredFacts...)
	facts = dedupStrings(facts)
	if len(facts) > 20 {
		facts = facts[len(facts)-20:]
	}
	mem.Facts = facts

	summaries := append(append([]string{}, mem.StepSummaries...), reflect.Summary)
	if len(summaries) > 12 {
		summaries = summaries[len(summaries)-12:]
	}
	mem.StepSummaries = summaries

	snap := l.deps.Accountant.Snapshot()
	mem.RemainingBudget = snap.Remaining(cfg)
}

func planItemTexts(items []model.PlanItem) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		if !i.Done {
			out = append(out, i.Text)
		}
	}
	return out
}

func dedupPlanItems(texts []string) []model.PlanItem {
	seen := map[string]struct{}{}
	var out []model.PlanItem
	for _, t := range texts {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, model.PlanItem{Text: t, Done: false})
	}
	return out
}

func dedupStrings(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (l *Loop) persistStep(ctx context.Context, step *model.StepTrace) {
	_ = l.deps.Store.PersistTaskStep(ctx, step)
}
