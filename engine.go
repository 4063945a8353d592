package loom

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Upload payload prefixes. Binary uploads arrive base64-encoded behind a
// marker; bare text passes through untouched.
const (
	UploadPrefixPDF  = "__PDF_BASE64__"
	UploadPrefixDOCX = "__DOCX_BASE64__"
)

// Auto-generated instructions used when a workflow starts from an upload
// node and the user supplied no message. The extraction variant is chosen
// when the graph contains a transformer or spreadsheet node.
const (
	autoInstructionExtract = "Extract the key information from the uploaded document"
	autoInstructionSummary = "Summarize the uploaded document"
)

// uploadDelimiter separates the extracted text of multiple uploaded files.
const uploadDelimiter = "\n\n---\n\n"

// UploadDecoder extracts text from a decoded binary upload. kind is "pdf"
// or "docx". The ingest package provides the standard implementation.
type UploadDecoder func(kind string, content []byte) (string, error)

// Engine executes validated workflow plans node by node, streaming typed
// events as it goes. Evaluation is sequential over the topological order,
// so every agent sees the writes of all its predecessors.
type Engine struct {
	registry *Registry
	models   Models
	logger   *slog.Logger
	tracer   Tracer
	delays   []time.Duration
	decode   UploadDecoder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the span tracer. When unset, no spans are created.
func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithRetryDelays overrides the transient-failure retry schedule for
// agent invocations.
func WithRetryDelays(delays ...time.Duration) EngineOption {
	return func(e *Engine) { e.delays = delays }
}

// WithUploadDecoder sets the extractor used for binary upload payloads.
// Without one, binary uploads yield empty text and a step note.
func WithUploadDecoder(d UploadDecoder) EngineOption {
	return func(e *Engine) { e.decode = d }
}

// NewEngine creates an execution engine over the given agent registry and
// resolved model names.
func NewEngine(registry *Registry, models Models, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		models:   models,
		delays:   DefaultRetryDelays,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// Execute runs a workflow and streams events. The events channel is closed
// exactly once before Execute returns. Validation failures surface as a
// *ValidationError before any event is emitted; callers that want a 400
// response should call BuildPlan themselves first. On cancellation the
// engine stops scheduling and emits no further events.
func (e *Engine) Execute(ctx context.Context, wf Workflow, userMessage string, events chan<- Event) error {
	defer close(events)

	start := time.Now()
	runID := NewID()

	plan, err := BuildPlan(wf)
	if err != nil {
		return err
	}

	var span Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "workflow.execute",
			StringAttr("run.id", runID),
			IntAttr("workflow.nodes", len(wf.Nodes)),
			IntAttr("workflow.edges", len(wf.Edges)))
		defer span.End()
	}

	log := e.logger.With("run_id", runID)
	log.Info("workflow started", "nodes", len(wf.Nodes), "order", plan.Order)
	for _, w := range plan.Warnings {
		log.Warn(w)
	}

	run := &runState{
		plan:   plan,
		rc:     NewRunContext(userMessage),
		states: make(map[string]NodeState, len(plan.Nodes)),
		user:   userMessage,
		format: "text",
	}
	for id := range plan.Nodes {
		run.states[id] = StatePending
	}

	if len(wf.Nodes) == 0 {
		e.send(ctx, events, doneEvent(run, start))
		return nil
	}

	for _, id := range plan.Order {
		if ctx.Err() != nil {
			if span != nil {
				span.Error(ctx.Err())
			}
			return ctx.Err()
		}

		node := plan.Nodes[id]
		if !plan.Reachable[id] {
			run.exclude(node, "unreachable from input nodes")
			continue
		}
		if reason := run.exclusionReason(node); reason != "" {
			run.exclude(node, reason)
			e.send(ctx, events, excludedEvent(node, reason))
			continue
		}

		switch node.Type.Category() {
		case CategoryInput:
			e.runInput(ctx, run, node, events)
		case CategoryOutput:
			e.runOutput(ctx, run, node, events)
		default:
			if err := e.runAgent(ctx, run, node, events, log); err != nil {
				if ctx.Err() == nil {
					e.send(ctx, events, errorEvent(err.Error()))
				}
				if span != nil {
					span.Error(err)
				}
				return err
			}
		}
	}

	e.send(ctx, events, doneEvent(run, start))
	log.Info("workflow finished",
		"latency_ms", time.Since(start).Milliseconds(),
		"steps", len(run.trace))
	return nil
}

// runState carries the mutable bookkeeping of one execution.
type runState struct {
	plan   *Plan
	rc     *RunContext
	states map[string]NodeState
	trace  []Step
	user   string
	format string
	// selectedBy is the node that published selected_tools, if any.
	selectedBy string
	// lastContent remembers the most recent synthesis, sampler, or
	// transformer output for the answer preference chain.
	lastContent string
}

// exclusionReason decides whether a node must be excluded before running.
// A join node proceeds as long as at least one non-input predecessor
// executed; input predecessors never cause exclusion.
func (r *runState) exclusionReason(node Node) string {
	var nonInput, executed int
	for _, pred := range r.plan.Preds[node.ID] {
		if r.plan.Nodes[pred].Type.Category() == CategoryInput {
			continue
		}
		nonInput++
		if r.states[pred] == StateExecuted {
			executed++
		}
	}
	if nonInput > 0 && executed == 0 {
		return "all upstream branches were excluded or failed"
	}

	// Branch routing: once an ancestor publishes selected_tools, tool
	// nodes outside the set are pruned.
	if node.Type.Category() == CategoryTool && r.selectedBy != "" && r.isAncestor(r.selectedBy, node.ID) {
		if !r.toolSelected(node.ID) {
			return "not selected by orchestrator"
		}
	}

	// Image runs take the visual branch; text sampling is moot.
	if node.Type == NodeSampler && r.hasImages() {
		r.rc.Set(KeyCandidates, []any{})
		return "image generation request"
	}
	return ""
}

// isAncestor reports whether a precedes b in the graph.
func (r *runState) isAncestor(a, b string) bool {
	seen := map[string]bool{b: true}
	queue := []string{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, pred := range r.plan.Preds[id] {
			if pred == a {
				return true
			}
			if !seen[pred] {
				seen[pred] = true
				queue = append(queue, pred)
			}
		}
	}
	return false
}

// toolSelected reports whether the published selected_tools set names the
// node, by ID or by type.
func (r *runState) toolSelected(id string) bool {
	for _, v := range toList(r.rc.Get(KeySelectedTools)) {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == id || s == string(r.plan.Nodes[id].Type) {
			return true
		}
	}
	return false
}

func (r *runState) hasImages() bool {
	outputs, _ := r.rc.Get(KeyToolOutputs).(map[string]any)
	if outputs == nil {
		return false
	}
	return len(toList(outputs["images"])) > 0
}

func (r *runState) exclude(node Node, reason string) {
	r.states[node.ID] = StateExcluded
	r.trace = append(r.trace, Step{
		NodeID:  node.ID,
		Agent:   string(node.Type),
		Model:   "none",
		Action:  "exclude",
		Status:  string(StateExcluded),
		Summary: reason,
	})
}

// settings returns the node's settings object, tolerating its absence.
func nodeSettings(node Node) map[string]any {
	if s, ok := node.Data["settings"].(map[string]any); ok {
		return s
	}
	return map[string]any{}
}

// runInput resolves an input node directly into the run context.
func (e *Engine) runInput(ctx context.Context, run *runState, node Node, events chan<- Event) {
	meta := map[string]any{}

	switch node.Type {
	case NodePrompt:
		// Last write wins when several prompt nodes are present.
		if prompt, _ := node.Data["promptText"].(string); prompt != "" {
			run.user = prompt
			run.rc.Set(KeyUserMessage, prompt)
		}
	case NodeUpload:
		text, notes := e.extractUploads(node)
		if text != "" {
			run.rc.Set(KeyUploadedContent, text)
			run.rc.Set(KeyInputContent, text)
		}
		if len(notes) > 0 {
			meta["extraction_notes"] = notes
		}
		run.applyUploadInstruction(node)
	}

	// Input nodes don't contribute trace steps, only an event.
	run.states[node.ID] = StateExecuted
	e.send(ctx, events, Event{Type: EventAgentComplete, Data: AgentCompleteData{
		NodeID:   node.ID,
		Agent:    string(node.Type),
		Model:    "none",
		Action:   "input",
		Content:  run.user,
		Success:  true,
		Metadata: meta,
	}})
}

// extractUploads decodes and extracts every file attached to an upload
// node, concatenating the results. Extraction failures yield notes rather
// than errors; the run proceeds with whatever text was recovered.
func (e *Engine) extractUploads(node Node) (string, []string) {
	var parts []string
	var notes []string
	for _, v := range toList(node.Data["uploadedFiles"]) {
		file, _ := v.(map[string]any)
		if file == nil {
			continue
		}
		name, _ := file["name"].(string)
		content, _ := file["content"].(string)
		if content == "" {
			continue
		}
		text, err := e.decodeUpload(content)
		if err != nil {
			notes = append(notes, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, uploadDelimiter), notes
}

// applyUploadInstruction fills in user_message when the user supplied no
// message: an explicit per-node instruction wins, otherwise the default
// depends on whether the graph transforms or summarizes.
func (r *runState) applyUploadInstruction(node Node) {
	if r.user != "" {
		return
	}
	instruction, _ := node.Data["uploadInstruction"].(string)
	if instruction == "" {
		instruction = autoInstructionSummary
		for _, n := range r.plan.Nodes {
			if n.Type == NodeTransformer || n.Type == NodeSpreadsheet {
				instruction = autoInstructionExtract
				break
			}
		}
	}
	r.user = instruction
	r.rc.Set(KeyUserMessage, instruction)
}

// decodeUpload strips the binary markers and extracts text. Bare text
// payloads pass through unchanged.
func (e *Engine) decodeUpload(payload string) (string, error) {
	kind := ""
	b64 := ""
	switch {
	case strings.HasPrefix(payload, UploadPrefixPDF):
		kind, b64 = "pdf", strings.TrimPrefix(payload, UploadPrefixPDF)
	case strings.HasPrefix(payload, UploadPrefixDOCX):
		kind, b64 = "docx", strings.TrimPrefix(payload, UploadPrefixDOCX)
	default:
		return payload, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode %s upload: %w", kind, err)
	}
	if e.decode == nil {
		return "", fmt.Errorf("no upload decoder configured for %s content", kind)
	}
	text, err := e.decode(kind, raw)
	if err != nil {
		return "", fmt.Errorf("extract %s upload: %w", kind, err)
	}
	return text, nil
}

// runOutput finalizes the answer at an output node.
func (e *Engine) runOutput(ctx context.Context, run *runState, node Node, events chan<- Event) {
	var answer string
	if node.Type == NodeSpreadsheet {
		answer = run.resolveSpreadsheet()
		if looksLikeCSV(answer) {
			run.format = "spreadsheet"
		}
	} else {
		answer = run.resolveAnswer()
	}
	run.rc.Set(KeyFinalAnswer, answer)

	run.states[node.ID] = StateExecuted
	e.send(ctx, events, Event{Type: EventAgentComplete, Data: AgentCompleteData{
		NodeID:  node.ID,
		Agent:   string(node.Type),
		Model:   "none",
		Action:  "output",
		Content: answer,
		Success: true,
	}})
}

// resolveAnswer walks the answer preference chain for text outputs.
func (r *runState) resolveAnswer() string {
	for _, key := range []string{KeyFinalAnswer, KeyTranslatedContent, KeyTransformedContent} {
		if s := strings.TrimSpace(r.rc.GetString(key)); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(r.lastContent); s != "" {
		return s
	}
	return r.user
}

// resolveSpreadsheet prefers CSV-shaped transformed content, falling back
// to the regular answer chain.
func (r *runState) resolveSpreadsheet() string {
	if s := strings.TrimSpace(r.rc.GetString(KeyTransformedContent)); s != "" && looksLikeCSV(s) {
		return s
	}
	return r.resolveAnswer()
}

// runAgent invokes the registered agent for one node. Recoverable failures
// degrade the node to the error state; anything else aborts the run.
func (e *Engine) runAgent(ctx context.Context, run *runState, node Node, events chan<- Event, log *slog.Logger) error {
	agent, err := e.registry.Lookup(node.Type)
	if err != nil {
		// Unreachable after validation; treat as fatal if it happens.
		return err
	}

	settings := nodeSettings(node)
	class := DefaultModelClass(node.Type)
	if m, _ := settings["model"].(string); m == string(ModelLarge) || m == string(ModelSmall) {
		class = ModelClass(m)
	}
	modelName := e.models.For(class)
	if node.Type == NodeSemanticSearch {
		modelName = "embedding"
	}

	e.send(ctx, events, Event{Type: EventAgentStart, Data: AgentStartData{
		NodeID: node.ID,
		Agent:  string(node.Type),
		Model:  modelName,
	}})

	run.states[node.ID] = StateRunning
	run.enrichFor(node)
	task := AgentTask{
		UserMessage: run.user,
		Context:     run.rc.Snapshot(),
		Settings:    settings,
		Model:       class,
	}

	nodeStart := time.Now()
	result, err := retryCall(ctx, e.delays, string(node.Type), log, func() (AgentResult, error) {
		return agent.Execute(ctx, task)
	})
	elapsed := time.Since(nodeStart)

	if err != nil {
		if !IsRecoverable(err) {
			return fmt.Errorf("%s: %w", node.ID, err)
		}
		log.Warn("agent failed", "node", node.ID, "agent", node.Type, "error", err)
		run.states[node.ID] = StateError
		run.trace = append(run.trace, Step{
			NodeID:     node.ID,
			Agent:      string(node.Type),
			Model:      modelName,
			Action:     "error",
			Status:     string(StateError),
			Summary:    err.Error(),
			DurationMs: elapsed.Milliseconds(),
		})
		e.send(ctx, events, Event{Type: EventAgentComplete, Data: AgentCompleteData{
			NodeID:   node.ID,
			Agent:    string(node.Type),
			Model:    modelName,
			Action:   "error",
			Content:  "",
			Success:  false,
			Metadata: map[string]any{"error": err.Error()},
		}})
		return nil
	}

	if _, ok := result.ContextUpdates[KeySelectedTools]; ok {
		run.selectedBy = node.ID
	}
	run.rc.Merge(result.ContextUpdates)
	run.states[node.ID] = StateExecuted
	switch node.Type {
	case NodeSynthesis, NodeSampler, NodeTransformer:
		run.lastContent = result.Content
	}

	run.trace = append(run.trace, Step{
		NodeID:     node.ID,
		Agent:      result.Agent,
		Model:      result.Model,
		Action:     result.Action,
		Status:     string(StateExecuted),
		Summary:    truncateStr(result.Content, 200),
		DurationMs: elapsed.Milliseconds(),
	})
	e.send(ctx, events, Event{Type: EventAgentComplete, Data: AgentCompleteData{
		NodeID:   node.ID,
		Agent:    result.Agent,
		Model:    result.Model,
		Action:   result.Action,
		Content:  result.Content,
		Success:  true,
		Metadata: result.Metadata,
	}})
	return nil
}

// enrichFor adds the plan-derived keys individual agents need.
func (r *runState) enrichFor(node Node) {
	switch node.Type {
	case NodeSupervisor:
		var downstream []string
		for _, id := range r.plan.Order {
			if r.plan.Reachable[id] {
				downstream = append(downstream, id)
			}
		}
		r.rc.Set(KeyDownstreamNodes, downstream)
	case NodeOrchestrator:
		var tools []any
		for _, id := range r.plan.Order {
			n := r.plan.Nodes[id]
			if r.plan.Reachable[id] && n.Type.Category() == CategoryTool {
				tools = append(tools, map[string]any{
					"id":   n.ID,
					"type": string(n.Type),
				})
			}
		}
		r.rc.Set(KeyAvailableTools, tools)
	}
}

// send delivers an event, giving up when the run context is cancelled.
func (e *Engine) send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Data: ErrorData{Message: msg}}
}

func excludedEvent(node Node, reason string) Event {
	return Event{Type: EventAgentComplete, Data: AgentCompleteData{
		NodeID:   node.ID,
		Agent:    string(node.Type),
		Model:    "none",
		Action:   "exclude",
		Content:  "Excluded (" + reason + ")",
		Success:  true,
		Excluded: true,
	}}
}

// doneEvent assembles the terminal event from the run state.
func doneEvent(run *runState, start time.Time) Event {
	answer := ""
	if len(run.plan.Nodes) > 0 {
		answer = run.resolveAnswer()
	}

	outputs, _ := run.rc.Get(KeyToolOutputs).(map[string]any)
	images := toList(outputs["images"])
	finalImages := make([]any, 0, len(images))
	for _, v := range images {
		img, _ := v.(map[string]any)
		if img == nil {
			continue
		}
		url, _ := img["url"].(string)
		finalImages = append(finalImages, map[string]any{
			"prompt":   img["prompt"],
			"style":    img["style"],
			"url":      url,
			"has_data": url != "",
		})
	}

	return Event{Type: EventDone, Data: DoneData{
		Answer: answer,
		ToolOutputs: map[string]any{
			"images":       finalImages,
			"calculations": toList(outputs["calculations"]),
			"web_results":  toList(outputs["web_results"]),
			"docs":         toList(run.rc.Get(KeyDocs)),
		},
		Trace:        Trace{Steps: append([]Step(nil), run.trace...)},
		LatencyMs:    float64(time.Since(start).Microseconds()) / 1000,
		OutputFormat: run.format,
	}}
}

// looksLikeCSV reports whether content is CSV-shaped: at least two rows of
// comma-separated fields with a consistent column count of at least two.
func looksLikeCSV(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" || !strings.Contains(content, ",") || !strings.Contains(content, "\n") {
		return false
	}
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = 0 // all records must match the first
	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		return false
	}
	return len(rows[0]) >= 2
}

// truncateStr shortens s to max runes for trace summaries.
func truncateStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
