package loom

// --- Graph types ---

// NodeType identifies the kind of a workflow node. The set is closed:
// anything else fails plan validation.
type NodeType string

const (
	NodePrompt         NodeType = "prompt"
	NodeUpload         NodeType = "upload"
	NodeSupervisor     NodeType = "supervisor"
	NodeOrchestrator   NodeType = "orchestrator"
	NodeSemanticSearch NodeType = "semantic_search"
	NodeSampler        NodeType = "sampler"
	NodeSynthesis      NodeType = "synthesis"
	NodeTransformer    NodeType = "transformer"
	NodeTranslator     NodeType = "translator"
	NodeImageGenerator NodeType = "image_generator"
	NodeSummarization  NodeType = "summarization"
	NodeFormatting     NodeType = "formatting"
	NodeCode           NodeType = "code"
	NodeResponse       NodeType = "response"
	NodeSpreadsheet    NodeType = "spreadsheet"
)

// NodeCategory groups node types by their role in execution.
type NodeCategory string

const (
	// CategoryInput nodes seed the run context and never invoke an agent.
	CategoryInput NodeCategory = "input"
	// CategoryAgent nodes call an LLM through the Registry.
	CategoryAgent NodeCategory = "agent"
	// CategoryTool nodes perform retrieval or generation and are subject
	// to orchestrator branch routing.
	CategoryTool NodeCategory = "tool"
	// CategoryOutput nodes shape the final answer.
	CategoryOutput NodeCategory = "output"
)

// Category returns the execution category of a node type.
// Unknown types return the empty string.
func (t NodeType) Category() NodeCategory {
	switch t {
	case NodePrompt, NodeUpload:
		return CategoryInput
	case NodeSupervisor, NodeOrchestrator, NodeSampler, NodeSynthesis,
		NodeTransformer, NodeTranslator, NodeSummarization, NodeFormatting,
		NodeCode:
		return CategoryAgent
	case NodeSemanticSearch, NodeImageGenerator:
		return CategoryTool
	case NodeResponse, NodeSpreadsheet:
		return CategoryOutput
	}
	return ""
}

// Valid reports whether t belongs to the closed node-type set.
func (t NodeType) Valid() bool { return t.Category() != "" }

// Node is a single workflow step.
type Node struct {
	ID   string         `json:"id"`
	Type NodeType       `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Edge is a directed dependency between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Workflow is the graph submitted for execution.
type Workflow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeState tracks a node through execution.
type NodeState string

const (
	StatePending  NodeState = "pending"
	StateRunning  NodeState = "running"
	StateExecuted NodeState = "executed"
	StateExcluded NodeState = "excluded"
	StateError    NodeState = "error"
)

// --- Agent types ---

// AgentTask is the input handed to a registered agent.
type AgentTask struct {
	// UserMessage is the original request that started the run.
	UserMessage string
	// Context is a snapshot of the run context at invocation time.
	Context map[string]any
	// Settings carries the node's data payload (per-node configuration).
	Settings map[string]any
	// Model is the resolved model class for this invocation.
	Model ModelClass
}

// AgentResult is what an agent produced for one node.
type AgentResult struct {
	Agent   string `json:"agent"`
	Model   string `json:"model"`
	Action  string `json:"action"`
	Content string `json:"content"`
	Success bool   `json:"success"`
	// Metadata carries agent-specific details surfaced in events.
	Metadata map[string]any `json:"metadata,omitempty"`
	// ContextUpdates is merged into the run context after the node executes.
	ContextUpdates map[string]any `json:"-"`
}

// Step is one entry in the execution trace reported with the done event.
type Step struct {
	NodeID     string `json:"node_id"`
	Agent      string `json:"agent"`
	Model      string `json:"model,omitempty"`
	Action     string `json:"action,omitempty"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// --- Document types ---

// Document is one corpus entry eligible for embedding and retrieval.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
	// Hash is the content identity (provider, model, and text) used to
	// decide whether a stored embedding is still valid.
	Hash string `json:"hash"`
}

// EmbeddedDocument pairs a document with its embedding vector.
type EmbeddedDocument struct {
	Document
	Embedding []float32 `json:"embedding"`
}

// ScoredDocument is a search result with its cosine similarity.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	// Model overrides the provider's default model when set.
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelClass selects between the configured small and large chat models.
type ModelClass string

const (
	ModelSmall ModelClass = "small"
	ModelLarge ModelClass = "large"
)

// Models holds the resolved model names for each class.
type Models struct {
	Small string
	Large string
}

// For returns the model name for a class, defaulting to Small.
func (m Models) For(class ModelClass) string {
	if class == ModelLarge {
		return m.Large
	}
	return m.Small
}
