// Package server exposes the workflow engine over HTTP: workflow
// execution with SSE streaming plus knowledge-base and introspection
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	loom "github.com/nevindra/loom"
	"github.com/nevindra/loom/ingest"
)

// defaultTimeout bounds a single workflow execution.
const defaultTimeout = 5 * time.Minute

// Info describes the configured providers, reported by /api/provider.
type Info struct {
	Provider       string `json:"provider"`
	SmallModel     string `json:"small_model"`
	LargeModel     string `json:"large_model"`
	EmbeddingModel string `json:"embedding_model"`
	ImageProvider  string `json:"image_provider"`
}

// Deps carries the collaborators the server needs.
type Deps struct {
	Engine *loom.Engine
	// Store is queried for document counts. Optional.
	Store loom.EmbeddingStore
	// DocumentsDir holds one subdirectory per knowledge base.
	DocumentsDir string
	// Corpora is the set of valid knowledge bases; Active is the one used
	// when a request names none.
	Corpora []string
	Active  string
	Info    Info
	Logger  *slog.Logger
	// Timeout bounds one execution. Zero means the default.
	Timeout time.Duration
}

// Server is the HTTP API over a workflow engine.
type Server struct {
	engine  *loom.Engine
	store   loom.EmbeddingStore
	docsDir string
	corpora []string
	info    Info
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	active string

	mux *http.ServeMux
}

// New builds a Server and registers its routes.
func New(d Deps) *Server {
	s := &Server{
		engine:  d.Engine,
		store:   d.Store,
		docsDir: d.DocumentsDir,
		corpora: d.Corpora,
		info:    d.Info,
		logger:  d.Logger,
		timeout: d.Timeout,
		active:  d.Active,
	}
	if len(s.corpora) == 0 {
		s.corpora = []string{"legal", "audit"}
	}
	if s.active == "" {
		s.active = s.corpora[0]
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.timeout == 0 {
		s.timeout = defaultTimeout
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflow/execute", s.handleExecute)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/provider", s.handleProvider)
	mux.HandleFunc("GET /api/knowledge-base", s.handleKnowledgeBases)
	mux.HandleFunc("POST /api/knowledge-base/switch", s.handleSwitch)
	mux.HandleFunc("GET /api/documents", s.handleDocuments)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The API is consumed by a browser frontend on another origin.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// --- wire types ---

type executeRequest struct {
	Message       string     `json:"message"`
	WorkflowNodes []wireNode `json:"workflow_nodes"`
	WorkflowEdges []wireEdge `json:"workflow_edges"`
	KnowledgeBase string     `json:"knowledge_base"`
}

// wireNode is a node as the frontend sends it: the node type lives in
// data.nodeType, falling back to the id prefix.
type wireNode struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type wireEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// toWorkflow converts the frontend graph and injects the knowledge base
// into search node settings that do not name one.
func toWorkflow(nodes []wireNode, edges []wireEdge, corpus string) loom.Workflow {
	wf := loom.Workflow{
		Nodes: make([]loom.Node, 0, len(nodes)),
		Edges: make([]loom.Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		typ, _ := n.Data["nodeType"].(string)
		if typ == "" {
			typ = n.Type
		}
		if typ == "" {
			typ, _, _ = strings.Cut(n.ID, "-")
		}
		data := n.Data
		if loom.NodeType(typ) == loom.NodeSemanticSearch && corpus != "" {
			data = injectCorpus(data, corpus)
		}
		wf.Nodes = append(wf.Nodes, loom.Node{ID: n.ID, Type: loom.NodeType(typ), Data: data})
	}
	for _, e := range edges {
		wf.Edges = append(wf.Edges, loom.Edge{Source: e.Source, Target: e.Target})
	}
	return wf
}

// injectCorpus sets settings.knowledgeBase unless the node already has one.
func injectCorpus(data map[string]any, corpus string) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	settings, _ := out["settings"].(map[string]any)
	merged := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		merged[k] = v
	}
	if kb, _ := merged["knowledgeBase"].(string); kb == "" {
		merged["knowledgeBase"] = corpus
	}
	out["settings"] = merged
	return out
}

// --- handlers ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	corpus := req.KnowledgeBase
	if corpus == "" {
		corpus = s.activeCorpus()
	}

	wf := toWorkflow(req.WorkflowNodes, req.WorkflowEdges, corpus)
	if _, err := loom.BuildPlan(wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := loom.NewEventChannel()
	go func() {
		if err := s.engine.Execute(ctx, wf, req.Message, events); err != nil {
			s.logger.Error("workflow execution failed", "error", err)
		}
	}()

	for ev := range events {
		if err := loom.WriteSSE(w, ev); err != nil {
			// Client went away. Stop the run and drain until the engine
			// closes the channel.
			cancel()
			for range events {
			}
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	if s.store != nil {
		if n, err := s.store.Count(r.Context(), s.activeCorpus()); err == nil {
			count = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"provider":       s.info.Provider,
		"document_count": count,
	})
}

func (s *Server) handleProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	available := make([]map[string]any, 0, len(s.corpora))
	for _, c := range s.corpora {
		count := 0
		if s.store != nil {
			if n, err := s.store.Count(r.Context(), c); err == nil {
				count = n
			}
		}
		available = append(available, map[string]any{
			"id":             c,
			"name":           corpusName(c),
			"document_count": count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    s.activeCorpus(),
		"available": available,
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBase string `json:"knowledge_base"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.validCorpus(req.KnowledgeBase) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid knowledge base %q, must be one of %s",
				req.KnowledgeBase, strings.Join(s.corpora, ", ")))
		return
	}

	s.mu.Lock()
	s.active = req.KnowledgeBase
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"active":  req.KnowledgeBase,
		"message": fmt.Sprintf("Switched to %s knowledge base", req.KnowledgeBase),
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	corpus := r.URL.Query().Get("knowledge_base")
	if corpus == "" {
		corpus = s.activeCorpus()
	}
	if !s.validCorpus(corpus) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid knowledge base %q", corpus))
		return
	}

	docs, err := ingest.LoadDir(filepath.Join(s.docsDir, corpus), s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	listing := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		listing = append(listing, map[string]any{
			"id":             d.ID,
			"title":          d.Title,
			"source":         d.Source,
			"content_length": len(d.Content),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"knowledge_base": corpus,
		"documents":      listing,
	})
}

// --- helpers ---

func (s *Server) activeCorpus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Server) validCorpus(name string) bool {
	for _, c := range s.corpora {
		if c == name {
			return true
		}
	}
	return false
}

// corpusName renders a corpus id as a display name ("legal" -> "Legal").
func corpusName(id string) string {
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
