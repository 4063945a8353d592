// Package loom executes graph-shaped multi-agent workflows.
//
// A workflow is a DAG of typed nodes: input nodes seed the run context,
// agent nodes call an LLM, tool nodes perform semantic retrieval or image
// generation, and output nodes shape the final answer. The Engine validates
// the graph, orders it topologically, runs each node through the agent
// Registry, and streams progress as typed events suitable for
// Server-Sent Events.
//
// Semantic retrieval is backed by an EmbeddingStore (JSON file cache,
// SQLite, or Postgres with pgvector) kept in sync with a document corpus
// by content hash.
package loom
