// Package memory provides long-term memory for agents: semantically embedded
// text records persisted in a pluggable vector store and retrieved by
// similarity to a query.
//
// Architecture:
//   - Embedder: text-to-vector conversion (remote API or local model)
//   - Store: vector storage backend (chromem-go documents or PostgreSQL + pgvector)
//   - Manager: content-first façade pairing one Store with one Embedder
//
// Integration (see package integration):
//   - RETRIEVE phase: before each agent step, relevant memories are formatted
//     into a context block and injected as knowledge
//   - RECORD phase: after each step, the user and assistant turns are stored
//     as episodic memories
//
// Failures degrade capability, never availability: embedders fall back to
// zero vectors, retrieval falls back to an empty result, and the integration
// swallows every error it sees.
package memory
