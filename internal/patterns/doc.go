// Package patterns is the long-term pattern store: every repair attempt
// (success or failure) and every human resolution annotation is written
// here, and the repair loop reads similar historical fixes back by
// semantic similarity to an error signature.
//
// Storage is chromem-go, an embeddable pure-Go vector database, with
// embeddings produced by a pluggable Embedder (production wiring uses a
// langchaingo OpenAI-compatible client against a TEI or OpenAI endpoint).
package patterns
