// Package collab implements HTTP clients for the external services the
// engine drives: the generation service, the sandbox executor, the
// browser validator, the static gate, and the regression suite runner.
//
// Failures are classified for the retry layer: network errors, 429s,
// and 5xx responses are transient; other non-2xx responses and
// malformed bodies are structural and never retried.
package collab
