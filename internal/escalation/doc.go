// Package escalation implements the human-in-the-loop priority queue.
//
// When the orchestrator gives up on automated repair it enqueues an
// entry here with a priority score, and a human reviewer works the queue
// in priority order. Resolution attaches an annotation, which is written
// through to the pattern store so future repairs can learn from it.
// Entries are never dequeued in FIFO order; the priority-descending sort
// is a presentation guarantee for the reviewer, not a processing order.
package escalation
