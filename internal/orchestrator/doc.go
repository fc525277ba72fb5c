// Package orchestrator drives tasks through their lifecycle: intake,
// complexity scoring, routing, generation, static gating, execution,
// validation, repair, and finally resolution or escalation.
//
// Each active task is owned by exactly one worker goroutine; shared
// state (the budget ledger, the pattern store, the escalation queue) is
// internally synchronized. Every state transition emits an immutable
// TransitionRecord and is written through to the state store, so a
// restarted daemon can account for every task it was driving.
package orchestrator
