// Package task defines the task lifecycle model shared by the orchestrator,
// repair loop, and escalation queue: the Task record itself, its status and
// tier enums, immutable transition records, the collaborator contracts
// (generator, executor, validator, static gate, regression suite), and the
// error taxonomy used across the engine.
package task
