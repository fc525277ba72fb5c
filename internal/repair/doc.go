// Package repair implements the regression-safety repair loop.
//
// The loop's controlling invariant is that a fix is never committed if
// it increases the failing-test count relative to the pre-fix baseline.
// The baseline is captured exactly once per task before the first fix is
// applied and reused for every comparison, so a flaky suite cannot mask
// a regression introduced later in the same task.
package repair
