// Package cases orchestrates installation cases: it loads a case, applies a
// milestone transition, validation refresh or cart change through the pure
// core packages, persists the result with an optimistic version check and
// appends one audit event per accepted change.
//
// Rejected changes persist nothing and emit no audit event.
//
// Wizard sessions live in memory, one per (case, flow). Each session is
// guarded by its own mutex; eligibility uploads resolve asynchronously
// through upload.Coordinator and only the latest upload for a step is
// applied.
package cases
