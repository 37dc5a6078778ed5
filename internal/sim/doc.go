// Package sim implements the ownsim ownership simulator.
//
// A Simulator tracks bindings across a stack of scopes. Each binding owns a
// value (owned or copy kind) or holds a handle to a reference-counted cell
// (shared kind). Operations move, copy, clone, share and drop bindings; a
// binding whose value has moved away is dead and any later read fails with
// UseAfterMoveError.
//
// EXECUTION MODEL:
//
// Every operation goes through Apply, which:
//  1. Stamps a seq from the logical clock (never wall-clock time)
//  2. Enforces the max-steps quota
//  3. Dispatches the operation (failed operations leave state unchanged)
//  4. Emits an ir.Event to the configured Recorder
//
// Control operations (if, loop) check every path on a snapshot before
// running the real one, the way a compiler checks moves under control flow.
// Bindings that only some paths move become maybe-moved: they still hold
// their value (and are dropped at scope end) but cannot be read.
//
// DETERMINISM:
//
// The same program, session ID and options always produce the same events
// with the same content-addressed IDs. Replay relies on this.
package sim
