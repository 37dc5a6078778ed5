// Package harness runs ownership conformance scenarios.
//
// A scenario is a YAML file naming a program (inline steps, or a program
// in a CUE file) plus assertions about the trace it produces and the
// bindings it leaves behind. Every scenario runs against a fresh in-memory
// store with a deterministic clock and a fixed session ID, so its trace is
// byte-for-byte reproducible and can be compared with a golden file.
//
// # Scenario Format
//
//	name: move_vector
//	description: "a moved vector is only readable through its new owner"
//	session_id: test-session-move-vector   # optional
//	shadowing: false                        # optional
//	steps:
//	  - {op: bind, name: s, value: [udon, ramen, soba]}
//	  - {op: move, from: s, name: t}
//	  - {op: read, name: s, expect: {error: USE_AFTER_MOVE}}
//	assertions:
//	  - type: live
//	    names: [t]
//	  - type: trace_contains
//	    op: read
//	    name: s
//	    code: USE_AFTER_MOVE
//
// Instead of steps, a scenario may name a CUE file and a program in it:
//
//	source: ../programs/loops.cue
//	program: loop_reassign
//
// The source path is relative to the scenario file.
//
// # Assertion Types
//
//   - live: every listed name is visible and owns its value
//   - dead: every listed name is gone, moved, dropped or maybe-moved
//   - refcount: a live shared handle's count equals count
//   - released: exactly count events released a shared cell
//   - trace_contains: some event matches op (and name, outcome, code)
//   - trace_order: events matching ops appear in that order
//   - trace_count: exactly count events match op (and name)
//   - error_count: exactly count events failed (with code, if given)
//
// Step expectations are checked as the program runs; the first step that
// does not behave as expected stops the program and fails the scenario.
package harness
