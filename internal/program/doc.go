// Package program compiles ownsim programs written in CUE.
//
// A program file declares one or more named programs:
//
//	program: move_semantics: {
//		description: "a vector moved twice"
//		steps: [
//			{op: "bind", name: "s", value: ["udon", "ramen", "soba"]},
//			{op: "move", from: "s", name: "t"},
//			{op: "read", name: "s", expect: error: "USE_AFTER_MOVE"},
//		]
//	}
//
// Each program is unified with the embedded #Program schema (closed, so a
// misspelt field is an error with a file position), converted to ir values
// (floats and null are rejected) and validated with ir.Program.Validate.
package program
