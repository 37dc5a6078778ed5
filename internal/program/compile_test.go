package program

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
)

func compile(t *testing.T, src, name string) (*ir.Program, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("test.cue"))
	require.NoError(t, v.Err())
	return CompileProgram(v.LookupPath(cue.ParsePath("program." + name)))
}

func TestCompileProgramBasic(t *testing.T) {
	p, err := compile(t, `
		program: copy_independent: {
			description: "copies are independent"
			steps: [
				{op: "bind", name: "s", value: "Govinda", kind: "copy"},
				{op: "copy", from: "s", name: "t"},
				{op: "mutate", name: "t", value: "Siddhartha"},
				{op: "read", name: "s", expect: value: "Govinda"},
			]
		}
	`, "copy_independent")
	require.NoError(t, err)

	assert.Equal(t, "copy_independent", p.Name)
	assert.Equal(t, "copies are independent", p.Description)
	assert.False(t, p.Shadowing, "shadowing defaults to false")
	require.Len(t, p.Steps, 4)
	assert.Equal(t, ir.OpBind, p.Steps[0].Op.Kind)
	assert.Equal(t, ir.KindCopy, p.Steps[0].Op.Type)
	assert.Equal(t, ir.String("Govinda"), p.Steps[0].Op.Value)
	require.NotNil(t, p.Steps[3].Expect)
	assert.Equal(t, ir.String("Govinda"), p.Steps[3].Expect.Value)
}

func TestCompileProgramNestedAndValues(t *testing.T) {
	p, err := compile(t, `
		program: nested: {
			shadowing: true
			steps: [
				{op: "bind", name: "p", value: {name: "Palestrina", birth: 1525}},
				{op: "if", cond: false, then: [{op: "move", from: "p", name: "q"}]},
				{op: "read", name: "p", expect: error: "USE_AFTER_MOVE"},
			]
		}
	`, "nested")
	require.NoError(t, err)

	assert.True(t, p.Shadowing)
	assert.Equal(t, ir.NewObject(ir.O("name", ir.String("Palestrina")), ir.O("birth", ir.Int(1525))), p.Steps[0].Op.Value)
	require.Len(t, p.Steps[1].Op.Then, 1)
	assert.Equal(t, "q", p.Steps[1].Op.Then[0].Op.Name)
	assert.Equal(t, "USE_AFTER_MOVE", p.Steps[2].Expect.Error)
}

func TestCompileProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"typo field", `program: p: steps: [{op: "move", form: "s", name: "t"}]`, "not allowed"},
		{"float value", `program: p: steps: [{op: "bind", name: "x", value: 2.5}]`, "floats"},
		{"null value", `program: p: steps: [{op: "bind", name: "x", value: null}]`, "null"},
		{"nested float", `program: p: steps: [{op: "bind", name: "x", value: [1, 2.5]}]`, "floats"},
		{"missing name", `program: p: steps: [{op: "bind", value: 1}]`, "name is required"},
		{"nested expect", `program: p: steps: [{op: "loop", times: 1, body: [{op: "begin", expect: error: "UNBOUND"}]}]`, "top-level"},
		{"nested typo", `program: p: steps: [{op: "if", cond: true, then: [{op: "read", nmae: "x"}]}]`, `unknown field "nmae"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src, "p")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)

			var ce *CompileError
			assert.True(t, errors.As(err, &ce), "error should carry a position: %v", err)
		})
	}
}

func TestCompileProgramSchemaRejects(t *testing.T) {
	for name, src := range map[string]string{
		"unknown op":      `program: p: steps: [{op: "borrow", name: "x"}]`,
		"unknown kind":    `program: p: steps: [{op: "bind", name: "x", value: 1, kind: "borrowed"}]`,
		"unknown code":    `program: p: steps: [{op: "read", name: "x", expect: error: "OOPS"}]`,
		"negative times":  `program: p: steps: [{op: "loop", times: -1, body: [{op: "begin"}]}]`,
		"empty steps":     `program: p: steps: []`,
		"empty name":      `program: p: steps: [{op: "read", name: ""}]`,
		"unknown program": `program: p: {steps: [{op: "begin"}], author: "me"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := compile(t, src, "p")
			assert.Error(t, err)
		})
	}
}

func TestSchemaErrorCodesMatchSimulator(t *testing.T) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	require.NoError(t, schema.Err())
	codes := schema.LookupPath(cue.ParsePath("#ErrorCode"))

	for code := range sim.ValidErrorCodes {
		v := codes.Unify(ctx.Encode(string(code)))
		assert.NoError(t, v.Validate(cue.Concrete(true)), "schema is missing %s", code)
	}
}

func TestSchemaOpKindsMatchIR(t *testing.T) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	require.NoError(t, schema.Err())
	kinds := schema.LookupPath(cue.ParsePath("#OpKind"))

	for kind := range ir.ValidOpKinds {
		v := kinds.Unify(ctx.Encode(string(kind)))
		assert.NoError(t, v.Validate(cue.Concrete(true)), "schema is missing %s", kind)
	}
}
