package program

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/ownsim/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Schema returns the #Program definition compiled in ctx.
func Schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile program schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Program")), nil
}

// CompileProgram turns a CUE program struct into an ir.Program.
//
// The program name comes from the struct's label, e.g.:
//
//	v := ctx.CompileString(`program: move: { steps: [...] }`)
//	p, err := CompileProgram(v.LookupPath(cue.ParsePath("program.move")))
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def, err := Schema(v.Context())
	if err != nil {
		return nil, err
	}
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Program{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		p.Name = labels[len(labels)-1].String()
	}

	if d := unified.LookupPath(cue.ParsePath("description")); d.Exists() {
		if p.Description, err = d.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if p.Shadowing, err = unified.LookupPath(cue.ParsePath("shadowing")).Bool(); err != nil {
		return nil, formatCUEError(err)
	}

	p.Steps, err = compileSteps(unified.LookupPath(cue.ParsePath("steps")))
	if err != nil {
		return nil, err
	}

	if errs := p.Validate(); len(errs) > 0 {
		return nil, &CompileError{
			Field:   errs[0].Field,
			Message: errs[0].Message,
			Pos:     v.Pos(),
		}
	}

	return p, nil
}

// compileSteps converts each step separately so errors point at the step.
func compileSteps(v cue.Value) ([]ir.Step, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	steps := []ir.Step{}
	for i := 0; iter.Next(); i++ {
		elem := iter.Value()
		field := fmt.Sprintf("steps[%d]", i)

		val, err := toValue(elem, field)
		if err != nil {
			return nil, err
		}
		obj, ok := val.(ir.Object)
		if !ok {
			return nil, &CompileError{Field: field, Message: "step must be a struct", Pos: elem.Pos()}
		}
		step, err := ir.StepFromObject(obj)
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: elem.Pos()}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// toValue converts a concrete CUE value to an ir.Value. CUE numbers with a
// fraction and null have no ir form.
func toValue(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.Int(n), nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := toValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			label := iter.Label()
			elem, err := toValue(iter.Value(), field+"."+label)
			if err != nil {
				return nil, err
			}
			obj[label] = elem
		}
		return obj, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: field, Message: "floats are not allowed; use int", Pos: v.Pos()}

	case cue.NullKind:
		return nil, &CompileError{Field: field, Message: "null is not allowed", Pos: v.Pos()}
	}

	return nil, &CompileError{Field: field, Message: fmt.Sprintf("unsupported value of kind %s", v.Kind()), Pos: v.Pos()}
}
