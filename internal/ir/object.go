package ir

import "fmt"

// Object forms of steps are shared by every front end: CUE programs, YAML
// scenarios and stored sessions all decode into an Object first and then
// call StepFromObject. Field names use snake_case.

var stepKeys = map[string]bool{
	"op": true, "name": true, "from": true, "value": true, "kind": true,
	"cond": true, "times": true, "then": true, "else": true, "body": true,
	"expect": true,
}

var expectKeys = map[string]bool{
	"error": true, "value": true, "refcount": true,
}

// ToObject converts the op to its Object form.
func (op Op) ToObject() Object {
	obj := Object{"op": String(op.Kind)}
	if op.Name != "" {
		obj["name"] = String(op.Name)
	}
	if op.From != "" {
		obj["from"] = String(op.From)
	}
	if op.Value != nil {
		obj["value"] = op.Value
	}
	if op.Type != "" {
		obj["kind"] = String(op.Type)
	}
	switch op.Kind {
	case OpIf:
		obj["cond"] = Bool(op.Cond)
		if len(op.Then) > 0 {
			obj["then"] = StepsToArray(op.Then)
		}
		if len(op.Else) > 0 {
			obj["else"] = StepsToArray(op.Else)
		}
	case OpLoop:
		obj["times"] = Int(op.Times)
		if len(op.Body) > 0 {
			obj["body"] = StepsToArray(op.Body)
		}
	}
	return obj
}

// ToObject converts the step to its Object form: the op's fields plus an
// optional "expect" object.
func (s Step) ToObject() Object {
	obj := s.Op.ToObject()
	if s.Expect != nil {
		exp := Object{}
		if s.Expect.Error != "" {
			exp["error"] = String(s.Expect.Error)
		}
		if s.Expect.Value != nil {
			exp["value"] = s.Expect.Value
		}
		if s.Expect.RefCount != nil {
			exp["refcount"] = Int(*s.Expect.RefCount)
		}
		obj["expect"] = exp
	}
	return obj
}

// StepsToArray converts steps to an Array of step objects.
func StepsToArray(steps []Step) Array {
	arr := make(Array, len(steps))
	for i, s := range steps {
		arr[i] = s.ToObject()
	}
	return arr
}

// StepsFromValue parses an Array of step objects.
func StepsFromValue(v Value) ([]Step, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("steps must be an array, got %s", TypeName(v))
	}
	steps := make([]Step, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(Object)
		if !ok {
			return nil, fmt.Errorf("steps[%d]: must be an object, got %s", i, TypeName(elem))
		}
		step, err := StepFromObject(obj)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// StepFromObject parses a step object. Unknown keys are rejected so typos
// ("form" for "from") fail loudly.
func StepFromObject(obj Object) (Step, error) {
	var step Step
	for _, k := range obj.SortedKeys() {
		if !stepKeys[k] {
			return step, fmt.Errorf("unknown field %q", k)
		}
	}

	kind, err := stringField(obj, "op", true)
	if err != nil {
		return step, err
	}
	op := Op{Kind: OpKind(kind)}
	if !ValidOpKinds[op.Kind] {
		return step, fmt.Errorf("unknown operation %q", kind)
	}

	if op.Name, err = stringField(obj, "name", false); err != nil {
		return step, err
	}
	if op.From, err = stringField(obj, "from", false); err != nil {
		return step, err
	}
	op.Value = obj["value"]

	typ, err := stringField(obj, "kind", false)
	if err != nil {
		return step, err
	}
	if op.Type, err = ParseKind(typ); err != nil {
		return step, err
	}

	if v, ok := obj["cond"]; ok {
		b, isBool := v.(Bool)
		if !isBool {
			return step, fmt.Errorf("cond must be a bool, got %s", TypeName(v))
		}
		op.Cond = bool(b)
	}
	if v, ok := obj["times"]; ok {
		n, isInt := v.(Int)
		if !isInt {
			return step, fmt.Errorf("times must be an int, got %s", TypeName(v))
		}
		op.Times = int(n)
	}
	for _, nested := range []struct {
		key string
		dst *[]Step
	}{{"then", &op.Then}, {"else", &op.Else}, {"body", &op.Body}} {
		v, ok := obj[nested.key]
		if !ok {
			continue
		}
		steps, err := StepsFromValue(v)
		if err != nil {
			return step, fmt.Errorf("%s: %w", nested.key, err)
		}
		*nested.dst = steps
	}

	step.Op = op

	if v, ok := obj["expect"]; ok {
		exp, err := expectationFromValue(v)
		if err != nil {
			return step, fmt.Errorf("expect: %w", err)
		}
		step.Expect = exp
	}

	return step, nil
}

func expectationFromValue(v Value) (*Expectation, error) {
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("must be an object, got %s", TypeName(v))
	}
	for _, k := range obj.SortedKeys() {
		if !expectKeys[k] {
			return nil, fmt.Errorf("unknown field %q", k)
		}
	}

	exp := &Expectation{Value: obj["value"]}
	var err error
	if exp.Error, err = stringField(obj, "error", false); err != nil {
		return nil, err
	}
	if rc, ok := obj["refcount"]; ok {
		n, isInt := rc.(Int)
		if !isInt {
			return nil, fmt.Errorf("refcount must be an int, got %s", TypeName(rc))
		}
		count := int64(n)
		exp.RefCount = &count
	}
	return exp, nil
}

func stringField(obj Object, key string, required bool) (string, error) {
	v, ok := obj[key]
	if !ok {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, isString := v.(String)
	if !isString {
		return "", fmt.Errorf("%s must be a string, got %s", key, TypeName(v))
	}
	return string(s), nil
}
