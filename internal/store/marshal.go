package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/ownsim/internal/ir"
)

// Everything structured is stored as RFC 8785 canonical JSON TEXT so that
// identical data is byte-identical in the database.

func marshalValue(v ir.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalValue(data sql.NullString) (ir.Value, error) {
	if !data.Valid {
		return nil, nil
	}
	v, err := ir.UnmarshalValue([]byte(data.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func marshalNames(names []string) (string, error) {
	data, err := ir.MarshalCanonical(ir.Strings(names...))
	if err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	return string(data), nil
}

// unmarshalNames returns nil for an empty list so events read back equal
// the events the simulator emitted.
func unmarshalNames(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("unmarshal names: expected array, got %s", ir.TypeName(v))
	}
	names := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(ir.String)
		if !ok {
			return nil, fmt.Errorf("unmarshal names: [%d] is %s", i, ir.TypeName(elem))
		}
		names = append(names, string(s))
	}
	return names, nil
}

func marshalOp(op ir.Op) (string, error) {
	data, err := ir.MarshalCanonical(op.Shallow().ToObject())
	if err != nil {
		return "", fmt.Errorf("marshal op: %w", err)
	}
	return string(data), nil
}

func unmarshalOp(data string) (ir.Op, error) {
	obj, err := ir.UnmarshalObject([]byte(data))
	if err != nil {
		return ir.Op{}, fmt.Errorf("unmarshal op: %w", err)
	}
	step, err := ir.StepFromObject(obj)
	if err != nil {
		return ir.Op{}, fmt.Errorf("unmarshal op: %w", err)
	}
	return step.Op, nil
}

func marshalSteps(steps []ir.Step) (string, error) {
	data, err := ir.MarshalCanonical(ir.StepsToArray(steps))
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	return string(data), nil
}

func unmarshalSteps(data string) ([]ir.Step, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	steps, err := ir.StepsFromValue(v)
	if err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return steps, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
