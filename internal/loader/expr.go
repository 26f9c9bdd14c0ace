package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raulshma/etlez-sub001/internal/mapper"
	"github.com/raulshma/etlez-sub001/internal/models"
)

// Evaluate applies the condition to a record.
func (c ConditionDefinition) Evaluate(record *models.DataRecord) bool {
	value, exists := record.Get(c.Field)
	switch c.Operator {
	case "exists":
		return exists
	case "not_exists":
		return !exists
	}
	if !exists {
		return false
	}

	switch c.Operator {
	case "eq":
		return looseEqual(value, c.Value)
	case "ne":
		return !looseEqual(value, c.Value)
	case "contains":
		return strings.Contains(stringify(value), stringify(c.Value))
	case "gt", "gte", "lt", "lte":
		left, lok := toFloat(value)
		right, rok := toFloat(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Operator {
		case "gt":
			return left > right
		case "gte":
			return left >= right
		case "lt":
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

// looseEqual compares values numerically when both sides parse as numbers,
// otherwise by string form. CSV sources produce strings, so a strict
// interface comparison would make definitions over mixed sources brittle.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// builtinTransforms names the transforms available to mapping definitions.
var builtinTransforms = map[string]mapper.TransformFunc{
	"trim": func(v interface{}) (interface{}, error) {
		return strings.TrimSpace(stringify(v)), nil
	},
	"uppercase": func(v interface{}) (interface{}, error) {
		return strings.ToUpper(stringify(v)), nil
	},
	"lowercase": func(v interface{}) (interface{}, error) {
		return strings.ToLower(stringify(v)), nil
	},
	"to_string": func(v interface{}) (interface{}, error) {
		return stringify(v), nil
	},
	"to_int": func(v interface{}) (interface{}, error) {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v to int", v)
		}
		return int64(f), nil
	},
	"to_float": func(v interface{}) (interface{}, error) {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v to float", v)
		}
		return f, nil
	},
}

// LookupTransform resolves a named builtin transform.
func LookupTransform(name string) (mapper.TransformFunc, error) {
	fn, ok := builtinTransforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return fn, nil
}

// buildAction compiles one action definition. Exactly one of set/copy/delete
// must be present.
func buildAction(def ActionDefinition) (func(record *models.DataRecord) error, error) {
	set := def.Set != ""
	cp := def.Copy != ""
	del := def.Delete != ""
	switch {
	case set && !cp && !del:
		field, value := def.Set, def.Value
		return func(record *models.DataRecord) error {
			record.Set(field, value)
			return nil
		}, nil
	case cp && !set && !del:
		if def.From == "" {
			return nil, fmt.Errorf("copy action for %q needs a from field", def.Copy)
		}
		dest, from := def.Copy, def.From
		return func(record *models.DataRecord) error {
			value, ok := record.Get(from)
			if !ok {
				return fmt.Errorf("copy source field %q not present", from)
			}
			record.Set(dest, value)
			return nil
		}, nil
	case del && !set && !cp:
		field := def.Delete
		return func(record *models.DataRecord) error {
			record.Delete(field)
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("action must have exactly one of set, copy, delete")
	}
}
