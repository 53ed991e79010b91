package schemafile

import (
	"fmt"

	"dreamorm/internal/ops"
	"dreamorm/internal/registry"
)

func (cd ConditionsDecl) conditions() (registry.Conditions, error) {
	c := registry.Conditions{Order: cd.Order, Distinct: cd.Distinct}
	var err error
	if c.And, err = decodeMap(cd.And); err != nil {
		return c, err
	}
	if c.AndNot, err = decodeMap(cd.AndNot); err != nil {
		return c, err
	}
	for _, group := range cd.AndAny {
		g, err := decodeMap(group)
		if err != nil {
			return c, err
		}
		c.AndAny = append(c.AndAny, g)
	}
	return c, nil
}

func decodeMap(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for column, v := range in {
		value, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("condition on %s: %w", column, err)
		}
		out[column] = value
	}
	return out, nil
}

// decodeValue turns a single-key operator map into an ops.Op. Other values
// pass through unchanged.
func decodeValue(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("operator map must have exactly one key, got %d", len(m))
	}
	for name, arg := range m {
		switch name {
		case "not":
			inner, err := decodeValue(arg)
			if err != nil {
				return nil, err
			}
			return ops.Not(inner), nil
		case "in":
			list, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("in expects a list")
			}
			return ops.In(list...), nil
		case "gt":
			return ops.GreaterThan(arg), nil
		case "gte":
			return ops.GreaterThanOrEqual(arg), nil
		case "lt":
			return ops.LessThan(arg), nil
		case "lte":
			return ops.LessThanOrEqual(arg), nil
		case "between":
			list, ok := arg.([]any)
			if !ok || len(list) != 2 {
				return nil, fmt.Errorf("between expects [min, max]")
			}
			return ops.Range(list[0], list[1]), nil
		case "similar":
			text, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("similar expects a string")
			}
			return ops.Similarity(text), nil
		default:
			return nil, fmt.Errorf("unknown operator %q", name)
		}
	}
	return nil, nil
}
