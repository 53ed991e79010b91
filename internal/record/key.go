package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NormalizeValue converts driver values into comparable Go values: byte
// slices become strings.
func NormalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Key canonicalizes a key value so that the same key read through different
// drivers (int64, []byte, string, uuid) groups together.
func Key(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return canonicalString(val)
	case []byte:
		return canonicalString(string(val))
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case uuid.UUID:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// TupleKey canonicalizes a composite key.
func TupleKey(values ...any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Key(v)
	}
	return strings.Join(parts, "\x1f")
}

func canonicalString(s string) string {
	if u, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return u.String()
	}
	return s
}
