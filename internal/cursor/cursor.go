// Package cursor encodes pagination cursors as opaque tokens for transports.
// A token is base64-encoded JSON carrying the model, the pagination mode and
// a typed primary key value, so integer and UUID keys survive the round trip.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Mode is the pagination flavour a token belongs to.
type Mode string

const (
	// Cursor pages walk primary keys in descending order.
	Cursor Mode = "cursor"
	// Scroll pages walk primary keys in ascending order.
	Scroll Mode = "scroll"
)

const version = 1

type payload struct {
	Version int    `json:"v"`
	Model   string `json:"m"`
	Mode    Mode   `json:"o"`
	Kind    string `json:"k"`
	Value   string `json:"val"`
}

// Token is a decoded cursor.
type Token struct {
	Model string
	Mode  Mode
	// Value is the last primary key of the previous page: an int64, a
	// uuid.UUID or a string.
	Value any
}

// Encode builds an opaque token. A nil value means there is no next page and
// encodes to "".
func Encode(model string, mode Mode, value any) (string, error) {
	if value == nil {
		return "", nil
	}
	kind, s, err := coerce(value)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload{Version: version, Model: model, Mode: mode, Kind: kind, Value: s})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a token. An empty token decodes to the zero Token, whose nil
// Value starts from the first page.
func Decode(raw string) (Token, error) {
	if raw == "" {
		return Token{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Token{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Token{}, fmt.Errorf("invalid cursor format")
	}
	if p.Version != version {
		return Token{}, fmt.Errorf("invalid cursor format: unsupported version %d", p.Version)
	}
	if p.Model == "" {
		return Token{}, fmt.Errorf("invalid cursor: missing model")
	}
	if p.Mode != Cursor && p.Mode != Scroll {
		return Token{}, fmt.Errorf("invalid cursor: unknown mode %q", p.Mode)
	}
	value, err := parse(p.Kind, p.Value)
	if err != nil {
		return Token{}, fmt.Errorf("invalid cursor value: %w", err)
	}
	return Token{Model: p.Model, Mode: p.Mode, Value: value}, nil
}

// Validate confirms the token was issued for the same model and mode. The
// zero Token is always valid.
func (t Token) Validate(model string, mode Mode) error {
	if t.Value == nil {
		return nil
	}
	if t.Model != model {
		return fmt.Errorf("cursor model mismatch: expected %s, got %s", model, t.Model)
	}
	if t.Mode != mode {
		return fmt.Errorf("cursor mode mismatch: expected %s, got %s", mode, t.Mode)
	}
	return nil
}

func coerce(v any) (kind, value string, err error) {
	switch val := v.(type) {
	case string:
		return "string", val, nil
	case []byte:
		return "string", string(val), nil
	case uuid.UUID:
		return "uuid", val.String(), nil
	case int:
		return "int", strconv.FormatInt(int64(val), 10), nil
	case int32:
		return "int", strconv.FormatInt(int64(val), 10), nil
	case int64:
		return "int", strconv.FormatInt(val, 10), nil
	case uint32:
		return "int", strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return "int", strconv.FormatUint(val, 10), nil
	case time.Time:
		return "time", val.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", "", fmt.Errorf("cursor: unsupported key type %T", v)
	}
}

func parse(kind, s string) (any, error) {
	switch kind {
	case "string":
		return s, nil
	case "uuid":
		return uuid.Parse(s)
	case "int":
		return strconv.ParseInt(s, 10, 64)
	case "time":
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}
