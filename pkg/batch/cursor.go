package batch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/query"
)

// cursorToken is the wire form of a CursorState
type cursorToken struct {
	Columns    []string         `json:"cols"`
	Values     []map[string]any `json:"vals"`
	Directions []string         `json:"dirs,omitempty"`
	Size       int              `json:"size"`
}

// EncodeCursor encodes a keyset position into an opaque URL-safe token. A
// state without values encodes to the empty string.
func EncodeCursor(state CursorState) (string, error) {
	if len(state.Values) == 0 {
		return "", nil
	}
	if len(state.Values) != len(state.Columns) {
		return "", fmt.Errorf("%w: %d cursor values for %d columns", errors.ErrInvalidBatchConfiguration, len(state.Values), len(state.Columns))
	}

	token := cursorToken{Columns: state.Columns, Size: state.BatchSize}
	for i, v := range state.Values {
		encoded, err := valueToJSON(v)
		if err != nil {
			return "", fmt.Errorf("cursor column %s: %w", state.Columns[i], err)
		}
		token.Values = append(token.Values, encoded)
	}
	for _, d := range state.Directions {
		token.Directions = append(token.Directions, string(d))
	}

	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a token produced by EncodeCursor. The empty token
// decodes to a zero state.
func DecodeCursor(encoded string) (CursorState, error) {
	if encoded == "" {
		return CursorState{}, nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return CursorState{}, fmt.Errorf("%w: failed to decode cursor: %v", errors.ErrInvalidBatchConfiguration, err)
	}
	var token cursorToken
	if err := json.Unmarshal(data, &token); err != nil {
		return CursorState{}, fmt.Errorf("%w: failed to unmarshal cursor: %v", errors.ErrInvalidBatchConfiguration, err)
	}
	if len(token.Values) != len(token.Columns) || len(token.Columns) == 0 {
		return CursorState{}, fmt.Errorf("%w: cursor has %d values for %d columns", errors.ErrInvalidBatchConfiguration, len(token.Values), len(token.Columns))
	}

	state := CursorState{Columns: token.Columns, BatchSize: token.Size}
	for i, raw := range token.Values {
		v, err := jsonToValue(raw)
		if err != nil {
			return CursorState{}, fmt.Errorf("%w: cursor column %s: %v", errors.ErrInvalidBatchConfiguration, token.Columns[i], err)
		}
		state.Values = append(state.Values, v)
	}
	for _, d := range token.Directions {
		dir, err := query.ParseDirection(d)
		if err != nil {
			return CursorState{}, fmt.Errorf("%w: %v", errors.ErrInvalidBatchConfiguration, err)
		}
		state.Directions = append(state.Directions, dir)
	}
	return state, nil
}

// valueToJSON tags a cursor value with its kind so it decodes to the same Go
// type; integers travel as strings to survive float64 JSON numbers
func valueToJSON(v any) (map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return map[string]any{"null": true}, nil
	case string:
		return map[string]any{"s": x}, nil
	case []byte:
		return map[string]any{"b": base64.StdEncoding.EncodeToString(x)}, nil
	case bool:
		return map[string]any{"bool": x}, nil
	case int:
		return map[string]any{"i": strconv.FormatInt(int64(x), 10)}, nil
	case int32:
		return map[string]any{"i": strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return map[string]any{"i": strconv.FormatInt(x, 10)}, nil
	case uint:
		return map[string]any{"u": strconv.FormatUint(uint64(x), 10)}, nil
	case uint32:
		return map[string]any{"u": strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return map[string]any{"u": strconv.FormatUint(x, 10)}, nil
	case float32:
		return map[string]any{"f": strconv.FormatFloat(float64(x), 'g', -1, 32)}, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite cursor value", errors.ErrInvalidBatchConfiguration)
		}
		return map[string]any{"f": strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case time.Time:
		return map[string]any{"t": x.Format(time.RFC3339Nano)}, nil
	}
	return nil, fmt.Errorf("%w: unsupported cursor value type %T", errors.ErrInvalidBatchConfiguration, v)
}

func jsonToValue(m map[string]any) (any, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("expected one tagged value, got %d", len(m))
	}
	str := func(key string) (string, error) {
		s, ok := m[key].(string)
		if !ok {
			return "", fmt.Errorf("%s value must be string", key)
		}
		return s, nil
	}

	if _, ok := m["null"]; ok {
		return nil, nil
	}
	if val, ok := m["bool"]; ok {
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("bool value must be bool")
		}
		return b, nil
	}
	if _, ok := m["s"]; ok {
		return str("s")
	}
	if _, ok := m["b"]; ok {
		s, err := str("b")
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	}
	if _, ok := m["i"]; ok {
		s, err := str("i")
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	if _, ok := m["u"]; ok {
		s, err := str("u")
		if err != nil {
			return nil, err
		}
		return strconv.ParseUint(s, 10, 64)
	}
	if _, ok := m["f"]; ok {
		s, err := str("f")
		if err != nil {
			return nil, err
		}
		return strconv.ParseFloat(s, 64)
	}
	if _, ok := m["t"]; ok {
		s, err := str("t")
		if err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	for k := range m {
		return nil, fmt.Errorf("unknown value tag %q", k)
	}
	return nil, nil
}

// Page fetches one keyset page of q starting after token and returns the
// rows with the token of the next page. The next token is empty when the
// page came back short. Columns, directions and size recorded in the token
// take precedence over cfg.
func Page(ctx context.Context, exec core.Executor, q *query.Query, cfg Config, token string) ([]core.Row, string, error) {
	state, err := DecodeCursor(token)
	if err != nil {
		return nil, "", err
	}
	if token != "" {
		cfg.Columns = state.Columns
		if len(state.Directions) > 0 {
			cfg.Directions = state.Directions
		}
		if state.BatchSize > 0 {
			cfg.Size = state.BatchSize
		}
	}

	it, err := New(exec, q, cfg)
	if err != nil {
		return nil, "", err
	}
	if token != "" {
		it.state.Values = state.Values
	}
	if !it.Next(ctx) {
		if err := it.Err(); err != nil {
			return nil, "", err
		}
		return []core.Row{}, "", nil
	}

	rows := it.Batch()
	if it.done {
		return rows, "", nil
	}
	next, err := EncodeCursor(it.State())
	if err != nil {
		return nil, "", err
	}
	return rows, next, nil
}
