package expr

import (
	"fmt"
	"reflect"
	"strings"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
)

// visitPlaceholders calls fn with the byte offset of every ? that is not
// inside a quoted literal or identifier.
func visitPlaceholders(sql string, fn func(i int)) {
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if quote != 0 {
			if ch == quote {
				// doubled quote is an escaped quote
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case '?':
			fn(i)
		}
	}
}

// CountPlaceholders returns the number of ? placeholders outside quotes
func CountPlaceholders(sql string) int {
	n := 0
	visitPlaceholders(sql, func(int) { n++ })
	return n
}

// Rebind rewrites every ? placeholder using the given 1-based formatter
func Rebind(sql string, placeholder func(index int) string) string {
	if placeholder == nil {
		return sql
	}
	var out strings.Builder
	out.Grow(len(sql) + 8)
	last, n := 0, 0
	visitPlaceholders(sql, func(i int) {
		n++
		out.WriteString(sql[last:i])
		out.WriteString(placeholder(n))
		last = i + 1
	})
	out.WriteString(sql[last:])
	return out.String()
}

// Flatten returns the elements of v when v is a slice or array other than
// []byte. The second result reports whether v was expanded.
func Flatten(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// Placeholders returns "?, ?, ..." with n slots
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ExpandSlices binds params to the ? placeholders of a raw fragment. Slice
// params widen their placeholder into a list.
func ExpandSlices(fragment string, params []any) (string, []any, error) {
	if got := CountPlaceholders(fragment); got != len(params) {
		return "", nil, fmt.Errorf("%w: fragment has %d placeholders but %d params", relormerrors.ErrBindCountMismatch, got, len(params))
	}

	var out strings.Builder
	args := make([]any, 0, len(params))
	last, n := 0, 0
	var err error
	visitPlaceholders(fragment, func(i int) {
		if err != nil {
			return
		}
		out.WriteString(fragment[last:i])
		last = i + 1
		value := params[n]
		n++
		if values, ok := Flatten(value); ok {
			if len(values) == 0 {
				err = fmt.Errorf("%w: placeholder %d bound to an empty list", relormerrors.ErrEmptySetCondition, n)
				return
			}
			out.WriteString(Placeholders(len(values)))
			args = append(args, values...)
			return
		}
		out.WriteByte('?')
		args = append(args, value)
	})
	if err != nil {
		return "", nil, err
	}
	out.WriteString(fragment[last:])
	return out.String(), args, nil
}

func isNameStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isNamePart(ch byte) bool {
	return isNameStart(ch) || (ch >= '0' && ch <= '9')
}

// ExpandNamed replaces :name tokens with positional placeholders bound from
// lookup. Every occurrence gets its own slot in first-occurrence order, so a
// name used twice binds its value twice. :: casts and quoted text are left
// alone.
func ExpandNamed(fragment string, lookup map[string]any) (string, []any, error) {
	var out strings.Builder
	var args []any
	var quote byte

	for i := 0; i < len(fragment); i++ {
		ch := fragment[i]
		if quote != 0 {
			out.WriteByte(ch)
			if ch == quote {
				if i+1 < len(fragment) && fragment[i+1] == quote {
					out.WriteByte(fragment[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch ch {
		case '\'', '"', '`':
			quote = ch
			out.WriteByte(ch)
			continue
		case '?':
			return "", nil, fmt.Errorf("%w: positional ? mixed with named placeholders", relormerrors.ErrMalformedNamedPlaceholder)
		case ':':
		default:
			out.WriteByte(ch)
			continue
		}

		// postgres cast: copy ::type verbatim
		if i+1 < len(fragment) && fragment[i+1] == ':' {
			j := i + 2
			for j < len(fragment) && isNamePart(fragment[j]) {
				j++
			}
			out.WriteString(fragment[i:j])
			i = j - 1
			continue
		}

		if i+1 >= len(fragment) || !isNameStart(fragment[i+1]) {
			return "", nil, fmt.Errorf("%w: bare ':' at offset %d", relormerrors.ErrMalformedNamedPlaceholder, i)
		}

		j := i + 1
		for j < len(fragment) && isNamePart(fragment[j]) {
			j++
		}
		name := fragment[i+1 : j]
		value, ok := lookup[name]
		if !ok {
			return "", nil, fmt.Errorf("%w: no value bound for :%s", relormerrors.ErrMalformedNamedPlaceholder, name)
		}

		if values, isList := Flatten(value); isList {
			if len(values) == 0 {
				return "", nil, fmt.Errorf("%w: :%s bound to an empty list", relormerrors.ErrEmptySetCondition, name)
			}
			out.WriteString(Placeholders(len(values)))
			args = append(args, values...)
		} else {
			out.WriteByte('?')
			args = append(args, value)
		}
		i = j - 1
	}

	if args == nil {
		args = []any{}
	}
	return out.String(), args, nil
}
