// Package association turns association specs into join clauses.
//
// A spec names associations to join, possibly nested to any depth:
//
//	"author"
//	[]string{"author", "tags"}
//	map[string]any{"comments": []any{"author", map[string]any{"post": "tags"}}}
//
// Resolution walks the spec depth first. Each name is looked up on the type
// most recently joined by its parent, and siblings are resolved against the
// same parent in input order.
package association

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pay-theory/relorm/pkg/errors"
)

// Spec is one requested association and the associations to join beneath it
type Spec struct {
	Name     string
	Children []Spec
}

// String renders the spec in a compact form: a(b, c(d))
func (s Spec) String() string {
	if len(s.Children) == 0 {
		return s.Name
	}
	parts := make([]string, len(s.Children))
	for i, c := range s.Children {
		parts[i] = c.String()
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Names returns the top-level names
func Names(specs []Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// Parse converts caller input into specs. Accepted inputs are string,
// []string, Spec, []Spec, []any and maps from name to any accepted input.
// Map keys are taken in sorted order.
func Parse(input any) ([]Spec, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case string:
		name := strings.TrimSpace(v)
		if name == "" {
			return nil, fmt.Errorf("%w: empty association name", errors.ErrInvalidAssociation)
		}
		return []Spec{{Name: name}}, nil
	case Spec:
		if strings.TrimSpace(v.Name) == "" {
			return nil, fmt.Errorf("%w: empty association name", errors.ErrInvalidAssociation)
		}
		return []Spec{v}, nil
	case []Spec:
		out := make([]Spec, 0, len(v))
		for _, s := range v {
			parsed, err := Parse(s)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	case []string:
		out := make([]Spec, 0, len(v))
		for _, s := range v {
			parsed, err := Parse(s)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	case []any:
		var out []Spec
		for _, item := range v {
			parsed, err := Parse(item)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	case map[string]any:
		return parseMap(len(v), func(yield func(string, any)) {
			for k, val := range v {
				yield(k, val)
			}
		})
	case map[string]string:
		return parseMap(len(v), func(yield func(string, any)) {
			for k, val := range v {
				yield(k, val)
			}
		})
	case map[string][]string:
		return parseMap(len(v), func(yield func(string, any)) {
			for k, val := range v {
				yield(k, val)
			}
		})
	}
	return nil, fmt.Errorf("%w: unsupported association spec %T", errors.ErrInvalidAssociation, input)
}

func parseMap(n int, each func(yield func(string, any))) ([]Spec, error) {
	keys := make([]string, 0, n)
	values := make(map[string]any, n)
	each(func(k string, v any) {
		keys = append(keys, k)
		values[k] = v
	})
	sort.Strings(keys)

	out := make([]Spec, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimSpace(k)
		if name == "" {
			return nil, fmt.Errorf("%w: empty association name", errors.ErrInvalidAssociation)
		}
		children, err := Parse(values[k])
		if err != nil {
			return nil, err
		}
		out = append(out, Spec{Name: name, Children: children})
	}
	return out, nil
}
