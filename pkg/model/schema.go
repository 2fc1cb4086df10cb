package model

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/pay-theory/relorm/pkg/scope"
)

// documentSchema is the JSON Schema every schema document must satisfy
const documentSchema = `{
  "type": "object",
  "required": ["types"],
  "additionalProperties": false,
  "properties": {
    "types": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
          "table": {"type": "string"},
          "primary_key": {"type": "array", "items": {"type": "string"}},
          "columns": {"type": "array", "items": {"type": "string"}},
          "default_scope": {"$ref": "#/definitions/scope"},
          "scopes": {"type": "object", "additionalProperties": {"$ref": "#/definitions/scope"}},
          "associations": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "kind"],
              "additionalProperties": false,
              "properties": {
                "name": {"type": "string"},
                "kind": {"enum": ["belongs_to", "has_one", "has_many", "has_many_through", "has_and_belongs_to_many", "habtm", "polymorphic_belongs_to", "polymorphic_has_many"]},
                "target": {"type": "string"},
                "local_key": {"type": "string"},
                "foreign_key": {"type": "string"},
                "through": {"type": "string"},
                "source": {"type": "string"},
                "as": {"type": "string"},
                "type_column": {"type": "string"},
                "join_table": {"type": "string"},
                "association_foreign_key": {"type": "string"},
                "dependent": {"enum": ["", "destroy", "delete", "nullify", "restrict"]}
              }
            }
          }
        }
      }
    }
  },
  "definitions": {
    "scope": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "where": {"type": "object"},
        "order": {"type": "string"}
      }
    }
  }
}`

// Schema is a declarative set of types and associations
type Schema struct {
	Types []TypeSpec `yaml:"types"`
}

// TypeSpec declares one type in a schema document
type TypeSpec struct {
	Name         string               `yaml:"name"`
	Table        string               `yaml:"table"`
	PrimaryKey   []string             `yaml:"primary_key"`
	Columns      []string             `yaml:"columns"`
	DefaultScope *ScopeSpec           `yaml:"default_scope"`
	Scopes       map[string]ScopeSpec `yaml:"scopes"`
	Associations []AssociationSpec    `yaml:"associations"`
}

// ScopeSpec is a declarative scope: equality conditions plus an order
type ScopeSpec struct {
	Where map[string]any `yaml:"where"`
	Order string         `yaml:"order"`
}

// AssociationSpec declares one association in a schema document
type AssociationSpec struct {
	Name                  string `yaml:"name"`
	Kind                  string `yaml:"kind"`
	Target                string `yaml:"target"`
	LocalKey              string `yaml:"local_key"`
	ForeignKey            string `yaml:"foreign_key"`
	Through               string `yaml:"through"`
	Source                string `yaml:"source"`
	As                    string `yaml:"as"`
	TypeColumn            string `yaml:"type_column"`
	JoinTable             string `yaml:"join_table"`
	AssociationForeignKey string `yaml:"association_foreign_key"`
	Dependent             string `yaml:"dependent"`
}

// Func builds the scope described by the spec
func (s ScopeSpec) Func() scope.Func {
	where := s.Where
	order := s.Order
	return func(q *query.Query, _ ...any) *query.Query {
		if len(where) > 0 {
			q = q.Where(condition.Hash(where))
		}
		if order != "" {
			q = q.OrderBy(order)
		}
		return q
	}
}

// ParseSchema decodes and validates a YAML (or JSON) schema document
func ParseSchema(data []byte) (*Schema, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidSchema, err)
	}

	schemaLoader := gojsonschema.NewStringLoader(documentSchema)
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidSchema, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		sort.Strings(msgs)
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidSchema, strings.Join(msgs, "; "))
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidSchema, err)
	}
	return &schema, nil
}

// LoadSchemaFile reads and applies a schema document from disk
func (r *Registry) LoadSchemaFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", path, err)
	}
	return r.LoadSchema(data)
}

// LoadSchemaReader reads and applies a schema document
func (r *Registry) LoadSchemaReader(reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return r.LoadSchema(data)
}

// LoadSchema validates a schema document and registers its types, then its
// scopes and associations. Associations are registered in document order,
// so a through association must follow the association it goes through.
func (r *Registry) LoadSchema(data []byte) error {
	schema, err := ParseSchema(data)
	if err != nil {
		return err
	}
	return r.Apply(schema)
}

// Apply registers every type, scope and association of a parsed schema
func (r *Registry) Apply(schema *Schema) error {
	for _, ts := range schema.Types {
		if _, err := r.DefineType(Definition{
			Name:       ts.Name,
			Table:      ts.Table,
			PrimaryKey: ts.PrimaryKey,
			Columns:    ts.Columns,
		}); err != nil {
			return err
		}
	}

	for _, ts := range schema.Types {
		if ts.DefaultScope != nil {
			if err := r.SetDefaultScope(ts.Name, ts.DefaultScope.Func()); err != nil {
				return err
			}
		}
		names := make([]string, 0, len(ts.Scopes))
		for name := range ts.Scopes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := r.DefineScope(ts.Name, name, ts.Scopes[name].Func()); err != nil {
				return err
			}
		}
	}

	for _, ts := range schema.Types {
		for _, as := range ts.Associations {
			if err := r.registerSpec(ts.Name, as); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) registerSpec(owner string, as AssociationSpec) error {
	kind, err := ParseKind(as.Kind)
	if err != nil {
		return err
	}
	dependent, err := parseDependent(as.Dependent)
	if err != nil {
		return err
	}

	opts := []Option{WithDependent(dependent)}
	if as.Through != "" {
		opts = append(opts, Through(as.Through))
	}
	if as.Source != "" {
		opts = append(opts, Source(as.Source))
	}
	if as.TypeColumn != "" {
		opts = append(opts, Polymorphic(as.TypeColumn))
	}
	if as.As != "" {
		opts = append(opts, As(as.As))
	}
	if as.JoinTable != "" {
		opts = append(opts, JoinTable(as.JoinTable))
	}
	if as.AssociationForeignKey != "" {
		opts = append(opts, AssociationForeignKey(as.AssociationForeignKey))
	}
	return r.Register(owner, as.Name, kind, as.Target, as.LocalKey, as.ForeignKey, opts...)
}
