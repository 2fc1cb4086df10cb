package model

import (
	"fmt"
	"strings"

	"github.com/pay-theory/relorm/pkg/errors"
)

// Kind is the relationship flavour of an association
type Kind int

// Association kinds
const (
	BelongsTo Kind = iota + 1
	HasOne
	HasMany
	HasManyThrough
	HasAndBelongsToMany
	PolymorphicBelongsTo
	PolymorphicHasMany
)

var kindNames = map[Kind]string{
	BelongsTo:            "belongs_to",
	HasOne:               "has_one",
	HasMany:              "has_many",
	HasManyThrough:       "has_many_through",
	HasAndBelongsToMany:  "has_and_belongs_to_many",
	PolymorphicBelongsTo: "polymorphic_belongs_to",
	PolymorphicHasMany:   "polymorphic_has_many",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the snake_case kind names used in schema documents
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	if s == "habtm" {
		return HasAndBelongsToMany, nil
	}
	return 0, fmt.Errorf("%w: unknown association kind %q", errors.ErrInvalidAssociation, s)
}

// Collection reports whether the association loads many records per owner
func (k Kind) Collection() bool {
	switch k {
	case HasMany, HasManyThrough, HasAndBelongsToMany, PolymorphicHasMany:
		return true
	}
	return false
}

// Dependent is the deletion policy recorded for an association. relorm
// stores it for persistence layers; the query core never acts on it.
type Dependent string

// Dependent policies
const (
	DependentNone     Dependent = ""
	DependentDestroy  Dependent = "destroy"
	DependentDelete   Dependent = "delete"
	DependentNullify  Dependent = "nullify"
	DependentRestrict Dependent = "restrict"
)

func parseDependent(s string) (Dependent, error) {
	switch d := Dependent(strings.ToLower(strings.TrimSpace(s))); d {
	case DependentNone, DependentDestroy, DependentDelete, DependentNullify, DependentRestrict:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown dependent policy %q", errors.ErrInvalidAssociation, s)
}

// Association describes one named relationship of an owner type.
//
// LocalKey is always a column of the owner's table and ForeignKey a column
// of the other side: the target table, or the join table for
// HasAndBelongsToMany. For BelongsTo, LocalKey is author_id and ForeignKey
// the author's primary key; for HasMany, LocalKey is the owner's primary key
// and ForeignKey post_id on the target.
type Association struct {
	Owner      string
	Name       string
	Kind       Kind
	Target     string // empty for PolymorphicBelongsTo
	LocalKey   string
	ForeignKey string

	// HasManyThrough
	Through string
	Source  string

	// HasAndBelongsToMany: JoinTable.ForeignKey points at the owner and
	// JoinTable.AssociationForeignKey at the target
	JoinTable             string
	AssociationForeignKey string

	// Polymorphic discriminator column. It lives on the owner for
	// PolymorphicBelongsTo and on the target for PolymorphicHasMany.
	TypeColumn string

	Dependent Dependent
}

// Polymorphic reports whether the association carries a discriminator
func (a Association) Polymorphic() bool {
	return a.Kind == PolymorphicBelongsTo || a.Kind == PolymorphicHasMany
}

// Option customizes an association at registration
type Option func(*Association)

// Through routes a HasManyThrough association via another association of the owner
func Through(name string) Option {
	return func(a *Association) { a.Through = name }
}

// Source names the association on the through target that yields the records
func Source(name string) Option {
	return func(a *Association) { a.Source = name }
}

// Polymorphic sets the discriminator column
func Polymorphic(typeColumn string) Option {
	return func(a *Association) { a.TypeColumn = typeColumn }
}

// As configures a PolymorphicHasMany by interface name: As("commentable")
// keys on commentable_id and discriminates on commentable_type.
func As(name string) Option {
	return func(a *Association) {
		if a.ForeignKey == "" {
			a.ForeignKey = name + "_id"
		}
		if a.TypeColumn == "" {
			a.TypeColumn = name + "_type"
		}
	}
}

// WithDependent records the deletion policy
func WithDependent(d Dependent) Option {
	return func(a *Association) { a.Dependent = d }
}

// JoinTable overrides the HasAndBelongsToMany join table
func JoinTable(table string) Option {
	return func(a *Association) { a.JoinTable = table }
}

// AssociationForeignKey overrides the join table column pointing at the target
func AssociationForeignKey(column string) Option {
	return func(a *Association) { a.AssociationForeignKey = column }
}
