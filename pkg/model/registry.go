// Package model provides type registration and association metadata for relorm
package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/naming"
	"github.com/pay-theory/relorm/pkg/scope"
	"github.com/pay-theory/relorm/pkg/validation"
)

// Registry maps type names to their tables, keys and associations.
// Registration happens once at startup; lookups are read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*Type
	byTable map[string]*Type
	byGo    map[reflect.Type]*Type
}

// NewRegistry creates a new model registry
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*Type),
		byTable: make(map[string]*Type),
		byGo:    make(map[reflect.Type]*Type),
	}
}

// Definition describes a type without a Go struct
type Definition struct {
	Name       string
	Table      string   // defaults to the plural snake_case of Name
	PrimaryKey []string // defaults to id
	Columns    []string
}

// Type holds the metadata of one registered record type. Treat it as
// read-only; the registry owns it.
type Type struct {
	Name       string
	Table      string
	PrimaryKey []string
	Columns    []string
	GoType     reflect.Type

	fields       map[string]*Field // by column
	assocFields  map[string]*Field // by association name
	associations map[string]*Association
	order        []string
	defaultScope scope.Func
	scopes       map[string]scope.Func
}

// Field maps a struct field to a column or to an association
type Field struct {
	Name        string       // Go field name
	Column      string       // column name, empty for association fields
	Association string       // association name, empty for columns
	Index       []int        // reflect field index
	Type        reflect.Type // Go type
	PrimaryKey  bool
}

// PrimaryColumn returns the first primary key column
func (t *Type) PrimaryColumn() string {
	if len(t.PrimaryKey) == 0 {
		return ""
	}
	return t.PrimaryKey[0]
}

// Qualified returns table.column
func (t *Type) Qualified(column string) string {
	return t.Table + "." + column
}

// HasColumn reports whether column is part of the type
func (t *Type) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Field returns the struct field mapped to column
func (t *Type) Field(column string) (*Field, bool) {
	f, ok := t.fields[column]
	return f, ok
}

// AssociationField returns the struct field that receives association name
func (t *Type) AssociationField(name string) (*Field, bool) {
	f, ok := t.assocFields[name]
	return f, ok
}

// Association returns a copy of the named association
func (t *Type) Association(name string) (Association, bool) {
	a, ok := t.associations[name]
	if !ok {
		return Association{}, false
	}
	return *a, true
}

// Associations returns the associations in registration order
func (t *Type) Associations() []Association {
	out := make([]Association, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.associations[name])
	}
	return out
}

// DefaultScope returns the scope applied to every fresh query, if any
func (t *Type) DefaultScope() scope.Func { return t.defaultScope }

// Scope returns a named scope
func (t *Type) Scope(name string) (scope.Func, bool) {
	fn, ok := t.scopes[name]
	return fn, ok
}

func newType(name, table string, pk, columns []string) *Type {
	return &Type{
		Name:         name,
		Table:        table,
		PrimaryKey:   pk,
		Columns:      columns,
		fields:       make(map[string]*Field),
		assocFields:  make(map[string]*Field),
		associations: make(map[string]*Association),
		scopes:       make(map[string]scope.Func),
	}
}

// DefineType registers a type described by a Definition
func (r *Registry) DefineType(def Definition) (*Type, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: type name is required", errors.ErrInvalidModel)
	}
	table := def.Table
	if table == "" {
		table = naming.TableName(def.Name)
	}
	pk := append([]string(nil), def.PrimaryKey...)
	if len(pk) == 0 {
		pk = []string{"id"}
	}
	columns := append([]string(nil), def.Columns...)
	for _, key := range pk {
		if !contains(columns, key) {
			columns = append([]string{key}, columns...)
		}
	}

	t := newType(def.Name, table, pk, columns)
	if err := r.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Tabler lets a model struct choose its table name
type Tabler interface {
	TableName() string
}

// RegisterModel registers a struct type, reading relorm tags:
//
//	ID       int64   `relorm:"pk"`
//	Title    string  `relorm:"column:headline"`
//	Secret   string  `relorm:"-"`
//	Author   *Author `relorm:"assoc"`
//	Comments []Comment `relorm:"assoc:comments"`
//
// Registering the same struct twice returns the existing type.
func (r *Registry) RegisterModel(model any) (*Type, error) {
	goType := reflect.TypeOf(model)
	if goType == nil {
		return nil, fmt.Errorf("%w: model is nil", errors.ErrInvalidModel)
	}
	if goType.Kind() == reflect.Pointer {
		goType = goType.Elem()
	}
	if goType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: model must be a struct", errors.ErrInvalidModel)
	}

	r.mu.RLock()
	existing, ok := r.byGo[goType]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	t, err := parseModel(goType)
	if err != nil {
		return nil, err
	}
	if tabler, ok := reflect.New(goType).Interface().(Tabler); ok {
		if name := tabler.TableName(); name != "" {
			t.Table = name
		}
	}
	if err := r.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

func parseModel(goType reflect.Type) (*Type, error) {
	t := newType(goType.Name(), naming.TableName(goType.Name()), nil, nil)
	t.GoType = goType

	for i := 0; i < goType.NumField(); i++ {
		sf := goType.Field(i)
		if !sf.IsExported() {
			continue
		}
		field, err := parseField(sf)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		if field == nil {
			continue
		}
		if field.Association != "" {
			t.assocFields[field.Association] = field
			continue
		}
		if _, dup := t.fields[field.Column]; dup {
			return nil, fmt.Errorf("%w: column %s mapped twice", errors.ErrInvalidTag, field.Column)
		}
		t.fields[field.Column] = field
		t.Columns = append(t.Columns, field.Column)
		if field.PrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, field.Column)
		}
	}

	if len(t.PrimaryKey) == 0 {
		if f, ok := t.fields["id"]; ok {
			f.PrimaryKey = true
			t.PrimaryKey = []string{"id"}
		}
	}
	if len(t.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingPrimaryKey, goType.Name())
	}
	return t, nil
}

// parseField returns nil for skipped fields
func parseField(sf reflect.StructField) (*Field, error) {
	column, skip := naming.ResolveColumnName(sf)
	if skip {
		return nil, nil
	}
	field := &Field{Name: sf.Name, Column: column, Index: sf.Index, Type: sf.Type}

	tag := sf.Tag.Get(naming.TagName)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "pk":
			field.PrimaryKey = true
		case part == "assoc":
			field.Association = naming.ToSnakeCase(sf.Name)
		case strings.HasPrefix(part, "assoc:"):
			field.Association = strings.TrimPrefix(part, "assoc:")
		case strings.HasPrefix(part, "column:"):
		default:
			return nil, fmt.Errorf("%w: unknown tag '%s'", errors.ErrInvalidTag, part)
		}
	}

	if field.Association != "" {
		if field.PrimaryKey {
			return nil, fmt.Errorf("%w: association field cannot be a primary key", errors.ErrInvalidTag)
		}
		field.Column = ""
		return field, nil
	}
	if err := validation.ValidateColumnName(field.Column); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidTag, err)
	}
	return field, nil
}

func (r *Registry) add(t *Type) error {
	if err := validation.ValidateTableName(t.Table); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidModel, err)
	}
	for _, c := range t.Columns {
		if err := validation.ValidateColumnName(c); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidModel, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("%w: type %s already registered", errors.ErrInvalidModel, t.Name)
	}
	if other, exists := r.byTable[t.Table]; exists {
		return fmt.Errorf("%w: table %s already used by %s", errors.ErrInvalidModel, t.Table, other.Name)
	}
	r.types[t.Name] = t
	r.byTable[t.Table] = t
	if t.GoType != nil {
		r.byGo[t.GoType] = t
	}
	return nil
}

// Type retrieves a type by name
func (r *Registry) Type(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, name)
	}
	return t, nil
}

// TypeByTable retrieves a type by table name
func (r *Registry) TypeByTable(table string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byTable[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", errors.ErrModelNotRegistered, table)
	}
	return t, nil
}

// TypeOf retrieves the type registered for a struct value or pointer
func (r *Registry) TypeOf(model any) (*Type, error) {
	goType := reflect.TypeOf(model)
	for goType != nil && (goType.Kind() == reflect.Pointer || goType.Kind() == reflect.Slice) {
		goType = goType.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if goType == nil {
		return nil, fmt.Errorf("%w: nil model", errors.ErrModelNotRegistered)
	}
	t, ok := r.byGo[goType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, goType.Name())
	}
	return t, nil
}

// Types returns every registered type name
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// Association looks up an association on owner
func (r *Registry) Association(owner, name string) (Association, error) {
	t, err := r.Type(owner)
	if err != nil {
		return Association{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := t.associations[name]
	if !ok {
		return Association{}, &errors.UnknownAssociationError{Name: name, Parent: owner}
	}
	return *a, nil
}

// Register declares an association on owner. Empty keys follow the naming
// conventions of the kind; see Association for which table each key lives on.
func (r *Registry) Register(owner, name string, kind Kind, target, localKey, foreignKey string, opts ...Option) error {
	a := &Association{
		Owner:      owner,
		Name:       name,
		Kind:       kind,
		Target:     target,
		LocalKey:   localKey,
		ForeignKey: foreignKey,
	}
	for _, opt := range opts {
		opt(a)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ownerType, ok := r.types[owner]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, owner)
	}
	if _, dup := ownerType.associations[name]; dup {
		return fmt.Errorf("%w: %s.%s", errors.ErrDuplicateAssociation, owner, name)
	}
	if err := validation.ValidateColumnName(name); err != nil || strings.Contains(name, ".") {
		return fmt.Errorf("%w: association name %q", errors.ErrInvalidAssociation, name)
	}

	if err := r.fillDefaults(ownerType, a); err != nil {
		return err
	}
	for _, col := range []string{a.LocalKey, a.ForeignKey, a.AssociationForeignKey, a.TypeColumn} {
		if col == "" {
			continue
		}
		if err := validation.ValidateColumnName(col); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidAssociation, owner, name, err)
		}
	}

	ownerType.associations[name] = a
	ownerType.order = append(ownerType.order, name)
	return nil
}

func (r *Registry) fillDefaults(owner *Type, a *Association) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s.%s: %s", errors.ErrInvalidAssociation, owner.Name, a.Name, fmt.Sprintf(format, args...))
	}

	var target *Type
	if a.Target != "" {
		t, ok := r.types[a.Target]
		if !ok {
			return fmt.Errorf("%w: %s (target of %s.%s)", errors.ErrModelNotRegistered, a.Target, owner.Name, a.Name)
		}
		target = t
	}

	switch a.Kind {
	case BelongsTo:
		if target == nil {
			return invalid("target type is required")
		}
		a.LocalKey = orDefault(a.LocalKey, naming.ForeignKey(a.Name))
		a.ForeignKey = orDefault(a.ForeignKey, target.PrimaryColumn())

	case HasOne, HasMany:
		if target == nil {
			return invalid("target type is required")
		}
		a.LocalKey = orDefault(a.LocalKey, owner.PrimaryColumn())
		a.ForeignKey = orDefault(a.ForeignKey, naming.ForeignKey(owner.Name))

	case PolymorphicHasMany:
		if target == nil {
			return invalid("target type is required")
		}
		if a.ForeignKey == "" {
			return invalid("foreign key or As() is required")
		}
		if a.TypeColumn == "" {
			if !strings.HasSuffix(a.ForeignKey, "_id") {
				return invalid("discriminator column cannot be derived from %s", a.ForeignKey)
			}
			a.TypeColumn = strings.TrimSuffix(a.ForeignKey, "_id") + "_type"
		}
		a.LocalKey = orDefault(a.LocalKey, owner.PrimaryColumn())

	case PolymorphicBelongsTo:
		a.LocalKey = orDefault(a.LocalKey, a.Name+"_id")
		a.TypeColumn = orDefault(a.TypeColumn, a.Name+"_type")
		if target != nil {
			a.ForeignKey = orDefault(a.ForeignKey, target.PrimaryColumn())
		}

	case HasManyThrough:
		if a.Through == "" {
			return invalid("through association is required")
		}
		if _, ok := owner.associations[a.Through]; !ok {
			return &errors.UnknownAssociationError{Name: a.Through, Parent: owner.Name}
		}
		if a.Through == a.Name {
			return invalid("association cannot go through itself")
		}

	case HasAndBelongsToMany:
		if target == nil {
			return invalid("target type is required")
		}
		a.LocalKey = orDefault(a.LocalKey, owner.PrimaryColumn())
		a.ForeignKey = orDefault(a.ForeignKey, naming.ForeignKey(owner.Name))
		a.AssociationForeignKey = orDefault(a.AssociationForeignKey, naming.ForeignKey(target.Name))
		a.JoinTable = orDefault(a.JoinTable, naming.JoinTable(owner.Table, target.Table))
		if err := validation.ValidateTableName(a.JoinTable); err != nil {
			return invalid("join table: %v", err)
		}

	default:
		return invalid("unknown kind %d", int(a.Kind))
	}

	if a.Kind != HasManyThrough && a.Source != "" {
		return invalid("source is only valid with a through association")
	}
	return nil
}

// SetDefaultScope installs the scope applied to every fresh query for a type
func (r *Registry) SetDefaultScope(typeName string, fn scope.Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.types[typeName]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, typeName)
	}
	t.defaultScope = fn
	return nil
}

// DefineScope installs a named scope on a type
func (r *Registry) DefineScope(typeName, name string, fn scope.Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.types[typeName]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrModelNotRegistered, typeName)
	}
	if fn == nil {
		return fmt.Errorf("%w: scope %s on %s is nil", errors.ErrInvalidModel, name, typeName)
	}
	t.scopes[name] = fn
	return nil
}

// Scope retrieves a named scope
func (r *Registry) Scope(typeName, name string) (scope.Func, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := t.scopes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", errors.ErrUnknownScope, name, typeName)
	}
	return fn, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
