// Package marshal decodes loaded records into tagged Go structs
package marshal

import (
	"database/sql"
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/naming"
)

// timeLayouts are tried in order when a time field receives text
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var (
	recordPtrType = reflect.TypeOf((*core.Record)(nil))
	scannerType   = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textType      = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType      = reflect.TypeOf(time.Time{})
)

// Decoder maps records onto structs. Struct layouts come from the registry
// when the struct is registered and from relorm tags otherwise. It is safe
// for concurrent use.
type Decoder struct {
	registry *model.Registry
	cache    sync.Map // map[reflect.Type]*structDecoder
}

// structDecoder is the cached field plan of one struct type
type structDecoder struct {
	columns map[string][]int // column -> field index
	assocs  map[string][]int // association name -> field index
}

// NewDecoder creates a decoder. registry may be nil.
func NewDecoder(registry *model.Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Map implements core.Mapper. dest is a pointer to a struct, to a pointer to
// a struct, or to a slice of either. A single destination takes the first
// record and is left untouched when there are none.
func (d *Decoder) Map(records []*core.Record, dest any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer, got %T", errors.ErrInvalidModel, dest)
	}
	v = v.Elem()

	if v.Kind() == reflect.Slice {
		out := reflect.MakeSlice(v.Type(), len(records), len(records))
		for i, r := range records {
			if err := d.decodeInto(r, out.Index(i)); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		v.Set(out)
		return nil
	}
	if len(records) == 0 {
		return nil
	}
	return d.decodeInto(records[0], v)
}

// Decode maps one record onto dest, a pointer to a struct
func (d *Decoder) Decode(record *core.Record, dest any) error {
	return d.Map([]*core.Record{record}, dest)
}

// decodeInto fills target, which is a struct, a pointer to a struct, or an
// interface that receives the record itself
func (d *Decoder) decodeInto(r *core.Record, target reflect.Value) error {
	switch target.Kind() {
	case reflect.Interface:
		if r == nil {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		if !recordPtrType.AssignableTo(target.Type()) {
			return fmt.Errorf("%w: cannot assign record to %s", errors.ErrInvalidModel, target.Type())
		}
		target.Set(reflect.ValueOf(r))
		return nil
	case reflect.Pointer:
		if r == nil {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		if target.Type() == recordPtrType {
			target.Set(reflect.ValueOf(r))
			return nil
		}
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return d.decodeInto(r, target.Elem())
	case reflect.Struct:
		if r == nil {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
	default:
		return fmt.Errorf("%w: cannot decode into %s", errors.ErrInvalidModel, target.Type())
	}

	sd, err := d.plan(target.Type())
	if err != nil {
		return err
	}
	for column, value := range r.Values {
		index, ok := sd.columns[column]
		if !ok {
			continue
		}
		if err := assign(target.FieldByIndex(index), value); err != nil {
			return fmt.Errorf("column %s: %w", column, err)
		}
	}
	for _, name := range r.AssociationNames() {
		index, ok := sd.assocs[name]
		if !ok {
			continue
		}
		if err := d.decodeAssociation(r, name, target.FieldByIndex(index)); err != nil {
			return fmt.Errorf("association %s: %w", name, err)
		}
	}
	return nil
}

func (d *Decoder) decodeAssociation(r *core.Record, name string, field reflect.Value) error {
	value, _ := r.Association(name)
	if many, ok := value.([]*core.Record); ok {
		if field.Kind() != reflect.Slice {
			return fmt.Errorf("%w: collection needs a slice field, got %s", errors.ErrInvalidModel, field.Type())
		}
		out := reflect.MakeSlice(field.Type(), len(many), len(many))
		for i, child := range many {
			if err := d.decodeInto(child, out.Index(i)); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	}
	one, _ := value.(*core.Record)
	return d.decodeInto(one, field)
}

// plan returns the cached field plan for a struct type
func (d *Decoder) plan(typ reflect.Type) (*structDecoder, error) {
	if cached, ok := d.cache.Load(typ); ok {
		return cached.(*structDecoder), nil
	}

	sd := &structDecoder{columns: map[string][]int{}, assocs: map[string][]int{}}
	var registered *model.Type
	if d.registry != nil {
		registered, _ = d.registry.TypeOf(reflect.New(typ).Interface())
	}
	if registered != nil {
		for _, column := range registered.Columns {
			if f, ok := registered.Field(column); ok {
				sd.columns[column] = f.Index
			}
		}
		for i := 0; i < typ.NumField(); i++ {
			sf := typ.Field(i)
			if name, ok := associationTag(sf); ok {
				if f, ok := registered.AssociationField(name); ok {
					sd.assocs[name] = f.Index
				}
			}
		}
	} else {
		for i := 0; i < typ.NumField(); i++ {
			sf := typ.Field(i)
			if !sf.IsExported() {
				continue
			}
			if name, ok := associationTag(sf); ok {
				sd.assocs[name] = sf.Index
				continue
			}
			column, skip := naming.ResolveColumnName(sf)
			if skip {
				continue
			}
			sd.columns[column] = sf.Index
		}
	}

	cached, _ := d.cache.LoadOrStore(typ, sd)
	return cached.(*structDecoder), nil
}

// associationTag reports the association a field receives, from assoc or
// assoc:<name> in its relorm tag
func associationTag(sf reflect.StructField) (string, bool) {
	for _, part := range strings.Split(sf.Tag.Get(naming.TagName), ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "assoc":
			return naming.ToSnakeCase(sf.Name), true
		case strings.HasPrefix(part, "assoc:"):
			return strings.TrimPrefix(part, "assoc:"), true
		}
	}
	return "", false
}

// assign converts a driver value to the field's type
func assign(field reflect.Value, value any) error {
	if field.CanAddr() {
		addr := field.Addr()
		if addr.Type().Implements(scannerType) {
			return addr.Interface().(sql.Scanner).Scan(value)
		}
	}

	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := assign(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	src := reflect.ValueOf(value)
	if field.Type() == timeType {
		t, err := toTime(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	}
	if src.Type().AssignableTo(field.Type()) {
		field.Set(src)
		return nil
	}
	if field.CanAddr() && field.Addr().Type().Implements(textType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(toString(value)))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(toString(value))
		return nil
	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(toString(value), 10, 64)
		if err != nil {
			return fmt.Errorf("cannot convert %T to %s: %w", value, field.Type(), err)
		}
		if field.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, field.Type())
		}
		field.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(toString(value), 10, 64)
		if err != nil {
			return fmt.Errorf("cannot convert %T to %s: %w", value, field.Type(), err)
		}
		if field.OverflowUint(n) {
			return fmt.Errorf("value %d overflows %s", n, field.Type())
		}
		field.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(toString(value), 64)
		if err != nil {
			return fmt.Errorf("cannot convert %T to %s: %w", value, field.Type(), err)
		}
		field.SetFloat(f)
		return nil
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			field.SetBytes([]byte(toString(value)))
			return nil
		}
	}
	if src.Type().ConvertibleTo(field.Type()) {
		field.Set(src.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot convert %T to %s", value, field.Type())
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	}
	b, err := strconv.ParseBool(toString(v))
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool: %w", v, err)
	}
	return b, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	s := toString(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
