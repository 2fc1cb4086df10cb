package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one materialized row of a registered type together with the
// associations loaded onto it. Collection associations hold []*Record,
// singular ones *Record (nil when nothing matched).
type Record struct {
	Type         string
	Values       Row
	associations map[string]any
	order        []string
}

// NewRecord creates a record of typeName holding values
func NewRecord(typeName string, values Row) *Record {
	if values == nil {
		values = Row{}
	}
	return &Record{Type: typeName, Values: values}
}

// Get returns a column value
func (r *Record) Get(column string) any {
	return r.Values[column]
}

// SetMany stores a collection association. A nil slice is stored as empty.
func (r *Record) SetMany(name string, records []*Record) {
	if records == nil {
		records = []*Record{}
	}
	r.set(name, records)
}

// SetOne stores a singular association
func (r *Record) SetOne(name string, record *Record) {
	r.set(name, record)
}

// AppendMany adds a record to a collection association, creating it when
// absent
func (r *Record) AppendMany(name string, record *Record) {
	current, _ := r.associations[name].([]*Record)
	r.set(name, append(current, record))
}

func (r *Record) set(name string, value any) {
	if r.associations == nil {
		r.associations = make(map[string]any)
	}
	if _, ok := r.associations[name]; !ok {
		r.order = append(r.order, name)
	}
	r.associations[name] = value
}

// Loaded reports whether the association has been stored
func (r *Record) Loaded(name string) bool {
	_, ok := r.associations[name]
	return ok
}

// Association returns the stored association value
func (r *Record) Association(name string) (any, bool) {
	v, ok := r.associations[name]
	return v, ok
}

// Many returns a collection association, or nil when not loaded
func (r *Record) Many(name string) []*Record {
	v, _ := r.associations[name].([]*Record)
	return v
}

// One returns a singular association, or nil when not loaded or missing
func (r *Record) One(name string) *Record {
	v, _ := r.associations[name].(*Record)
	return v
}

// AssociationNames returns the loaded association names in load order
func (r *Record) AssociationNames() []string {
	return append([]string(nil), r.order...)
}

// MarshalJSON writes the values with loaded associations nested under their
// names
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+len(r.associations))
	for k, v := range r.Values {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[k] = v
	}
	for _, name := range r.order {
		out[name] = r.associations[name]
	}
	return json.Marshal(out)
}

// Key normalizes a column value so that keys read from different rows and
// drivers compare equal: integers become int64, byte slices strings.
func Key(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return int64(x)
	case uint64:
		return int64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// KeyString renders normalized values as a map key. Values that print the
// same compare equal, so an integer id matches its text form.
func KeyString(values ...any) string {
	if len(values) == 1 {
		return keyPart(Key(values[0]))
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = keyPart(Key(v))
	}
	return strings.Join(parts, "\x1f")
}

func keyPart(v any) string {
	if v == nil {
		return "\x00"
	}
	return fmt.Sprint(v)
}
