// Package naming holds the conventions that map Go identifiers to SQL names:
// snake_case columns, plural snake_case tables and <singular>_id keys.
package naming

import (
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TagName is the struct tag relorm reads
const TagName = "relorm"

// ResolveColumnName determines the column name for a struct field.
// It returns the column name and a bool indicating whether the field should be skipped.
func ResolveColumnName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get(TagName)
	if tag == "-" {
		return "", true
	}

	if column := columnFromTag(tag); column != "" {
		return column, false
	}

	return ToSnakeCase(field.Name), false
}

// ToSnakeCase converts a Go identifier to snake_case, keeping acronyms
// together: UserID -> user_id, HTTPSPort -> https_port.
func ToSnakeCase(name string) string {
	runes := []rune(name)
	var out strings.Builder
	out.Grow(len(name) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
					out.WriteByte('_')
				}
			}
			out.WriteRune(unicode.ToLower(r))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// TableName derives the table for a type name: BlogPost -> blog_posts
func TableName(typeName string) string {
	return inflection.Plural(ToSnakeCase(typeName))
}

// Singular returns the singular form of a snake_case name
func Singular(name string) string {
	return inflection.Singular(name)
}

// Plural returns the plural form of a snake_case name
func Plural(name string) string {
	return inflection.Plural(name)
}

// ForeignKey returns the conventional key column pointing at name, which may
// be a type, association or table name: Author -> author_id, posts -> post_id.
func ForeignKey(name string) string {
	return Singular(ToSnakeCase(name)) + "_id"
}

// JoinTable returns the conventional many-to-many table for two tables:
// the table names in lexical order joined by an underscore.
func JoinTable(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}

func columnFromTag(tag string) string {
	if tag == "" {
		return ""
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "column:") {
			return strings.TrimPrefix(part, "column:")
		}
	}
	return ""
}
