// Package sqlref finds the table qualifiers referenced by a raw SQL
// predicate, so the eager loader can tell whether a hand written WHERE
// fragment touches an associated table.
package sqlref

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xwb1989/sqlparser"
)

var qualifiedColumn = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\.\s*(?:[A-Za-z_"` + "`" + `*])`)

// Tables returns the lower-cased, sorted, de-duplicated table qualifiers used
// by column references inside predicate. The fragment is parsed as the WHERE
// clause of a throwaway SELECT; when the parser rejects it a lexical scan is
// used instead.
func Tables(predicate string) []string {
	if strings.TrimSpace(predicate) == "" {
		return nil
	}

	if tables, ok := parseTables(predicate); ok {
		return tables
	}
	return scanTables(predicate)
}

func parseTables(predicate string) ([]string, bool) {
	stmt, err := sqlparser.Parse("select 1 from dual where " + predicate)
	if err != nil {
		return nil, false
	}

	seen := map[string]bool{}
	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		col, ok := node.(*sqlparser.ColName)
		if !ok {
			return true, nil
		}
		if !col.Qualifier.IsEmpty() {
			seen[strings.ToLower(col.Qualifier.Name.String())] = true
		}
		return true, nil
	}, stmt)
	if err != nil {
		return nil, false
	}
	return sortedKeys(seen), true
}

func scanTables(predicate string) []string {
	seen := map[string]bool{}
	for _, m := range qualifiedColumn.FindAllStringSubmatch(stripLiterals(predicate), -1) {
		seen[strings.ToLower(m[1])] = true
	}
	return sortedKeys(seen)
}

// stripLiterals blanks out single quoted strings so 'a.b' is not mistaken for
// a column reference
func stripLiterals(s string) string {
	var out strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\'' {
			if inQuote && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inQuote = !inQuote
			out.WriteByte(' ')
			continue
		}
		if inQuote {
			out.WriteByte(' ')
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
