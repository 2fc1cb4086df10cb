package expr

// Enclosed reports whether one pair of parentheses wraps the whole fragment,
// so "(a) OR (b)" is not enclosed but "(a OR b)" is.
func Enclosed(sql string) bool {
	if len(sql) < 2 || sql[0] != '(' || sql[len(sql)-1] != ')' {
		return false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(sql)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// Enclose wraps sql in parentheses unless it is already enclosed
func Enclose(sql string) string {
	if sql == "" || Enclosed(sql) {
		return sql
	}
	return "(" + sql + ")"
}

// Unwrap drops the enclosing parentheses, if any
func Unwrap(sql string) string {
	if Enclosed(sql) {
		return sql[1 : len(sql)-1]
	}
	return sql
}
