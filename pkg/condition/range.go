package condition

// Range is a bounded, half-open or endless interval over any comparable
// value (integers, floats, text, timestamps). A nil bound is open.
type Range struct {
	Lo        any
	Hi        any
	Exclusive bool // excludes Hi
}

// Inclusive returns [lo, hi]
func Inclusive(lo, hi any) Range { return Range{Lo: lo, Hi: hi} }

// HalfOpen returns [lo, hi)
func HalfOpen(lo, hi any) Range { return Range{Lo: lo, Hi: hi, Exclusive: true} }

// From returns [lo, ∞)
func From(lo any) Range { return Range{Lo: lo} }

// Until returns (-∞, hi)
func Until(hi any) Range { return Range{Hi: hi, Exclusive: true} }

// Through returns (-∞, hi]
func Through(hi any) Range { return Range{Hi: hi} }

// Unbounded reports whether neither bound is set
func (r Range) Unbounded() bool { return r.Lo == nil && r.Hi == nil }

func (r Range) render(column string) (string, []any) {
	switch {
	case r.Lo != nil && r.Hi != nil && !r.Exclusive:
		return column + " BETWEEN ? AND ?", []any{r.Lo, r.Hi}
	case r.Lo != nil && r.Hi != nil:
		return "(" + column + " >= ? AND " + column + " < ?)", []any{r.Lo, r.Hi}
	case r.Lo != nil:
		return column + " >= ?", []any{r.Lo}
	case r.Exclusive:
		return column + " < ?", []any{r.Hi}
	default:
		return column + " <= ?", []any{r.Hi}
	}
}
