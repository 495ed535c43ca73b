package pagination

import "github.com/ekaya-inc/ekaya-press/pkg/apperrors"

// Limits bounds page sizes.
type Limits struct {
	Default int
	Max     int
}

// Resolve applies the default to a zero limit and rejects out-of-range values.
func (l Limits) Resolve(limit int) (int, error) {
	if limit == 0 {
		return l.Default, nil
	}
	if limit < 0 || limit > l.Max {
		return 0, apperrors.NewValidationError("limit", "must be between 1 and %d", l.Max)
	}
	return limit, nil
}

// Trim cuts a limit+1 fetch down to limit and reports whether more rows exist.
func Trim[T any](rows []T, limit int) ([]T, bool) {
	if len(rows) > limit {
		return rows[:limit], true
	}
	return rows, false
}
