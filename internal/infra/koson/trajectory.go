package koson

import (
	"fmt"

	"github.com/kos-tools/gturn/internal/domain"
)

// FromTrajectory converts a trajectory into a mapping of number sequences,
// keeping column order.
func FromTrajectory(t domain.Trajectory) Value {
	m := NewMap()
	for _, c := range t.Columns {
		m.Set(c.Name, Numbers(c.Values))
	}
	return MapValue(m)
}

// ToTrajectory converts a mapping of number sequences back into a trajectory
// and checks the equal-length invariant.
func ToTrajectory(v Value) (domain.Trajectory, error) {
	m, ok := v.AsMap()
	if !ok {
		return domain.Trajectory{}, fmt.Errorf("%w: trajectory must be a map, got %s", domain.ErrMalformedEncoding, v.Kind())
	}

	var t domain.Trajectory
	var convErr error
	m.Range(func(key string, col Value) bool {
		xs, ok := col.AsNumbers()
		if !ok {
			convErr = fmt.Errorf("%w: trajectory column %q is not a number sequence", domain.ErrMalformedEncoding, key)
			return false
		}
		t.Add(key, xs)
		return true
	})
	if convErr != nil {
		return domain.Trajectory{}, convErr
	}
	if err := t.Validate(); err != nil {
		return domain.Trajectory{}, err
	}
	return t, nil
}
