package domain

import (
	"fmt"
	"sort"
)

// Trajectory column names, in the order solvers emit them.
const (
	ColTime          = "time"
	ColMass          = "mass"
	ColSpeed         = "speed"
	ColAltitude      = "altitude"
	ColControl       = "control"
	ColBodyCurvature = "body_curvature"
	ColVerticalAngle = "vertical_angle"
)

// TrajectoryColumns lists every column a complete trajectory carries.
var TrajectoryColumns = []string{
	ColTime, ColMass, ColSpeed, ColAltitude, ColControl, ColBodyCurvature, ColVerticalAngle,
}

// Column is one named sample sequence.
type Column struct {
	Name   string
	Values []float64
}

// Trajectory is a set of equal-length sample sequences sharing one implicit
// index dimension (the simulation grid). Column order is preserved.
type Trajectory struct {
	Columns []Column
}

// Add appends a column.
func (t *Trajectory) Add(name string, values []float64) {
	t.Columns = append(t.Columns, Column{Name: name, Values: values})
}

// Column returns the samples of the named column.
func (t Trajectory) Column(name string) ([]float64, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Values, true
		}
	}
	return nil, false
}

// Len returns the number of grid points (0 for an empty trajectory).
func (t Trajectory) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// SortedNames returns the column names in lexicographic order.
func (t Trajectory) SortedNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// Validate enforces the equal-length invariant and unique column names.
func (t Trajectory) Validate() error {
	seen := make(map[string]bool, len(t.Columns))
	n := t.Len()
	for _, c := range t.Columns {
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrRaggedTrajectory, c.Name)
		}
		seen[c.Name] = true
		if len(c.Values) != n {
			return fmt.Errorf("%w: column %q has %d samples, want %d", ErrRaggedTrajectory, c.Name, len(c.Values), n)
		}
	}
	return nil
}
