package compute

import (
	"fmt"
	"math"
	"strings"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
)

// param binds one input key (and its short alias) to a Parameters field.
type param struct {
	name     string
	alias    string
	required bool
	set      func(p *domain.Parameters, v float64) error
}

func float(dst func(p *domain.Parameters) *float64) func(*domain.Parameters, float64) error {
	return func(p *domain.Parameters, v float64) error {
		*dst(p) = v
		return nil
	}
}

var params = []param{
	{"wet_mass", "m0", true, float(func(p *domain.Parameters) *float64 { return &p.WetMass })},
	{"dry_mass", "m1", true, float(func(p *domain.Parameters) *float64 { return &p.DryMass })},
	{"surface_gravity", "g0", true, float(func(p *domain.Parameters) *float64 { return &p.SurfaceGravity })},
	{"surface_radius", "r0", true, float(func(p *domain.Parameters) *float64 { return &p.SurfaceRadius })},
	{"specific_impulse", "Isp", true, float(func(p *domain.Parameters) *float64 { return &p.SpecificImpulse })},
	{"max_thrust", "Fmax", true, float(func(p *domain.Parameters) *float64 { return &p.MaxThrust })},
	{"drag_coefficient", "cd", true, float(func(p *domain.Parameters) *float64 { return &p.DragCoefficient })},
	{"reference_area", "A", true, float(func(p *domain.Parameters) *float64 { return &p.ReferenceArea })},
	{"scale_height", "H", true, float(func(p *domain.Parameters) *float64 { return &p.ScaleHeight })},
	{"surface_density", "rho", true, float(func(p *domain.Parameters) *float64 { return &p.SurfaceDensity })},
	{"target_altitude", "h_obj", true, float(func(p *domain.Parameters) *float64 { return &p.TargetAltitude })},
	{"target_speed", "v_obj", true, float(func(p *domain.Parameters) *float64 { return &p.TargetSpeed })},
	{"target_angle", "q_obj", true, float(func(p *domain.Parameters) *float64 { return &p.TargetAngle })},
	{"grid_size", "N", false, func(p *domain.Parameters, v float64) error {
		if v != math.Trunc(v) || v < 1 || v > math.MaxInt32 {
			return fmt.Errorf("%w: grid_size must be a positive integer, got %v", domain.ErrInvalidParameter, v)
		}
		p.GridSize = int(v)
		return nil
	}},
	{"initial_speed", "vel_eps", false, float(func(p *domain.Parameters) *float64 { return &p.InitialSpeed })},
}

// ParseParameters reads a task input mapping. Every key may be given by its
// descriptive name or its short alias, but not both. Unknown keys are
// rejected so a typo never silently falls back to a default.
func ParseParameters(input koson.Value) (domain.Parameters, error) {
	p := domain.Parameters{
		GridSize:     domain.DefaultGridSize,
		InitialSpeed: domain.DefaultInitialSpeed,
	}

	m, ok := input.AsMap()
	if !ok {
		return p, fmt.Errorf("%w: input is a %s, want a mapping", domain.ErrInvalidParameter, input.Kind())
	}

	known := make(map[string]bool, 2*len(params))
	var missing []string
	for _, pr := range params {
		known[pr.name], known[pr.alias] = true, true

		v, byName := m.Get(pr.name)
		av, byAlias := m.Get(pr.alias)
		switch {
		case byName && byAlias:
			return p, fmt.Errorf("%w: both %s and %s given", domain.ErrInvalidParameter, pr.name, pr.alias)
		case byAlias:
			v = av
		case !byName:
			if pr.required {
				missing = append(missing, pr.name)
			}
			continue
		}

		n, ok := v.AsNumber()
		if !ok {
			return p, fmt.Errorf("%w: %s is a %s, want a number", domain.ErrInvalidParameter, pr.name, v.Kind())
		}
		if err := pr.set(&p, n); err != nil {
			return p, err
		}
	}

	if len(missing) > 0 {
		return p, fmt.Errorf("%w: %s", domain.ErrMissingParameter, strings.Join(missing, ", "))
	}
	for _, k := range m.Keys() {
		if !known[k] {
			return p, fmt.Errorf("%w: unknown key %q", domain.ErrInvalidParameter, k)
		}
	}
	return p, p.Validate()
}
