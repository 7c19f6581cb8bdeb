package domain

import (
	"fmt"
	"math"
)

// Default values for the optional parameters.
const (
	DefaultGridSize     = 300
	DefaultInitialSpeed = 1e-6
)

// Parameters describe the vehicle, the atmosphere and the ascent target.
// Units follow the solver: tonnes, kilometres, seconds, meganewtons.
type Parameters struct {
	WetMass         float64 // launch mass (t)
	DryMass         float64 // mass with empty tanks (t)
	SurfaceGravity  float64 // gravitational acceleration at zero altitude (km/s²)
	SurfaceRadius   float64 // body radius (km)
	SpecificImpulse float64 // engine Isp (s)
	MaxThrust       float64 // maximum thrust (MN)
	DragCoefficient float64
	ReferenceArea   float64 // m²
	ScaleHeight     float64 // atmospheric scale height (km)
	SurfaceDensity  float64 // air density at zero altitude (kg/m³)
	TargetAltitude  float64 // km
	TargetSpeed     float64 // km/s
	TargetAngle     float64 // flight-path angle from vertical (rad)
	GridSize        int     // number of shooting intervals
	InitialSpeed    float64 // launch speed, must be nonzero (km/s)
}

// Validate checks the physical consistency of the parameter set.
func (p Parameters) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"wet_mass", p.WetMass},
		{"dry_mass", p.DryMass},
		{"surface_gravity", p.SurfaceGravity},
		{"surface_radius", p.SurfaceRadius},
		{"specific_impulse", p.SpecificImpulse},
		{"max_thrust", p.MaxThrust},
		{"scale_height", p.ScaleHeight},
	}
	for _, f := range positive {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidParameter, f.name, f.v)
		}
	}

	nonNegative := []struct {
		name string
		v    float64
	}{
		{"drag_coefficient", p.DragCoefficient},
		{"reference_area", p.ReferenceArea},
		{"surface_density", p.SurfaceDensity},
		{"target_altitude", p.TargetAltitude},
		{"target_speed", p.TargetSpeed},
		{"target_angle", p.TargetAngle},
	}
	for _, f := range nonNegative {
		if !(f.v >= 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be non-negative and finite, got %v", ErrInvalidParameter, f.name, f.v)
		}
	}

	if p.DryMass > p.WetMass {
		return fmt.Errorf("%w: dry_mass %v exceeds wet_mass %v", ErrInvalidParameter, p.DryMass, p.WetMass)
	}
	if p.TargetAngle > math.Pi {
		return fmt.Errorf("%w: target_angle %v is outside [0, pi]", ErrInvalidParameter, p.TargetAngle)
	}
	if p.GridSize < 1 {
		return fmt.Errorf("%w: grid_size must be at least 1, got %d", ErrInvalidParameter, p.GridSize)
	}
	if p.InitialSpeed == 0 || math.IsNaN(p.InitialSpeed) {
		return fmt.Errorf("%w: initial_speed must be nonzero", ErrInvalidParameter)
	}
	return nil
}
