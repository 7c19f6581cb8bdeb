package engine

import (
	"context"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/kos-tools/gturn/internal/domain"
)

// ─── Native Backend ─────────────────────────────────────────────────────────
// Single shooting over the gravity-turn ODE:
//
//	m' = -Fmax/(Isp·g0)·u
//	v' = (Fmax·u - D)/m - g·cos q         D = 0.5e3·A·cd·rho·exp(-h/H)·v²
//	q' = g·sin q/v - d'                   g = g0·(r0/(r0+h))²
//	h' = v·cos q
//	d' = v·sin q/(r0+h)
//
// The decision vector is the launch pitch, the final time and one throttle
// level per control segment. A run has two phases. Levenberg–Marquardt
// drives the terminal error to zero from a handful of fuel-aware starting
// points. Nelder–Mead then trades fuel against a weighted penalty on the
// terminal error, and every refined point is pulled back onto the target
// before it may replace the incumbent.

// Bounds of the free variables.
const (
	minFinalTime = 120.0
	maxFinalTime = 600.0
	maxLaunchQ   = 0.5 * math.Pi

	// kickSpeed is the speed (km/s) below which pitch is held, which keeps
	// g·sin q/v bounded right after lift-off.
	kickSpeed = 0.05

	// maxStep bounds the RK4 step in seconds.
	maxStep = 1.0
	// crashDepth ends a simulation that has sunk this share of the radius
	// below the surface.
	crashDepth = 0.5

	failedObjective = 1e12
)

// Feasibility phase tuning.
const (
	lmIterations = 60
	lmTolerance  = 1e-4
	lmStep       = 1e-5 // finite-difference step
	lmMaxMove    = 2.0  // trust radius in decision space
)

// penaltyWeights is the continuation schedule of the refinement phase.
var penaltyWeights = []float64{1e2, 1e3}

// NativeConfig tunes the built-in solver.
type NativeConfig struct {
	Segments       int     // throttle segments (default 8)
	MaxEvaluations int     // evaluation budget per refinement stage (default 3000)
	MaxResidual    float64 // fail when the terminal error exceeds it; <= 0 disables
	ProgressEvery  int     // log every N major iterations (default 50)
}

// DefaultNativeConfig returns the solver defaults.
func DefaultNativeConfig() NativeConfig {
	return NativeConfig{
		Segments:       8,
		MaxEvaluations: 3000,
		MaxResidual:    0.05,
		ProgressEvery:  50,
	}
}

// NativeBackend solves the ascent problem in-process.
type NativeBackend struct {
	cfg NativeConfig
}

// NewNativeBackend creates a NativeBackend. Unset Segments, MaxEvaluations
// and ProgressEvery take their defaults.
func NewNativeBackend(cfg NativeConfig) *NativeBackend {
	def := DefaultNativeConfig()
	if cfg.Segments <= 0 {
		cfg.Segments = def.Segments
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = def.MaxEvaluations
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	return &NativeBackend{cfg: cfg}
}

// Name implements domain.Optimizer.
func (b *NativeBackend) Name() string { return "native" }

// Optimize implements domain.Optimizer.
func (b *NativeBackend) Optimize(ctx context.Context, p domain.Parameters, diag domain.Diagnostics) (domain.Trajectory, error) {
	if err := p.Validate(); err != nil {
		return domain.Trajectory{}, err
	}
	segments := b.cfg.Segments
	if segments > p.GridSize {
		segments = p.GridSize
	}
	target := b.cfg.MaxResidual
	if target <= 0 {
		target = DefaultNativeConfig().MaxResidual
	}

	fmt.Fprintf(diag.Stdout, "native solver: %d segments, %d intervals, budget %d evaluations per stage\n",
		segments, p.GridSize, b.cfg.MaxEvaluations)

	// Phase 1: reach the target.
	var (
		best     []float64
		residual = math.Inf(1)
		evals    int
	)
	for i, start := range startingPoints(p, segments) {
		if err := ctx.Err(); err != nil {
			return domain.Trajectory{}, err
		}
		x, r, n, err := restore(ctx, p, start, segments)
		evals += n
		if err != nil {
			return domain.Trajectory{}, err
		}
		fmt.Fprintf(diag.Stdout, "start %d: residual %.3g after %d evaluations\n", i, r, n)
		if r < residual {
			best, residual = x, r
		}
		if residual <= target/2 {
			break
		}
	}

	if best == nil {
		return domain.Trajectory{}, fmt.Errorf("%w: every start sank below the surface", domain.ErrComputationFailure)
	}

	// Phase 2: spend less fuel without leaving the target.
	if residual <= target {
		fuel := simulate(p, decode(best, segments)).fuel(p)
		for _, w := range penaltyWeights {
			x, n, err := b.refine(ctx, p, best, segments, w, diag)
			evals += n
			if err != nil {
				return domain.Trajectory{}, err
			}
			x, r, n, err := restore(ctx, p, x, segments)
			evals += n
			if err != nil {
				return domain.Trajectory{}, err
			}
			f := simulate(p, decode(x, segments)).fuel(p)
			fmt.Fprintf(diag.Stdout, "weight %g: residual %.3g, fuel %.4f\n", w, r, f)
			if r <= math.Max(target, residual) && f < fuel {
				best, residual, fuel = x, r, f
			}
		}
	}

	c := decode(best, segments)
	sol := simulate(p, c)
	residual = terminalResidual(p, sol)
	fmt.Fprintf(diag.Stdout, "done after %d evaluations: residual %.3g, fuel %.4f, T %.2f s\n",
		evals, residual, sol.fuel(p), c.finalTime)

	if sol.crashed || math.IsNaN(residual) || (b.cfg.MaxResidual > 0 && residual > b.cfg.MaxResidual) {
		return domain.Trajectory{}, fmt.Errorf("%w: terminal residual %.3g exceeds %.3g",
			domain.ErrComputationFailure, residual, b.cfg.MaxResidual)
	}
	return sol.trajectory(), nil
}

// refine runs one Nelder–Mead stage on fuel plus w times the squared
// terminal error.
func (b *NativeBackend) refine(ctx context.Context, p domain.Parameters, x0 []float64, segments int, w float64, diag domain.Diagnostics) ([]float64, int, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return objective(p, simulate(p, decode(x, segments)), w)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: b.cfg.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 200,
		},
		Recorder: &progressRecorder{ctx: ctx, out: diag.Stdout, every: b.cfg.ProgressEvery},
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: 0.3})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, 0, ctxErr
	}
	if res == nil {
		return nil, 0, fmt.Errorf("%w: optimizer: %v", domain.ErrComputationFailure, err)
	}
	if err != nil {
		fmt.Fprintf(diag.Stderr, "optimizer stopped early: %v\n", err)
	}
	return res.X, res.FuncEvaluations, nil
}

// restore pulls x onto the target with a damped minimum-norm Gauss–Newton
// (Levenberg–Marquardt) iteration on the terminal errors. It returns the
// final point, its residual and the number of simulations spent.
func restore(ctx context.Context, p domain.Parameters, x []float64, segments int) ([]float64, float64, int, error) {
	x = append([]float64(nil), x...)
	n := len(x)
	eval := func(y []float64) (errorVector, bool) {
		s := simulate(p, decode(y, segments))
		return s.errors(p), !s.crashed
	}

	f, ok := eval(x)
	evals := 1
	if !ok {
		return x, math.Inf(1), evals, nil
	}
	norm2 := f.norm2()

	jac := mat.NewDense(len(f), n, nil)
	var (
		jjt  mat.SymDense
		chol mat.Cholesky
		z    mat.VecDense
		dx   mat.VecDense
	)
	lambda := 1e-3
	for iter := 0; iter < lmIterations && math.Sqrt(norm2) >= lmTolerance; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, evals, err
		}
		origin := f[:]
		fd.Jacobian(jac, func(y, xs []float64) {
			e, ok := eval(xs)
			if !ok {
				e = f // a crashed probe contributes a zero column
			}
			copy(y, e[:])
		}, x, &fd.JacobianSettings{Step: lmStep, OriginValue: origin})
		evals += n
		jjt.SymOuterK(1, jac)

		improved := false
		for try := 0; try < 10; try++ {
			damped := mat.NewSymDense(len(f), nil)
			damped.CopySym(&jjt)
			for i := 0; i < len(f); i++ {
				damped.SetSym(i, i, jjt.At(i, i)+lambda)
			}
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			rhs := mat.NewVecDense(len(f), nil)
			for i, v := range f {
				rhs.SetVec(i, -v)
			}
			if err := chol.SolveVecTo(&z, rhs); err != nil {
				lambda *= 10
				continue
			}
			dx.MulVec(jac.T(), &z)
			if move := mat.Norm(&dx, 2); move > lmMaxMove {
				dx.ScaleVec(lmMaxMove/move, &dx)
			}
			y := make([]float64, n)
			for j := range y {
				y[j] = x[j] + dx.AtVec(j)
			}
			fy, ok := eval(y)
			evals++
			if ok && fy.norm2() < norm2 {
				x, f, norm2 = y, fy, fy.norm2()
				lambda = math.Max(lambda/3, 1e-9)
				improved = true
				break
			}
			lambda *= 4
		}
		if !improved {
			break
		}
	}
	return x, math.Sqrt(norm2), evals, nil
}

// ─── Decision Vector ────────────────────────────────────────────────────────

// controls is a decoded decision vector.
type controls struct {
	launchQ   float64
	finalTime float64
	throttle  []float64 // one level per segment, in [0, 1]
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func decode(x []float64, segments int) controls {
	c := controls{
		launchQ:   maxLaunchQ * sigmoid(x[0]),
		finalTime: minFinalTime + (maxFinalTime-minFinalTime)*sigmoid(x[1]),
		throttle:  make([]float64, segments),
	}
	for k := range c.throttle {
		c.throttle[k] = sigmoid(x[2+k])
	}
	return c
}

// startingPoints lists the feasibility starts in the order they are tried.
// Each is a (launch pitch, final time, burn) triple in fractions of the
// bounds, where burn is the share of the propellant the guess plans to use.
func startingPoints(p domain.Parameters, segments int) [][]float64 {
	seeds := [][3]float64{
		{0.1, 0.25, 0.8},
		{0.03, 0.05, 0.8},
		{0.3, 0.6, 0.5},
		{0.1, 0.6, 0.8},
		{0.03, 0.25, 0.5},
	}
	out := make([][]float64, len(seeds))
	for i, s := range seeds {
		out[i] = initialGuess(p, segments, s[0], s[1], s[2])
	}
	return out
}

// initialGuess burns hard through the first segment, then spreads what is
// left of the planned propellant evenly over the remaining ones.
func initialGuess(p domain.Parameters, segments int, pitch, timeFrac, burn float64) []float64 {
	finalTime := minFinalTime + (maxFinalTime-minFinalTime)*timeFrac
	seg := finalTime / float64(segments)
	// Seconds of full thrust the planned propellant allows.
	budget := burn * (p.WetMass - p.DryMass) * p.SpecificImpulse * p.SurfaceGravity / p.MaxThrust

	first := math.Min(0.95, budget/seg)
	rest := 0.02
	if segments > 1 {
		rest = clamp((budget-first*seg)/(finalTime-seg), 0.02, 0.95)
	}

	x := make([]float64, 2+segments)
	x[0] = logit(pitch)
	x[1] = logit(timeFrac)
	x[2] = logit(math.Max(first, 0.02))
	for k := 1; k < segments; k++ {
		x[2+k] = logit(rest)
	}
	return x
}

func clamp(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }

// ─── Integration ────────────────────────────────────────────────────────────

// state is [m, v, q, h, d].
type state [5]float64

// solution holds the grid samples of one simulated ascent.
type solution struct {
	time     []float64
	states   []state
	throttle []float64 // effective level per interval
	minAlt   float64
	crashed  bool // sank past crashDepth; later samples are zero
}

func simulate(p domain.Parameters, c controls) solution {
	n := p.GridSize
	dt := c.finalTime / float64(n)
	substeps := max(1, int(math.Ceil(dt/maxStep)))
	h := dt / float64(substeps)

	sol := solution{
		time:     make([]float64, n+1),
		states:   make([]state, n+1),
		throttle: make([]float64, n),
	}
	x := state{p.WetMass, p.InitialSpeed, c.launchQ, 0, 0}
	sol.states[0] = x

	for i := 0; i < n; i++ {
		u := c.throttle[i*len(c.throttle)/n]
		if x[0] <= p.DryMass {
			u = 0
		}
		sol.throttle[i] = u
		for s := 0; s < substeps; s++ {
			x = rk4(p, x, u, h)
			if x[3] < -crashDepth*p.SurfaceRadius || math.IsNaN(x[3]) {
				sol.crashed = true
				return sol
			}
		}
		sol.time[i+1] = float64(i+1) * dt
		sol.states[i+1] = x
		sol.minAlt = math.Min(sol.minAlt, x[3])
	}
	return sol
}

func rk4(p domain.Parameters, x state, u, h float64) state {
	k1 := deriv(p, x, u)
	k2 := deriv(p, axpy(x, k1, h/2), u)
	k3 := deriv(p, axpy(x, k2, h/2), u)
	k4 := deriv(p, axpy(x, k3, h), u)
	var out state
	for j := range out {
		out[j] = x[j] + h/6*(k1[j]+2*k2[j]+2*k3[j]+k4[j])
	}
	// Tanks cannot go below empty, speed stays nonzero and the pitch stays
	// within [0, π].
	out[0] = math.Max(out[0], p.DryMass)
	out[1] = math.Max(out[1], math.Abs(p.InitialSpeed))
	out[2] = math.Min(math.Max(out[2], 0), math.Pi)
	return out
}

func axpy(x, k state, h float64) state {
	var out state
	for j := range out {
		out[j] = x[j] + h*k[j]
	}
	return out
}

func deriv(p domain.Parameters, x state, u float64) state {
	m, v, q, alt := x[0], x[1], x[2], x[3]
	if m <= p.DryMass {
		u = 0
	}
	drag := 0.5e3 * p.ReferenceArea * p.DragCoefficient * p.SurfaceDensity * math.Exp(-alt/p.ScaleHeight) * v * v
	r := alt + p.SurfaceRadius
	g := p.SurfaceGravity * (p.SurfaceRadius / r) * (p.SurfaceRadius / r)

	dd := v * math.Sin(q) / r
	var dq float64
	if v >= kickSpeed {
		dq = g*math.Sin(q)/v - dd
	}
	return state{
		-(p.MaxThrust / (p.SpecificImpulse * p.SurfaceGravity)) * u,
		(p.MaxThrust*u-drag)/m - g*math.Cos(q),
		dq,
		v * math.Cos(q),
		dd,
	}
}

// ─── Objective ──────────────────────────────────────────────────────────────

// errorVector holds the normalized terminal errors in altitude, speed and
// pitch, followed by the deepest excursion below the surface in scale
// heights.
type errorVector [4]float64

func (e errorVector) norm2() float64 {
	var sum float64
	for _, v := range e {
		sum += v * v
	}
	return sum
}

func (s solution) errors(p domain.Parameters) errorVector {
	f := s.states[len(s.states)-1]
	return errorVector{
		(f[3] - p.TargetAltitude) / math.Max(p.TargetAltitude, 1),
		(f[1] - p.TargetSpeed) / math.Max(p.TargetSpeed, 0.1),
		(f[2] - p.TargetAngle) / maxLaunchQ,
		s.minAlt / math.Max(p.ScaleHeight, 1),
	}
}

// terminalResidual is the normalized distance between the final state and
// the target.
func terminalResidual(p domain.Parameters, s solution) float64 {
	e := s.errors(p)
	return math.Sqrt(e[0]*e[0] + e[1]*e[1] + e[2]*e[2])
}

// fuel is the share of the propellant burnt.
func (s solution) fuel(p domain.Parameters) float64 {
	f := s.states[len(s.states)-1]
	return (p.WetMass - f[0]) / (p.WetMass - p.DryMass + 1e-12)
}

func objective(p domain.Parameters, s solution, weight float64) float64 {
	if s.crashed {
		return failedObjective
	}
	v := s.fuel(p) + weight*s.errors(p).norm2()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return failedObjective
	}
	return v
}

// ─── Output ─────────────────────────────────────────────────────────────────

func (s solution) trajectory() domain.Trajectory {
	n := len(s.states)
	col := func(j int) []float64 {
		out := make([]float64, n)
		for i, x := range s.states {
			out[i] = x[j]
		}
		return out
	}
	// The control has one value per interval; pad the final grid point.
	control := append(append(make([]float64, 0, n), s.throttle...), 0)

	var t domain.Trajectory
	t.Add(domain.ColTime, append([]float64(nil), s.time...))
	t.Add(domain.ColMass, col(0))
	t.Add(domain.ColSpeed, col(1))
	t.Add(domain.ColAltitude, col(3))
	t.Add(domain.ColControl, control)
	t.Add(domain.ColBodyCurvature, col(4))
	t.Add(domain.ColVerticalAngle, col(2))
	return t
}

// ─── Progress ───────────────────────────────────────────────────────────────

// progressRecorder writes an iteration log and aborts the run once ctx is
// done.
type progressRecorder struct {
	ctx   context.Context
	out   io.Writer
	every int
}

func (r *progressRecorder) Init() error { return r.ctx.Err() }

func (r *progressRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op == optimize.MajorIteration && stats.MajorIterations%r.every == 0 {
		fmt.Fprintf(r.out, "iter %5d  evals %6d  objective %.8g\n", stats.MajorIterations, stats.FuncEvaluations, loc.F)
	}
	return nil
}
