// Package anomaly flags solver runs that behave unlike the backend's history.
//
// Each backend has a running profile of compute durations and outcomes.
// A run whose duration lies more than SigmaThreshold standard deviations from
// the mean is an outlier; a failure from a backend that has been reliable is
// flagged too. Flags are advisory: the run is published as usual.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// SigmaThreshold is the number of standard deviations for an outlier.
	SigmaThreshold = 3.0

	// MinSamples is how many runs a profile needs before checks apply.
	MinSamples = 5

	// ReliableSuccessRate is the success rate above which a failure is unexpected.
	ReliableSuccessRate = 0.9

	// MaxConsecutive anomalies before a flag is escalated.
	MaxConsecutive = 3
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Kind identifies what kind of anomaly was detected.
type Kind int

const (
	KindNone              Kind = iota
	KindSlowRun                // far slower than usual
	KindFastRun                // far faster than usual
	KindUnexpectedFailure      // failure from a reliable backend
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSlowRun:
		return "slow_run"
	case KindFastRun:
		return "fast_run"
	case KindUnexpectedFailure:
		return "unexpected_failure"
	default:
		return "unknown"
	}
}

// Severity indicates how serious an anomaly is.
type Severity int

const (
	SevWarning Severity = iota
	SevCritical
)

// String returns the severity label.
func (s Severity) String() string {
	if s == SevCritical {
		return "critical"
	}
	return "warning"
}

// Run describes one finished computation.
type Run struct {
	Backend    string
	Task       string
	Duration   time.Duration
	Successful bool
}

// Result is the outcome of analyzing a run.
type Result struct {
	IsAnomaly   bool     `json:"is_anomaly"`
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Profile holds running statistics for one backend. Durations use Welford's
// online algorithm over milliseconds.
type Profile struct {
	Backend string `json:"backend"`

	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	M2    float64 `json:"-"`

	Successes int `json:"successes"`
	Failures  int `json:"failures"`

	Consecutive int       `json:"consecutive_anomalies"`
	Anomalies   int       `json:"anomalies"`
	LastUpdate  time.Time `json:"last_update"`
}

// Stddev returns the standard deviation of the run duration in ms.
func (p *Profile) Stddev() float64 {
	if p.Count < 2 {
		return 0
	}
	return math.Sqrt(p.M2 / float64(p.Count-1))
}

// SuccessRate returns the fraction of successful runs.
func (p *Profile) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 1.0
	}
	return float64(p.Successes) / float64(total)
}

// Config configures the detector.
type Config struct {
	SigmaThreshold float64 // default 3.0
	MinSamples     int     // default 5
	MaxConsecutive int     // default 3
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		SigmaThreshold: SigmaThreshold,
		MinSamples:     MinSamples,
		MaxConsecutive: MaxConsecutive,
	}
}

// ─── Detector ───────────────────────────────────────────────────────────────

// Detector analyzes finished runs. Safe for concurrent use.
type Detector struct {
	mu       sync.RWMutex
	cfg      Config
	profiles map[string]*Profile

	now func() time.Time
}

// NewDetector creates a detector. Zero config fields take their defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = def.SigmaThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = def.MaxConsecutive
	}
	return &Detector{cfg: cfg, profiles: make(map[string]*Profile), now: time.Now}
}

// Analyze checks run against its backend profile, then folds it into the
// profile.
func (d *Detector) Analyze(run Run) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[run.Backend]
	if !ok {
		p = &Profile{Backend: run.Backend}
		d.profiles[run.Backend] = p
	}

	var res Result
	ms := float64(run.Duration.Milliseconds())

	// Failed runs often end early; only successful ones are timed.
	if run.Successful && p.Count >= d.cfg.MinSamples {
		if sd := p.Stddev(); sd > 0 {
			z := (ms - p.Mean) / sd
			if math.Abs(z) > d.cfg.SigmaThreshold {
				res.IsAnomaly = true
				res.Kind = KindSlowRun
				if z < 0 {
					res.Kind = KindFastRun
				}
				res.Description = fmt.Sprintf("run took %.0fms, %.1fσ from mean %.0fms (stddev=%.0fms)",
					ms, math.Abs(z), p.Mean, sd)
			}
		}
	}

	if !run.Successful {
		total := p.Successes + p.Failures
		if total >= d.cfg.MinSamples && p.SuccessRate() >= ReliableSuccessRate {
			res.IsAnomaly = true
			res.Kind = KindUnexpectedFailure
			res.Description = fmt.Sprintf("failure after %.0f%% success over %d runs", p.SuccessRate()*100, total)
		}
	}

	if run.Successful {
		p.Count++
		delta := ms - p.Mean
		p.Mean += delta / float64(p.Count)
		p.M2 += delta * (ms - p.Mean)
		p.Successes++
	} else {
		p.Failures++
	}
	p.LastUpdate = d.now()

	if !res.IsAnomaly {
		p.Consecutive = 0
		return res
	}
	p.Consecutive++
	p.Anomalies++
	if p.Consecutive >= d.cfg.MaxConsecutive {
		res.Severity = SevCritical
		res.Description += fmt.Sprintf(" [%d consecutive anomalies]", p.Consecutive)
	}
	return res
}

// Profile returns a copy of the backend's profile.
func (d *Detector) Profile(backend string) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[backend]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Profiles returns copies of all profiles ordered by backend name.
func (d *Detector) Profiles() []Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
