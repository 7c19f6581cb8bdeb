// Package engine provides the trajectory optimizer backends.
//
//	NativeBackend      in-process shooting solver (RK4 + Nelder–Mead)
//	SubprocessBackend  external solver command speaking the koson format
//	MockBackend        fast synthetic trajectories for dry runs and tests
//
// Select picks one from configuration.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
)

// ─── Subprocess Backend ─────────────────────────────────────────────────────
// The solver is invoked as `<command> [args...] <input.json> <output.json>`
// inside a scratch directory. It reads the parameters (short key names) and
// writes a mapping of equal-length number sequences.

// SubprocessBackend runs an external solver program per task.
type SubprocessBackend struct {
	path string
	args []string
}

// NewSubprocessBackend resolves command (program plus optional leading
// arguments, split on whitespace) against PATH.
func NewSubprocessBackend(command string) (*SubprocessBackend, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty solver command", domain.ErrSolverNotFound)
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSolverNotFound, fields[0], err)
	}
	return &SubprocessBackend{path: path, args: fields[1:]}, nil
}

// Name implements domain.Optimizer.
func (b *SubprocessBackend) Name() string {
	return "subprocess:" + filepath.Base(b.path)
}

// Optimize implements domain.Optimizer.
func (b *SubprocessBackend) Optimize(ctx context.Context, p domain.Parameters, diag domain.Diagnostics) (domain.Trajectory, error) {
	work, err := os.MkdirTemp("", "gturn-solve-*")
	if err != nil {
		return domain.Trajectory{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(work)

	in := filepath.Join(work, "input.json")
	out := filepath.Join(work, "output.json")
	var buf bytes.Buffer
	if err := koson.Dump(&buf, encodeParameters(p), ""); err != nil {
		return domain.Trajectory{}, err
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o644); err != nil {
		return domain.Trajectory{}, fmt.Errorf("write solver input: %w", err)
	}

	// Keep the tail of stderr for the error message.
	tail := &limitedBuffer{max: 2048}

	cmd := exec.CommandContext(ctx, b.path, append(append([]string(nil), b.args...), in, out)...)
	cmd.Dir = work
	cmd.Stdout = diag.Stdout
	cmd.Stderr = io.MultiWriter(diag.Stderr, tail)
	configureProcess(cmd)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Trajectory{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.Trajectory{}, fmt.Errorf("%w: solver exited with code %d: %s",
				domain.ErrComputationFailure, exitErr.ExitCode(), lastLine(tail.String()))
		}
		return domain.Trajectory{}, fmt.Errorf("%w: run solver: %v", domain.ErrComputationFailure, err)
	}

	v, err := koson.ReadFile(out)
	if err != nil {
		return domain.Trajectory{}, fmt.Errorf("%w: read solver output: %w", domain.ErrComputationFailure, err)
	}
	t, err := koson.ToTrajectory(v)
	if err != nil {
		return domain.Trajectory{}, fmt.Errorf("%w: %w", domain.ErrComputationFailure, err)
	}
	return t, nil
}

// encodeParameters renders p with the short key names solvers expect.
func encodeParameters(p domain.Parameters) koson.Value {
	m := koson.NewMap()
	for _, kv := range []struct {
		k string
		v float64
	}{
		{"m0", p.WetMass}, {"m1", p.DryMass}, {"g0", p.SurfaceGravity}, {"r0", p.SurfaceRadius},
		{"Isp", p.SpecificImpulse}, {"Fmax", p.MaxThrust}, {"cd", p.DragCoefficient},
		{"A", p.ReferenceArea}, {"H", p.ScaleHeight}, {"rho", p.SurfaceDensity},
		{"h_obj", p.TargetAltitude}, {"v_obj", p.TargetSpeed}, {"q_obj", p.TargetAngle},
		{"N", float64(p.GridSize)}, {"vel_eps", p.InitialSpeed},
	} {
		m.Set(kv.k, koson.Number(kv.v))
	}
	return koson.MapValue(m)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "no output"
	}
	return s
}

// limitedBuffer is a thread-safe buffer that keeps only the last max bytes.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
