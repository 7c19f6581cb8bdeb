package daemon

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/kos-tools/gturn/internal/app/compute"
	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/engine"
	"github.com/kos-tools/gturn/internal/infra/koson"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
	"github.com/kos-tools/gturn/internal/logging"
)

const plainInput = `{"m0": 1.5, "m1": 0.5, "g0": 0.00981, "r0": 600, "Isp": 300,
 "Fmax": 0.06, "cd": 0.2, "A": 1, "H": 5.6, "rho": 1.2,
 "h_obj": 80, "v_obj": 2.2, "q_obj": 1.5707963267948966, "N": 10}`

func testConfig(t *testing.T, watch string) Config {
	t.Helper()
	t.Setenv("GTURN_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Server.WatchDir = watch
	cfg.Server.Cycles = 1
	cfg.Server.PollInterval = "10ms"
	cfg.Solver.Backend = engine.BackendMock
	cfg.Health.StaleLockAfter = ""
	return cfg
}

// assertTrajectoryStart checks the published column set and the launch
// sample.
func assertTrajectoryStart(t *testing.T, traj domain.Trajectory, wetMass float64) {
	t.Helper()
	want := slices.Clone(domain.TrajectoryColumns)
	slices.Sort(want)
	if got := traj.SortedNames(); !slices.Equal(got, want) {
		t.Errorf("columns = %v, want %v", got, want)
	}
	tm, _ := traj.Column(domain.ColTime)
	if len(tm) == 0 || tm[0] != 0 {
		t.Errorf("time[0] = %v, want 0", tm)
	}
	mass, _ := traj.Column(domain.ColMass)
	if len(mass) == 0 || math.Abs(mass[0]-wetMass) > 1e-9 {
		t.Errorf("mass[0] = %v, want wet mass %v", mass, wetMass)
	}
}

func writeInput(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(plainInput), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ─── Serve ──────────────────────────────────────────────────────────────────

func TestDaemon_ServeOneShot(t *testing.T) {
	watch := t.TempDir()
	writeInput(t, filepath.Join(watch, "a", taskdir.InputData))
	writeInput(t, filepath.Join(watch, "b", taskdir.InputData))
	os.WriteFile(filepath.Join(watch, "b", taskdir.InputLock), nil, 0o644)

	cfg := testConfig(t, watch)
	cfg.Server.Async = true
	cfg.Server.Workers = 2
	cfg.Output.RawTable = true

	d, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()

	if err := d.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	out, err := koson.ReadFile(filepath.Join(watch, "a", taskdir.OutputData))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	traj, err := koson.ToTrajectory(out)
	if err != nil {
		t.Fatal(err)
	}
	if traj.Len() != 11 {
		t.Errorf("samples = %d, want N+1 = 11", traj.Len())
	}
	assertTrajectoryStart(t, traj, 1.5)
	if _, err := os.Stat(filepath.Join(watch, "a", taskdir.RawTable)); err != nil {
		t.Errorf("raw table missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(watch, "b", taskdir.OutputData)); err == nil {
		t.Error("locked input must not be processed")
	}

	runs, err := d.Journal.RecentRuns(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Task != "a" || runs[0].State != domain.TaskCompleted || runs[0].Mode != "pool" {
		t.Errorf("journal = %+v", runs)
	}
}

func TestDaemon_ServeNativeSolver(t *testing.T) {
	const vacuumInput = `{"m0": 1.5, "m1": 0.5, "g0": 0.00981, "r0": 600, "Isp": 300,
 "Fmax": 0.06, "cd": 0, "A": 1, "H": 5.6, "rho": 0,
 "h_obj": 80, "v_obj": 2.2, "q_obj": 1.5707963267948966, "N": 60}`

	watch := t.TempDir()
	dir := filepath.Join(watch, "ascent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, taskdir.InputData), []byte(vacuumInput), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, watch)
	cfg.Solver.Backend = engine.BackendNative

	d, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()
	if err := d.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, taskdir.ErrorData)); err == nil {
		msg, _ := os.ReadFile(filepath.Join(dir, taskdir.ErrorData))
		t.Fatalf("solver failed: %s", msg)
	}
	out, err := koson.ReadFile(filepath.Join(dir, taskdir.OutputData))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	traj, err := koson.ToTrajectory(out)
	if err != nil {
		t.Fatal(err)
	}
	if traj.Len() != 61 {
		t.Errorf("samples = %d, want N+1 = 61", traj.Len())
	}
	assertTrajectoryStart(t, traj, 1.5)

	alt, _ := traj.Column(domain.ColAltitude)
	speed, _ := traj.Column(domain.ColSpeed)
	if math.Abs(alt[60]-80)/80 > 0.05 || math.Abs(speed[60]-2.2)/2.2 > 0.05 {
		t.Errorf("final state h=%v v=%v, want near 80 km at 2.2 km/s", alt[60], speed[60])
	}
}

func TestDaemon_ServeMissingWatchDir(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing"))
	cfg.History.Enabled = false

	d, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()
	if d.Journal != nil {
		t.Error("Journal should be nil when history is disabled")
	}
	if err := d.Serve(context.Background()); err == nil {
		t.Error("Serve() should fail for a missing watch directory")
	}
}

func TestDaemon_NewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Server.Workers = 0
	if _, err := New(cfg, logging.Discard(), "test"); err == nil {
		t.Error("New() should reject workers = 0")
	}
}

// ─── Direct Mode ────────────────────────────────────────────────────────────

func mockAdapter() *compute.Adapter {
	return compute.NewAdapter(engine.NewMockBackend(), logging.Discard(), false)
}

func TestDirect_Stdout(t *testing.T) {
	in := filepath.Join(t.TempDir(), "ascent.json")
	writeInput(t, in)

	var stdout bytes.Buffer
	err := Direct(context.Background(), mockAdapter(), DirectOptions{Input: in, Indent: "  ", Stdout: &stdout}, logging.Discard())
	if err != nil {
		t.Fatalf("Direct() error: %v", err)
	}
	if !strings.Contains(stdout.String(), "\n  ") || !strings.Contains(stdout.String(), koson.LexiconType) {
		t.Errorf("stdout is not an indented result:\n%s", stdout.String())
	}
	v, err := koson.Unmarshal(stdout.Bytes())
	if err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if _, err := koson.ToTrajectory(v); err != nil {
		t.Errorf("stdout is not a trajectory: %v", err)
	}
}

func TestDirect_IgnoresLocks(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, taskdir.InputData)
	writeInput(t, in)
	os.WriteFile(filepath.Join(dir, taskdir.InputLock), nil, 0o644)
	out := filepath.Join(dir, taskdir.OutputData)

	if err := Direct(context.Background(), mockAdapter(), DirectOptions{Input: in, Output: out}, logging.Discard()); err != nil {
		t.Fatalf("Direct() error: %v", err)
	}
	if _, err := koson.ReadFile(out); err != nil {
		t.Errorf("output not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, taskdir.OutputLock)); err == nil {
		t.Error("direct mode must not write output.lock")
	}
}

func TestDirect_Failures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"entries":["m0"],"$type":"kOS.Safe.Encapsulation.Lexicon"}`), 0o644)
	partial := filepath.Join(dir, "partial.json")
	os.WriteFile(partial, []byte(`{"m0": 1}`), 0o644)

	tests := []struct {
		name string
		opts DirectOptions
	}{
		{"missing file", DirectOptions{Input: filepath.Join(dir, "nope.json")}},
		{"malformed", DirectOptions{Input: bad}},
		{"missing parameters", DirectOptions{Input: partial}},
		{"exec without output", DirectOptions{Input: bad, Exec: "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Stdout = &bytes.Buffer{}
			if err := Direct(context.Background(), mockAdapter(), tt.opts, logging.Discard()); err == nil {
				t.Error("Direct() should fail")
			}
		})
	}
}

func TestDirect_ExecHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	writeInput(t, in)
	out := filepath.Join(dir, "out.json")

	var stdout bytes.Buffer
	opts := DirectOptions{Input: in, Output: out, Exec: `echo "hook:$GTURN_OUTPUT"`, Stdout: &stdout}
	if err := Direct(context.Background(), mockAdapter(), opts, logging.Discard()); err != nil {
		t.Fatalf("Direct() error: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "hook:"+out {
		t.Errorf("hook output = %q, want %q", got, "hook:"+out)
	}

	opts.Exec = "exit 3"
	if err := Direct(context.Background(), mockAdapter(), opts, logging.Discard()); err == nil {
		t.Error("failing hook should fail Direct()")
	}
}

func TestWriteRawTable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	writeInput(t, in)
	out := filepath.Join(dir, "out.json")
	if err := Direct(context.Background(), mockAdapter(), DirectOptions{Input: in, Output: out}, logging.Discard()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteRawTable(out, &buf); err != nil {
		t.Fatalf("WriteRawTable() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 12 {
		t.Errorf("lines = %d, want header + 11 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "altitude\t") {
		t.Errorf("header = %q, want sorted column names", lines[0])
	}
}
