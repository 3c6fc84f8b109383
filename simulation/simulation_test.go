package simulation

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/particles"
)

const baseConfig = `
run:
  steps: 20
  seed: 42
  workers: 2
  log_every: 5
mesh:
  lower: [0.0]
  upper: [0.1]
  cells: [8]
field:
  e: [0, 0, 0]
  b: [0, 0, 0]
species:
  charge: [-1, 1]
  mass: [1, 1836]
  density: [1.0e10, 1.0e10]
  thermal: [1.0e5, 2334.0]
  distribution: [maxwellian, maxwellian]
  npc: [20, 20]
injection:
  flux_resolution: 32
`

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(baseConfig + extra))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSim(t *testing.T, cfg *config.Config, opts Options) *Simulation {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	s, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_LoadsParticles(t *testing.T) {
	s := newSim(t, testConfig(t, ""), Options{})

	pop := s.Population()
	if got, want := pop.NumOfParticles(), 320; got != want {
		t.Errorf("particles: got %d, want %d", got, want)
	}
	if got := pop.NumOfNegatives(); got != 160 {
		t.Errorf("electrons: got %d, want 160", got)
	}
	if s.Seed() != 42 {
		t.Errorf("seed: got %d, want 42", s.Seed())
	}
	for _, sp := range s.Species() {
		if len(sp.Flux.NumParticles) != 2 {
			t.Fatalf("flux facets: got %d, want 2", len(sp.Flux.NumParticles))
		}
		for f, n := range sp.Flux.NumParticles {
			if !(n > 0) {
				t.Errorf("facet %d intensity: got %v, want positive", f, n)
			}
		}
	}
}

func TestRun_CompletesSteps(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "diagnostics:\n  output_dir: "+dir+"\n")
	s := newSim(t, cfg, Options{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Iteration() != 20 {
		t.Errorf("steps: got %d, want 20", s.Iteration())
	}
	if got, want := s.Time(), 20*cfg.Derived.DT; math.Abs(got-want) > 1e-9*want {
		t.Errorf("time: got %v, want %v", got, want)
	}
	h := s.History()
	if h.Step != 19 || h.NumTotal == 0 || !(h.KineticEnergy > 0) {
		t.Errorf("got %+v, want a populated last step", h)
	}
	if s.Population().NumOfParticles() == 0 {
		t.Error("population emptied")
	}

	data, err := os.ReadFile(filepath.Join(dir, "history.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 21 {
		t.Errorf("history lines: got %d, want 21", len(lines))
	}
	for _, name := range []string{"config.yaml", "perf.csv", "velocity.csv", "snapshot_20.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	run := func() []particles.Record {
		s := newSim(t, testConfig(t, ""), Options{})
		if err := s.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		return s.Population().Snapshot(nil)
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("particles: got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d: got %+v, want %+v", i, b[i], a[i])
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newSim(t, testConfig(t, ""), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Iteration() != 0 {
		t.Errorf("steps: got %d, want 0", s.Iteration())
	}
}

func TestStep_ConservesWithoutBoundaryLoss(t *testing.T) {
	// Without inflow and with particles far from the walls, nothing is
	// created or lost.
	cfg := testConfig(t, "")
	cfg.Species.Thermal = []float64{1, 1}
	s := newSim(t, cfg, Options{})
	before := s.Population().TotalCharge()

	for i := 0; i < 5; i++ {
		if err := s.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Population().NumOfParticles(); got != 320 {
		t.Errorf("particles: got %d, want 320", got)
	}
	if got := s.Population().TotalCharge(); got != before {
		t.Errorf("charge: got %v, want %v", got, before)
	}
}

func TestStep_ObjectsAbsorb(t *testing.T) {
	cfg := testConfig(t, "objects: [{name: collector, center: [0.05], radius: 0.01}]\n")
	s := newSim(t, cfg, Options{})

	if err := s.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := s.History()
	if h.Absorbed == 0 {
		t.Fatal("expected particles inside the object to be absorbed")
	}
	if got := s.Objects().Absorbed(); got != h.Absorbed {
		t.Errorf("object absorbed: got %d, want %d", got, h.Absorbed)
	}
	s.Population().ForEach(func(_ int, e ecs.Entity) {
		x := s.Population().Position(e)[0]
		if x > 0.0401 && x < 0.0599 {
			t.Errorf("particle at %v left inside the object", x)
		}
	})
}

func TestStep_DensityAverage(t *testing.T) {
	cfg := testConfig(t, "diagnostics:\n  densities_ema: true\n  densities_tau: 1.0e-9\n")
	s := newSim(t, cfg, Options{})

	if ne, _ := s.Densities(); ne != nil {
		t.Fatal("densities before the first step")
	}
	if err := s.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	ne, ni := s.Densities()
	if len(ne) != s.Mesh().NumDofs() || len(ni) != s.Mesh().NumDofs() {
		t.Fatalf("got %d and %d vertices, want %d", len(ne), len(ni), s.Mesh().NumDofs())
	}
	for v, n := range ne {
		if n < 0 {
			t.Errorf("ne[%d]: got %v, want non-negative", v, n)
		}
	}
}

func TestStep_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	cfg := testConfig(t, "")
	cfg.Run.Steps = 3
	s := newSim(t, cfg, Options{Tracer: tp.Tracer("test")})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for _, span := range sr.Ended() {
		counts[span.Name()]++
	}
	if counts["setup"] != 1 || counts["step"] != 3 {
		t.Errorf("got spans %v, want 1 setup and 3 step", counts)
	}
}

func TestNew_SetupSpanRecordsErrors(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{"species", func(cfg *config.Config) { cfg.Species.Distribution = []string{"kappa", "maxwellian"} }},
		{"mesh", func(cfg *config.Config) { cfg.Mesh.Cells = []int{0} }},
		{"output", func(cfg *config.Config) { cfg.Diagnostics.OutputDir = filepath.Join(blocker, "out") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
			t.Cleanup(func() { tp.Shutdown(context.Background()) })

			cfg := testConfig(t, "")
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Tracer: tp.Tracer("test")})
			if err == nil {
				t.Fatal("expected a setup error")
			}

			spans := sr.Ended()
			if len(spans) != 1 || spans[0].Name() != "setup" {
				t.Fatalf("got %d spans, want one setup span", len(spans))
			}
			if got := spans[0].Status().Code; got != codes.Error {
				t.Errorf("status: got %v, want %v", got, codes.Error)
			}
			if got := len(spans[0].Events()); got == 0 {
				t.Error("setup span has no error event")
			}
		})
	}
}

func TestPlasmaScales(t *testing.T) {
	cfg := testConfig(t, "")
	debye, temperature := plasmaScales(cfg)

	wantDebye := []float64{0.0177259, 0.0177274}
	wantTemperature := []float64{659.790, 659.903}
	for i := range wantDebye {
		if math.Abs(debye[i]-wantDebye[i])/wantDebye[i] > 1e-4 {
			t.Errorf("species %d debye length: got %v, want %v", i, debye[i], wantDebye[i])
		}
		if math.Abs(temperature[i]-wantTemperature[i])/wantTemperature[i] > 1e-4 {
			t.Errorf("species %d temperature: got %v, want %v", i, temperature[i], wantTemperature[i])
		}
	}
}

func TestNew_WarnsOnUnresolvedDebyeLength(t *testing.T) {
	const warning = "cells wider than the Debye length"
	tests := []struct {
		name  string
		cells int
		warn  bool
	}{
		{"resolved", 8, false},
		{"coarse", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			cfg := testConfig(t, "")
			// 0.1 m domain against a 1.8 cm Debye length.
			cfg.Mesh.Cells = []int{tt.cells}
			newSim(t, cfg, Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
			if got := strings.Contains(buf.String(), warning); got != tt.warn {
				t.Errorf("warning logged: got %v, want %v", got, tt.warn)
			}
		})
	}
}

func TestResume(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "diagnostics:\n  output_dir: "+dir+"\n")
	cfg.Run.Steps = 5
	first := newSim(t, cfg, Options{})
	if err := first.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := first.Population().NumOfParticles()

	cfg2 := testConfig(t, "")
	cfg2.Run.Steps = 8
	cfg2.Run.Seed = 7
	s := newSim(t, cfg2, Options{Resume: filepath.Join(dir, "snapshot_5.json")})
	if s.Iteration() != 5 {
		t.Errorf("step: got %d, want 5", s.Iteration())
	}
	if got := s.Population().NumOfParticles(); got != want {
		t.Errorf("particles: got %d, want %d", got, want)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Iteration() != 8 {
		t.Errorf("step: got %d, want 8", s.Iteration())
	}
}

func TestResume_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "diagnostics:\n  output_dir: "+dir+"\n")
	cfg.Run.Steps = 1
	first := newSim(t, cfg, Options{})
	if err := first.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg2d, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(context.Background(), cfg2d, Options{
		Logger: quietLogger(),
		Resume: filepath.Join(dir, "snapshot_1.json"),
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
