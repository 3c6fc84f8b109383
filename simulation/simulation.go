// Package simulation drives the particle-in-cell step loop: charge deposit,
// field evaluation, push, relocation and inflow injection.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/distributor"
	"github.com/pthm-cable/plasma/field"
	"github.com/pthm-cable/plasma/injector"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/object"
	"github.com/pthm-cable/plasma/parallel"
	"github.com/pthm-cable/plasma/particles"
	"github.com/pthm-cable/plasma/physics"
	"github.com/pthm-cable/plasma/pusher"
	"github.com/pthm-cable/plasma/species"
	"github.com/pthm-cable/plasma/telemetry"
	"github.com/pthm-cable/plasma/tracing"
)

// Options configures a simulation beyond the config file.
type Options struct {
	// Seed overrides the configured seed when nonzero.
	Seed   int64
	// Resume is the path of a snapshot to continue from instead of loading
	// fresh particles.
	Resume string

	Logger *slog.Logger
	Tracer trace.Tracer
	// Solver replaces the uniform external field.
	Solver field.Solver
}

// Simulation holds the complete kernel state of one run.
type Simulation struct {
	cfg    *config.Config
	seed   int64
	rng    *rand.Rand
	log    *slog.Logger
	tracer trace.Tracer

	mesh        *mesh.Box
	pop         *particles.Population
	species     []*species.Species
	objects     object.Set
	absorbers   []particles.Absorber
	pool        *parallel.Pool
	injector    *injector.Injector
	distributor *distributor.Distributor
	solver      field.Solver
	push        pusher.Pusher

	neEMA, niEMA distributor.EMA

	perf *telemetry.PerfCollector
	out  *telemetry.OutputManager

	// State
	step    int
	time    float64
	history telemetry.HistoryRow
	records []particles.Record
}

// New builds the mesh, species and particle population described by cfg and
// precomputes the inflow through every exterior facet.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Simulation, error) {
	s := &Simulation{
		cfg:     cfg,
		log:     opts.Logger,
		tracer:  opts.Tracer,
		objects: object.FromConfig(cfg),
		push:    pusher.Select(cfg.Derived.B),
		perf:    telemetry.NewPerfCollector(cfg.Diagnostics.PerfWindow),
		neEMA:   distributor.EMA{Tau: cfg.Diagnostics.DensitiesTau},
		niEMA:   distributor.EMA{Tau: cfg.Diagnostics.DensitiesTau},
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = tracing.Tracer()
	}

	s.seed = opts.Seed
	if s.seed == 0 {
		s.seed = cfg.Run.Seed
	}
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(s.seed))

	ctx, span := s.tracer.Start(ctx, "setup")
	defer span.End()

	if err := s.setup(ctx, opts.Solver, opts.Resume); err != nil {
		if s.pool != nil {
			s.pool.Close()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("seed", s.seed),
		attribute.Int("cells", s.mesh.NumCells()),
		attribute.Int("particles", s.pop.NumOfParticles()),
	)
	s.log.Info("simulation initialized",
		"seed", s.seed,
		"dim", cfg.Derived.Dim,
		"cells", s.mesh.NumCells(),
		"facets", s.injector.NumFacets(),
		"dt", cfg.Derived.DT,
		"magnetized", cfg.Derived.Magnetized,
		"particles", s.pop.NumOfParticles(),
		"step", s.step,
	)
	s.logScales()
	return s, nil
}

// setup builds everything New needs. The caller closes the pool on error.
func (s *Simulation) setup(ctx context.Context, solver field.Solver, resume string) error {
	cfg := s.cfg
	box, err := mesh.NewBox(cfg.Mesh.Lower, cfg.Mesh.Upper, cfg.Mesh.Cells)
	if err != nil {
		return fmt.Errorf("building mesh: %w", err)
	}
	s.mesh = box
	s.pop = particles.NewPopulation(box)
	s.absorbers = s.objects.Absorbers()

	s.species, err = species.FromConfig(cfg, box)
	if err != nil {
		return err
	}

	s.pool = parallel.NewPool(cfg.Run.Workers)
	s.distributor = distributor.New(box, s.pool)
	s.solver = solver
	if s.solver == nil {
		s.solver = field.NewUniformSolver(cfg.Derived.E, box)
	}

	facets := box.ExteriorFacets()
	err = species.CreateFlux(ctx, s.species, facets, species.FluxOptions{
		Resolution:   cfg.Injection.FluxResolution,
		SafetyMargin: cfg.Injection.SafetyMargin,
		Workers:      cfg.Run.Workers,
	})
	if err != nil {
		return fmt.Errorf("precomputing flux: %w", err)
	}
	s.injector = injector.New(facets, injector.Options{
		Sampler:      cfg.Injection.Sampler,
		Tiles:        cfg.Injection.Tiles,
		SafetyMargin: cfg.Injection.SafetyMargin,
		MaxAttempts:  cfg.Injection.MaxAttempts,
	})

	if err := s.populate(resume); err != nil {
		return err
	}

	s.out, err = telemetry.NewOutputManager(cfg.Diagnostics.OutputDir)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	if err := s.out.WriteConfig(cfg); err != nil {
		s.log.Error("failed to write config", "error", err)
	}
	return nil
}

// plasmaScales returns the Debye length in m and the temperature in K of
// every configured species.
func plasmaScales(cfg *config.Config) (debye, temperature []float64) {
	n := cfg.Species.Len()
	debye = make([]float64, n)
	temperature = make([]float64, n)
	for i := 0; i < n; i++ {
		vth, m := cfg.Species.Thermal[i], cfg.Derived.Mass[i]
		debye[i] = physics.DebyeLength(vth, cfg.Derived.Charge[i], cfg.Species.Density[i], m)
		temperature[i] = physics.Temperature(vth, m)
	}
	return debye, temperature
}

// logScales reports the plasma scales and warns when the mesh is coarser
// than the shortest Debye length.
func (s *Simulation) logScales() {
	debye, temperature := plasmaScales(s.cfg)
	shortest := math.Inf(1)
	for i := range debye {
		s.log.Info("species scales", "species", i, "debye_length", debye[i], "temperature_k", temperature[i])
		shortest = math.Min(shortest, debye[i])
	}
	spacing := 0.0
	for k, n := range s.cfg.Mesh.Cells {
		spacing = math.Max(spacing, (s.cfg.Mesh.Upper[k]-s.cfg.Mesh.Lower[k])/float64(n))
	}
	if spacing > shortest {
		s.log.Warn("cells wider than the Debye length", "cell_size", spacing, "debye_length", shortest)
	}
}

// populate loads the initial particles, either sampled from the species
// distributions or restored from a snapshot.
func (s *Simulation) populate(resume string) error {
	if resume == "" {
		stats, err := s.injector.Load(s.pop, s.species, s.rng)
		if err != nil {
			return fmt.Errorf("loading particles: %w", err)
		}
		s.log.Info("particles loaded", "per_species", stats.Injected, "discarded", stats.Discarded)
		return nil
	}

	snap, err := telemetry.LoadSnapshot(resume)
	if err != nil {
		return err
	}
	if snap.Dim != s.mesh.Dim() {
		return fmt.Errorf("%w: snapshot dimension %d, mesh dimension %d", config.ErrInvalid, snap.Dim, s.mesh.Dim())
	}
	records := snap.Records()
	added := s.pop.AddRecords(records)
	s.step = snap.Step
	s.time = snap.Time
	s.log.Info("resumed from snapshot",
		"path", resume,
		"step", snap.Step,
		"particles", added,
		"dropped", len(records)-added,
	)
	return nil
}

// Run advances the simulation until the configured step count is reached or
// ctx is cancelled. Cancellation stops the loop between steps. A snapshot of
// the final state is written to the output directory.
func (s *Simulation) Run(ctx context.Context) error {
	s.log.Info("starting simulation", "steps", s.cfg.Run.Steps, "from_step", s.step)

	for s.step < s.cfg.Run.Steps {
		if ctx.Err() != nil {
			s.log.Info("simulation interrupted", "step", s.step)
			break
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}

	s.flushTelemetry()
	s.saveSnapshot()
	s.log.Info("simulation finished", "step", s.step, "time", s.time, "particles", s.pop.NumOfParticles())
	return nil
}

// Step runs a single timestep.
func (s *Simulation) Step(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "step", trace.WithAttributes(attribute.Int("step", s.step)))
	defer span.End()

	dt := s.cfg.Derived.DT
	row := telemetry.HistoryRow{Step: s.step, Time: s.time}
	s.perf.StartStep()

	s.perf.StartPhase(telemetry.PhaseDistributor)
	rho := s.distributor.Distribute(s.pop)

	s.perf.StartPhase(telemetry.PhaseField)
	e, phi := s.solver.Solve(rho)

	if s.cfg.Diagnostics.PESave {
		s.perf.StartPhase(telemetry.PhasePE)
		row.PotentialEnergy = s.distributor.PotentialEnergy(s.pop, phi)
	}

	s.perf.StartPhase(telemetry.PhaseCounting)
	row.NumElectrons = s.pop.NumOfNegatives()
	row.NumIons = s.pop.NumOfPositives()
	row.NumTotal = s.pop.NumOfParticles()

	// Velocities lag positions by half a step
	s.perf.StartPhase(telemetry.PhaseAccelerator)
	row.KineticEnergy = s.push(s.pop, e, pusher.StepDT(s.step, dt), s.pool)

	s.perf.StartPhase(telemetry.PhaseMove)
	pusher.Move(s.pop, dt, s.pool)

	s.perf.StartPhase(telemetry.PhaseUpdate)
	us := s.pop.Update(s.absorbers...)
	row.Removed = us.Removed
	row.Absorbed = us.Absorbed
	s.objects.UpdateCurrent(dt)
	row.ObjectCharge = s.objects.Charge()
	row.ObjectCurrent = s.objects.Current()

	s.perf.StartPhase(telemetry.PhaseInjector)
	is, err := s.injector.Inject(s.pop, s.species, dt, s.rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.perf.EndStep()
		return fmt.Errorf("step %d: %w", s.step, err)
	}
	row.Injected = is.Total()
	row.Discarded = is.Discarded

	if s.cfg.Diagnostics.DensitiesEMA {
		s.perf.StartPhase(telemetry.PhaseDensity)
		ne, ni := s.distributor.Density(s.pop)
		s.neEMA.Update(ne, dt)
		s.niEMA.Update(ni, dt)
	}

	s.perf.StartPhase(telemetry.PhaseIO)
	s.history = row
	if err := s.out.WriteHistory(row); err != nil {
		s.log.Error("failed to write history", "error", err)
	}
	s.step++
	s.time += dt
	if s.cfg.Run.LogEvery > 0 && s.step%s.cfg.Run.LogEvery == 0 {
		s.flushTelemetry()
	}
	s.perf.EndStep()

	span.SetAttributes(
		attribute.Int("particles", row.NumTotal),
		attribute.Int("injected", row.Injected),
		attribute.Int("absorbed", row.Absorbed),
	)
	return nil
}

// flushTelemetry logs the latest history row and writes the periodic
// diagnostics.
func (s *Simulation) flushTelemetry() {
	perfStats := s.perf.Stats()
	s.records = s.pop.Snapshot(s.records[:0])
	velocity := telemetry.ComputeVelocityStats(s.history.Step, s.records)

	s.log.Info("step", "history", s.history, "perf", perfStats)
	for _, v := range velocity {
		s.log.Debug("velocity", "stats", v)
	}

	if err := s.out.WriteVelocity(velocity); err != nil {
		s.log.Error("failed to write velocity stats", "error", err)
	}
	if err := s.out.WritePerf(perfStats, s.step); err != nil {
		s.log.Error("failed to write perf", "error", err)
	}
	if s.cfg.Diagnostics.DensitiesEMA && s.neEMA.Value() != nil {
		if err := s.out.WriteDensity(s.history.Step, s.neEMA.Value(), s.niEMA.Value()); err != nil {
			s.log.Error("failed to write density", "error", err)
		}
	}
}

func (s *Simulation) saveSnapshot() {
	if s.out == nil {
		return
	}
	s.records = s.pop.Snapshot(s.records[:0])
	snap := telemetry.NewSnapshot(s.seed, s.step, s.time, s.mesh.Dim(), s.records)
	path, err := s.out.WriteSnapshot(snap)
	if err != nil {
		s.log.Error("failed to save snapshot", "error", err)
		return
	}
	s.log.Info("snapshot saved", "path", path, "particles", len(snap.Particles))
}

// Close releases the worker pool and closes the output files.
func (s *Simulation) Close() error {
	s.pool.Close()
	return s.out.Close()
}

// Iteration returns the number of completed steps.
func (s *Simulation) Iteration() int { return s.step }

// Time returns the simulated time, s.
func (s *Simulation) Time() float64 { return s.time }

// Seed returns the seed of the run's random source.
func (s *Simulation) Seed() int64 { return s.seed }

// History returns the record of the last completed step.
func (s *Simulation) History() telemetry.HistoryRow { return s.history }

func (s *Simulation) Population() *particles.Population { return s.pop }
func (s *Simulation) Species() []*species.Species       { return s.species }
func (s *Simulation) Objects() object.Set               { return s.objects }
func (s *Simulation) Mesh() *mesh.Box                   { return s.mesh }

// Densities returns the averaged electron and ion densities, nil unless
// density averaging is enabled and a step has run.
func (s *Simulation) Densities() (ne, ni []float64) {
	return s.neEMA.Value(), s.niEMA.Value()
}
