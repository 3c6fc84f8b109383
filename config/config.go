// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/physics"
	"github.com/pthm-cable/plasma/pusher"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid wraps every configuration error found by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all simulation configuration parameters.
type Config struct {
	Run         RunConfig         `yaml:"run"`
	Mesh        MeshConfig        `yaml:"mesh"`
	Field       FieldConfig       `yaml:"field"`
	Species     SpeciesConfig     `yaml:"species"`
	Injection   InjectionConfig   `yaml:"injection"`
	Objects     []ObjectConfig    `yaml:"objects"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Tracing     TracingConfig     `yaml:"tracing"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// RunConfig holds time stepping and execution settings.
type RunConfig struct {
	Steps    int     `yaml:"steps"     env:"PLASMA_STEPS"`
	DT       float64 `yaml:"dt"`                          // s; overrides dtwp when nonzero
	DTWP     float64 `yaml:"dtwp"`                        // timestep in units of 1/ω_p of the first species
	Seed     int64   `yaml:"seed"      env:"PLASMA_SEED"` // 0 = time-based
	Workers  int     `yaml:"workers"   env:"PLASMA_WORKERS"`
	LogEvery int     `yaml:"log_every"`
}

// MeshConfig describes the box mesh. The number of entries sets the dimension.
type MeshConfig struct {
	Lower []float64 `yaml:"lower"` // m
	Upper []float64 `yaml:"upper"` // m
	Cells []int     `yaml:"cells"`
}

// FieldConfig holds the external fields.
type FieldConfig struct {
	E []float64 `yaml:"e"` // V/m
	B []float64 `yaml:"b"` // T
}

// SpeciesConfig lists the plasma species column-wise: entry i of every list
// belongs to species i. Optional lists may be left empty.
type SpeciesConfig struct {
	Charge       []float64   `yaml:"charge"`  // elementary charges
	Mass         []float64   `yaml:"mass"`    // electron masses
	Density      []float64   `yaml:"density"` // m^-3
	Thermal      []float64   `yaml:"thermal"` // m/s
	Distribution []string    `yaml:"distribution"`
	Drift        [][]float64 `yaml:"drift,omitempty"` // m/s, optional
	Kappa        []float64   `yaml:"kappa,omitempty"` // optional
	Alpha        []float64   `yaml:"alpha,omitempty"` // optional
	NPC          []int       `yaml:"npc,omitempty"`   // particles per cell; excludes num
	Num          []int       `yaml:"num,omitempty"`   // particles; excludes npc
}

// Len returns the number of species.
func (s *SpeciesConfig) Len() int { return len(s.Charge) }

// Count returns the particles per cell and the total particle count asked
// for species i. At most one of them is nonzero.
func (s *SpeciesConfig) Count(i int) (npc, num int) {
	if len(s.NPC) != 0 {
		npc = s.NPC[i]
	}
	if len(s.Num) != 0 {
		num = s.Num[i]
	}
	return npc, num
}

// InjectionConfig tunes the boundary flux precomputation and sampling.
type InjectionConfig struct {
	Sampler        string  `yaml:"sampler"` // rejection or tiled
	Tiles          int     `yaml:"tiles"`   // tiles per axis of the tiled sampler
	FluxResolution int     `yaml:"flux_resolution"`
	SafetyMargin   float64 `yaml:"safety_margin"`
	MaxAttempts    int     `yaml:"max_attempts"`
}

// ObjectConfig describes an absorbing sphere inside the domain.
type ObjectConfig struct {
	Name   string    `yaml:"name"`
	Center []float64 `yaml:"center"` // m
	Radius float64   `yaml:"radius"` // m
}

// DiagnosticsConfig holds output settings.
type DiagnosticsConfig struct {
	OutputDir    string  `yaml:"output_dir"    env:"PLASMA_OUTPUT_DIR"`
	DensitiesEMA bool    `yaml:"densities_ema"`
	DensitiesTau float64 `yaml:"densities_tau"` // s
	PESave       bool    `yaml:"pe_save"`
	PerfWindow   int     `yaml:"perf_window"` // steps
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"      env:"PLASMA_TRACING"`
	Endpoint    string `yaml:"endpoint"     env:"PLASMA_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Dim        int        // geometric dimension
	DT         float64    // timestep, s
	E          [3]float64 // external electric field
	B          [3]float64 // external magnetic field
	BNorm      float64    // |B|
	Magnetized bool       // BNorm above the pusher threshold
	Charge     []float64  // species charge, C
	Mass       []float64  // species mass, kg
	Drift      [][]float64
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults,
// then applies environment overrides. If path is empty, only embedded
// defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, err
		}
	}

	if err := ParseEnv(&cfg.Run); err != nil {
		return nil, err
	}
	if err := ParseEnv(&cfg.Diagnostics); err != nil {
		return nil, err
	}
	if err := ParseEnv(&cfg.Tracing); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Parse builds a configuration from YAML merged over the defaults, without
// environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// merge overlays a user file. Fields absent from the file keep their
// defaults, except the species table which is replaced as a whole so that
// default columns never mix with user columns.
func (c *Config) merge(data []byte) error {
	var peek struct {
		Species *yaml.Node `yaml:"species"`
	}
	if err := yaml.Unmarshal(data, &peek); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if peek.Species != nil {
		c.Species = SpeciesConfig{}
	}
	// Unmarshal into same struct - only overwrites fields present in file
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// ParseEnv loads environment overrides into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first configuration error, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	dim := len(c.Mesh.Lower)
	if dim < 1 || dim > 3 {
		return fmt.Errorf("%w: mesh dimension %d not in [1, 3]", ErrInvalid, dim)
	}
	if len(c.Mesh.Upper) != dim || len(c.Mesh.Cells) != dim {
		return fmt.Errorf("%w: mesh lower, upper and cells must have %d entries", ErrInvalid, dim)
	}
	for i := 0; i < dim; i++ {
		if !(c.Mesh.Upper[i] > c.Mesh.Lower[i]) {
			return fmt.Errorf("%w: mesh axis %d is empty", ErrInvalid, i)
		}
		if c.Mesh.Cells[i] < 1 {
			return fmt.Errorf("%w: mesh axis %d has %d cells", ErrInvalid, i, c.Mesh.Cells[i])
		}
	}
	if len(c.Field.E) > 3 || len(c.Field.B) > 3 {
		return fmt.Errorf("%w: fields have at most 3 components", ErrInvalid)
	}

	if c.Run.Steps < 0 {
		return fmt.Errorf("%w: negative step count %d", ErrInvalid, c.Run.Steps)
	}
	if !(c.Run.DT > 0) && !(c.Run.DTWP > 0) {
		return fmt.Errorf("%w: one of dt or dtwp must be positive", ErrInvalid)
	}

	if err := c.Species.validate(dim); err != nil {
		return err
	}
	if !(c.Run.DT > 0) && c.Species.Len() == 0 {
		return fmt.Errorf("%w: dtwp needs at least one species", ErrInvalid)
	}

	switch c.Injection.Sampler {
	case "", "rejection", "tiled":
	default:
		return fmt.Errorf("%w: unknown sampler %q", ErrInvalid, c.Injection.Sampler)
	}
	if c.Injection.SafetyMargin != 0 && c.Injection.SafetyMargin < 1 {
		return fmt.Errorf("%w: safety margin %g below 1", ErrInvalid, c.Injection.SafetyMargin)
	}
	if c.Injection.Tiles < 0 {
		return fmt.Errorf("%w: negative tile count %d", ErrInvalid, c.Injection.Tiles)
	}
	if c.Injection.Sampler == "tiled" && c.Injection.Tiles != 0 {
		for i, kind := range c.Species.Distribution {
			if minimum := MinTiles(kind); c.Injection.Tiles < minimum {
				return fmt.Errorf("%w: %d tiles cannot resolve species %d (%s), need at least %d",
					ErrInvalid, c.Injection.Tiles, i, kind, minimum)
			}
		}
	}

	for i, o := range c.Objects {
		if len(o.Center) != dim {
			return fmt.Errorf("%w: object %d center has %d entries, want %d", ErrInvalid, i, len(o.Center), dim)
		}
		if !(o.Radius > 0) {
			return fmt.Errorf("%w: object %d radius %g", ErrInvalid, i, o.Radius)
		}
	}
	if c.Diagnostics.DensitiesEMA && !(c.Diagnostics.DensitiesTau > 0) {
		return fmt.Errorf("%w: densities_ema needs a positive densities_tau", ErrInvalid)
	}
	return nil
}

func (s *SpeciesConfig) validate(dim int) error {
	n := s.Len()
	required := []struct {
		name string
		len  int
	}{
		{"mass", len(s.Mass)},
		{"density", len(s.Density)},
		{"thermal", len(s.Thermal)},
		{"distribution", len(s.Distribution)},
	}
	for _, r := range required {
		if r.len != n {
			return fmt.Errorf("%w: species %s has %d entries, charge has %d", ErrInvalid, r.name, r.len, n)
		}
	}
	optional := []struct {
		name string
		len  int
	}{
		{"drift", len(s.Drift)},
		{"kappa", len(s.Kappa)},
		{"alpha", len(s.Alpha)},
		{"npc", len(s.NPC)},
		{"num", len(s.Num)},
	}
	for _, o := range optional {
		if o.len != 0 && o.len != n {
			return fmt.Errorf("%w: species %s has %d entries, charge has %d", ErrInvalid, o.name, o.len, n)
		}
	}
	if len(s.NPC) != 0 && len(s.Num) != 0 {
		return fmt.Errorf("%w: use only npc or num, not both", ErrInvalid)
	}

	for i := 0; i < n; i++ {
		if s.Charge[i] == 0 {
			return fmt.Errorf("%w: species %d is neutral", ErrInvalid, i)
		}
		if !(s.Mass[i] > 0) {
			return fmt.Errorf("%w: species %d mass %g", ErrInvalid, i, s.Mass[i])
		}
		if !(s.Thermal[i] > 0) {
			return fmt.Errorf("%w: species %d thermal speed %g", ErrInvalid, i, s.Thermal[i])
		}
		if s.Density[i] < 0 {
			return fmt.Errorf("%w: species %d density %g", ErrInvalid, i, s.Density[i])
		}
		if !distribution.Supported(s.Distribution[i]) {
			return fmt.Errorf("%w: species %d: %w: %q", ErrInvalid, i, distribution.ErrUnsupported, s.Distribution[i])
		}
		if len(s.Drift) != 0 && len(s.Drift[i]) > dim {
			return fmt.Errorf("%w: species %d drift has %d components, mesh has %d", ErrInvalid, i, len(s.Drift[i]), dim)
		}
		if (len(s.NPC) != 0 && s.NPC[i] < 0) || (len(s.Num) != 0 && s.Num[i] < 0) {
			return fmt.Errorf("%w: species %d has a negative particle count", ErrInvalid, i)
		}
	}
	return nil
}

// maxTileWidth is the widest tile, in thermal speeds, of the tiled sampler.
const maxTileWidth = 1.5

// MinTiles returns the fewest tiles per axis that keep every tile of a
// distribution of the given kind within maxTileWidth thermal speeds.
func MinTiles(kind string) int {
	return int(math.Ceil(2 * distribution.HalfWidth(kind) / maxTileWidth))
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	dim := len(c.Mesh.Lower)
	c.Derived.Dim = dim
	copy(c.Derived.E[:], c.Field.E)
	copy(c.Derived.B[:], c.Field.B)
	b := c.Derived.B
	c.Derived.BNorm = math.Sqrt(b[0]*b[0] + b[1]*b[1] + b[2]*b[2])
	c.Derived.Magnetized = pusher.Magnetized(c.Derived.B)

	n := c.Species.Len()
	fill := func(xs []float64) []float64 {
		if len(xs) == 0 {
			return make([]float64, n)
		}
		return xs
	}
	c.Species.Kappa = fill(c.Species.Kappa)
	c.Species.Alpha = fill(c.Species.Alpha)
	for i := range c.Species.Distribution {
		c.Species.Distribution[i] = strings.ToLower(c.Species.Distribution[i])
	}

	c.Derived.Charge = make([]float64, n)
	c.Derived.Mass = make([]float64, n)
	c.Derived.Drift = make([][]float64, n)
	for i := 0; i < n; i++ {
		c.Derived.Charge[i] = c.Species.Charge[i] * physics.ElementaryCharge
		c.Derived.Mass[i] = c.Species.Mass[i] * physics.ElectronMass
		vd := make([]float64, dim)
		if len(c.Species.Drift) != 0 {
			copy(vd, c.Species.Drift[i])
		}
		c.Derived.Drift[i] = vd
	}

	c.Derived.DT = c.Run.DT
	if !(c.Derived.DT > 0) && n > 0 {
		wp0 := physics.PlasmaFrequency(c.Derived.Charge[0], c.Species.Density[0], c.Derived.Mass[0])
		if wp0 > 0 {
			c.Derived.DT = c.Run.DTWP / wp0
		}
	}

	if c.Injection.FluxResolution <= 0 {
		c.Injection.FluxResolution = 64
	}
	if c.Injection.SafetyMargin == 0 {
		c.Injection.SafetyMargin = 1.05
	}
	if c.Injection.Tiles <= 0 {
		c.Injection.Tiles = 32
	}
	if c.Run.LogEvery <= 0 {
		c.Run.LogEvery = 100
	}
	if c.Diagnostics.PerfWindow <= 0 {
		c.Diagnostics.PerfWindow = 100
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
