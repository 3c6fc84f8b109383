package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/plasma/particles"
)

// HistoryRow is one line of history.csv, recorded every step.
type HistoryRow struct {
	Step int     `csv:"step"`
	Time float64 `csv:"time"`

	// Particle counts before the push
	NumElectrons int `csv:"num_e"`
	NumIons      int `csv:"num_i"`
	NumTotal     int `csv:"num_tot"`

	KineticEnergy   float64 `csv:"ke"`
	PotentialEnergy float64 `csv:"pe"`

	// Structural changes during the step
	Injected  int `csv:"injected"`
	Discarded int `csv:"discarded"`
	Removed   int `csv:"removed"`
	Absorbed  int `csv:"absorbed"`

	ObjectCharge  float64 `csv:"object_charge"`
	ObjectCurrent float64 `csv:"object_current"`
}

// LogValue implements slog.LogValuer for structured logging.
func (r HistoryRow) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", r.Step),
		slog.Float64("time", r.Time),
		slog.Int("num_e", r.NumElectrons),
		slog.Int("num_i", r.NumIons),
		slog.Int("num_tot", r.NumTotal),
		slog.Float64("ke", r.KineticEnergy),
		slog.Float64("pe", r.PotentialEnergy),
		slog.Int("injected", r.Injected),
		slog.Int("discarded", r.Discarded),
		slog.Int("removed", r.Removed),
		slog.Int("absorbed", r.Absorbed),
		slog.Float64("object_charge", r.ObjectCharge),
		slog.Float64("object_current", r.ObjectCurrent),
	)
}

// VelocityStats summarizes the velocities of one group of particles.
type VelocityStats struct {
	Step     int     `csv:"step"`
	Group    string  `csv:"group"`
	Count    int     `csv:"count"`
	MeanVx   float64 `csv:"mean_vx"`
	MeanVy   float64 `csv:"mean_vy"`
	MeanVz   float64 `csv:"mean_vz"`
	StdVx    float64 `csv:"std_vx"`
	StdVy    float64 `csv:"std_vy"`
	StdVz    float64 `csv:"std_vz"`
	SpeedP10 float64 `csv:"speed_p10"`
	SpeedP50 float64 `csv:"speed_p50"`
	SpeedP90 float64 `csv:"speed_p90"`
}

// Group names used by ComputeVelocityStats.
const (
	GroupElectrons = "electrons"
	GroupIons      = "ions"
)

// ComputeVelocityStats returns the velocity moments and speed percentiles of
// the negative and positive particles in records.
func ComputeVelocityStats(step int, records []particles.Record) []VelocityStats {
	var neg, pos []particles.Record
	for _, r := range records {
		if r.Q < 0 {
			neg = append(neg, r)
		} else if r.Q > 0 {
			pos = append(pos, r)
		}
	}
	return []VelocityStats{
		velocityStats(step, GroupElectrons, neg),
		velocityStats(step, GroupIons, pos),
	}
}

func velocityStats(step int, group string, records []particles.Record) VelocityStats {
	vs := VelocityStats{Step: step, Group: group, Count: len(records)}
	if len(records) == 0 {
		return vs
	}

	comp := make([]float64, len(records))
	var mean, std [3]float64
	for k := 0; k < 3; k++ {
		for i, r := range records {
			comp[i] = r.V[k]
		}
		if len(records) > 1 {
			mean[k], std[k] = stat.MeanStdDev(comp, nil)
		} else {
			mean[k] = comp[0]
		}
	}
	vs.MeanVx, vs.MeanVy, vs.MeanVz = mean[0], mean[1], mean[2]
	vs.StdVx, vs.StdVy, vs.StdVz = std[0], std[1], std[2]

	for i, r := range records {
		comp[i] = math.Sqrt(r.V.Speed2())
	}
	sort.Float64s(comp)
	vs.SpeedP10 = stat.Quantile(0.10, stat.Empirical, comp, nil)
	vs.SpeedP50 = stat.Quantile(0.50, stat.Empirical, comp, nil)
	vs.SpeedP90 = stat.Quantile(0.90, stat.Empirical, comp, nil)
	return vs
}

// LogValue implements slog.LogValuer for structured logging.
func (s VelocityStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("group", s.Group),
		slog.Int("count", s.Count),
		slog.Float64("mean_vx", s.MeanVx),
		slog.Float64("std_vx", s.StdVx),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
	)
}
