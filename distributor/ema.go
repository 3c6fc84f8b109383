package distributor

// EMA is an exponential moving average of a vertex field with relaxation
// time Tau. The first update initializes the average.
type EMA struct {
	Tau   float64
	value []float64
}

// Update folds x into the average over a timestep dt and returns the
// average. The returned slice is owned by the EMA.
func (a *EMA) Update(x []float64, dt float64) []float64 {
	if a.value == nil {
		a.value = append([]float64(nil), x...)
		return a.value
	}
	w := 1.0
	if a.Tau > dt {
		w = dt / a.Tau
	}
	for i, v := range x {
		a.value[i] += w * (v - a.value[i])
	}
	return a.value
}

// Value returns the current average, nil before the first update.
func (a *EMA) Value() []float64 { return a.value }
