package domain

import "math"

// ExerciseLogEntry records the performance of one exercise on one day.
type ExerciseLogEntry struct {
	ExerciseName string   `json:"exerciseName"`
	Date         string   `json:"date,omitempty"`
	Sets         *int     `json:"sets,omitempty"`
	Reps         *int     `json:"reps,omitempty"`
	Weight       *float64 `json:"weight,omitempty"`
	RIR          *int     `json:"rir,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	OneRepMax    *float64 `json:"oneRepMax,omitempty"`
}

// ComputeOneRepMax estimates a one-rep max with the Epley formula, rounded to the nearest unit.
// A single rep is its own max.
func ComputeOneRepMax(weight float64, reps int) float64 {
	if reps <= 1 {
		return weight
	}
	return math.Round(weight * (1 + float64(reps)/30))
}

// ComputeVolume returns sets × reps × weight.
func ComputeVolume(sets, reps int, weight float64) float64 {
	return float64(sets*reps) * weight
}

// WithDerived fills Volume and OneRepMax from the fields that are present.
func (e ExerciseLogEntry) WithDerived() ExerciseLogEntry {
	e.Volume = nil
	e.OneRepMax = nil
	if e.Sets != nil && e.Reps != nil && e.Weight != nil {
		v := ComputeVolume(*e.Sets, *e.Reps, *e.Weight)
		e.Volume = &v
	}
	if e.Reps != nil && e.Weight != nil {
		orm := ComputeOneRepMax(*e.Weight, *e.Reps)
		e.OneRepMax = &orm
	}
	return e
}
