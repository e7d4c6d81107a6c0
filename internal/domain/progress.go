package domain

// ProgressRecord is a body measurement snapshot. Numeric fields are absent when unknown.
type ProgressRecord struct {
	Date       string   `json:"date,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
	BodyFat    *float64 `json:"bodyFat,omitempty"`
	MuscleMass *float64 `json:"muscleMass,omitempty"`
	Chest      *float64 `json:"chest,omitempty"`
	Arms       *float64 `json:"arms,omitempty"`
	Waist      *float64 `json:"waist,omitempty"`
	Thighs     *float64 `json:"thighs,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}
