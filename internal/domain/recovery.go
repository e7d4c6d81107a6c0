package domain

// RecoverySessionLog records a recovery activity such as a sauna or cold plunge.
type RecoverySessionLog struct {
	Date        string   `json:"date,omitempty"`
	Type        string   `json:"type,omitempty"`
	Completed   *bool    `json:"completed,omitempty"`
	Duration    *int     `json:"duration,omitempty"`    // minutes
	Temperature *float64 `json:"temperature,omitempty"` // celsius
	Intensity   *int     `json:"intensity,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}
