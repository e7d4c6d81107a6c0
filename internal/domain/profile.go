package domain

// UserSettings are the app preferences carried on the profile.
type UserSettings struct {
	Units         string `json:"units,omitempty"`
	Language      string `json:"language,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"`
}

// ProfileAttributes describe the athlete.
type ProfileAttributes struct {
	Age           *int     `json:"age,omitempty"`
	Height        *float64 `json:"height,omitempty"` // centimetres
	ActivityLevel string   `json:"activityLevel,omitempty"`
	Goals         []string `json:"goals,omitempty"`
	Experience    string   `json:"experience,omitempty"`
}

// UserProfile is the singleton document per owner; its id is the owner id.
type UserProfile struct {
	Settings     *UserSettings      `json:"settings,omitempty"`
	Profile      *ProfileAttributes `json:"profile,omitempty"`
	MigratedData map[string]any     `json:"migratedData,omitempty"`
}
