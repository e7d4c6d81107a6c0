package cleaner

import "example.com/fitsync/internal/domain"

// Profile field ranges.
var (
	ProfileAge    = Range{13, 120}
	ProfileHeight = Range{100, 250}
)

var (
	unitSystems    = []string{"metric", "imperial"}
	activityLevels = []string{"sedentary", "light", "moderate", "active", "very_active"}
	experience     = []string{"beginner", "intermediate", "advanced"}
)

// Profile merges the raw settings and profile objects plus free-standing scalars into one
// user profile. Either object may be nil. The profile is rejected when nothing survives.
func Profile(rawSettings, rawProfile any, scalars map[string]any) (domain.UserProfile, error) {
	var out domain.UserProfile

	if m, ok := object(rawSettings); ok {
		settings := domain.UserSettings{
			Units:         enum(m, unitSystems, "units"),
			Language:      text(m, 10, "language"),
			Notifications: boolean(m, "notifications", "notificationsEnabled"),
		}
		if settings != (domain.UserSettings{}) {
			out.Settings = &settings
		}
	}

	if m, ok := object(rawProfile); ok {
		attrs := domain.ProfileAttributes{
			Age:           integer(m, ProfileAge, "age"),
			Height:        number(m, ProfileHeight, "height"),
			ActivityLevel: enum(m, activityLevels, "activityLevel"),
			Goals:         stringList(m, maxGoals, maxNameLength, "goals"),
			Experience:    enum(m, experience, "experience"),
		}
		if attrs.Age != nil || attrs.Height != nil || attrs.ActivityLevel != "" || len(attrs.Goals) > 0 || attrs.Experience != "" {
			out.Profile = &attrs
		}
	}

	for k, v := range scalars {
		if v == nil {
			continue
		}
		if out.MigratedData == nil {
			out.MigratedData = make(map[string]any)
		}
		out.MigratedData[k] = v
	}

	if out.Settings == nil && out.Profile == nil && len(out.MigratedData) == 0 {
		return domain.UserProfile{}, reject("user profile has no usable settings or attributes")
	}
	return out, nil
}
