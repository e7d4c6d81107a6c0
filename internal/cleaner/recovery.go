package cleaner

import "example.com/fitsync/internal/domain"

// Recovery field ranges.
var (
	RecoveryDuration    = Range{0, 600}
	RecoveryTemperature = Range{-30, 120}
	RecoveryIntensity   = Range{1, 10}
)

// Recovery cleans a recovery session log. It is rejected when it has neither date nor type.
func Recovery(raw any) (domain.RecoverySessionLog, error) {
	m, ok := object(raw)
	if !ok {
		return domain.RecoverySessionLog{}, reject("recovery log is not an object")
	}
	session := domain.RecoverySessionLog{
		Date:        calendarDate(m, "date"),
		Type:        text(m, maxNameLength, "type", "category"),
		Completed:   boolean(m, "completed"),
		Duration:    integer(m, RecoveryDuration, "duration"),
		Temperature: number(m, RecoveryTemperature, "temperature"),
		Intensity:   integer(m, RecoveryIntensity, "intensity"),
		Notes:       text(m, maxNotesLength, "notes"),
	}
	if session.Date == "" && session.Type == "" {
		return domain.RecoverySessionLog{}, reject("recovery log has neither a date nor a type")
	}
	return session, nil
}
