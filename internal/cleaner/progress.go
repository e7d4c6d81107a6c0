package cleaner

import "example.com/fitsync/internal/domain"

// Progress field ranges.
var (
	ProgressWeight     = Range{30, 300}
	ProgressBodyFat    = Range{1, 50}
	ProgressMuscleMass = Range{10, 200}
	ProgressChest      = Range{50, 200}
	ProgressArms       = Range{15, 80}
	ProgressWaist      = Range{40, 200}
	ProgressThighs     = Range{30, 120}
)

// Progress cleans a raw progress record. It is rejected when neither weight nor date survive.
func Progress(raw any) (domain.ProgressRecord, error) {
	m, ok := object(raw)
	if !ok {
		return domain.ProgressRecord{}, reject("progress record is not an object")
	}

	rec := domain.ProgressRecord{
		Date:       calendarDate(m, "date"),
		Weight:     number(m, ProgressWeight, "weight"),
		BodyFat:    number(m, ProgressBodyFat, "bodyFat", "bodyFatPercentage"),
		MuscleMass: number(m, ProgressMuscleMass, "muscleMass"),
		Chest:      number(m, ProgressChest, "chest"),
		Arms:       number(m, ProgressArms, "arms"),
		Waist:      number(m, ProgressWaist, "waist"),
		Thighs:     number(m, ProgressThighs, "thighs"),
		Notes:      text(m, maxNotesLength, "notes"),
	}
	if rec.Weight == nil && rec.Date == "" {
		return domain.ProgressRecord{}, reject("progress record has neither a valid weight nor a date")
	}
	return rec, nil
}
