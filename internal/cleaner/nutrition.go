package cleaner

import "example.com/fitsync/internal/domain"

// Nutrition field ranges.
var (
	NutritionProteins = Range{0, 500}
	NutritionCalories = Range{0, 10000}
)

// Nutrition cleans a meal log. It is rejected when it has neither date nor meal type.
func Nutrition(raw any) (domain.NutritionMealLog, error) {
	m, ok := object(raw)
	if !ok {
		return domain.NutritionMealLog{}, reject("meal log is not an object")
	}
	meal := domain.NutritionMealLog{
		Date:      calendarDate(m, "date"),
		MealType:  text(m, maxNameLength, "mealType", "type", "category"),
		Completed: boolean(m, "completed"),
		Proteins:  number(m, NutritionProteins, "proteins", "protein"),
		Calories:  number(m, NutritionCalories, "calories"),
		Notes:     text(m, maxNotesLength, "notes"),
	}
	if meal.Date == "" && meal.MealType == "" {
		return domain.NutritionMealLog{}, reject("meal log has neither a date nor a meal type")
	}
	return meal, nil
}
