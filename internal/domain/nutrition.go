package domain

// NutritionMealLog records one meal.
type NutritionMealLog struct {
	Date      string   `json:"date,omitempty"`
	MealType  string   `json:"mealType,omitempty"`
	Completed *bool    `json:"completed,omitempty"`
	Proteins  *float64 `json:"proteins,omitempty"` // grams
	Calories  *float64 `json:"calories,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}
