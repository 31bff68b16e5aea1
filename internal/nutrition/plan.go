// Package nutrition produces a structured nutrition plan for a child,
// from an AI model when it answers usably and from fixed rules otherwise.
package nutrition

// Macro is one macronutrient's share of daily calories.
type Macro struct {
	Percentage int `json:"percentage"`
	Grams      int `json:"grams"`
}

type Macronutrients struct {
	Protein Macro `json:"protein"`
	Carbs   Macro `json:"carbs"`
	Fats    Macro `json:"fats"`
}

type KeyNutrient struct {
	Name   string   `json:"name"`
	Amount string   `json:"amount"`
	Foods  []string `json:"foods"`
}

type Meal struct {
	Meal    string   `json:"meal"`
	Options []string `json:"options"`
}

type AdultSize struct {
	Height string `json:"height"`
	Weight string `json:"weight"`
}

type GrowthTrajectory struct {
	CurrentStatus      string    `json:"currentStatus"`
	Projection         string    `json:"projection"`
	Recommendation     string    `json:"recommendation"`
	EstimatedAdultSize AdultSize `json:"estimatedAdultSize"`
}

// Plan is the canonical nutrition plan. Lists are never nil once a plan
// has been reshaped or synthesized.
type Plan struct {
	DailyCalories    int              `json:"dailyCalories"`
	Macronutrients   Macronutrients   `json:"macronutrients"`
	KeyNutrients     []KeyNutrient    `json:"keyNutrients"`
	MealPlan         []Meal           `json:"mealPlan"`
	Recommendations  []string         `json:"recommendations"`
	GrowthTrajectory GrowthTrajectory `json:"growthTrajectory"`
	Fallback         bool             `json:"fallback,omitempty"`
}

// Valid reports whether p carries any content worth showing.
func (p Plan) Valid() bool {
	return p.DailyCalories > 0 || len(p.MealPlan) > 0 || len(p.KeyNutrients) > 0 || len(p.Recommendations) > 0
}
