package nutrition

import (
	"fmt"
	"math"
	"unicode/utf8"

	"growth-assessor/internal/child"
)

const (
	kcalPerGramProtein = 4
	kcalPerGramCarbs   = 4
	kcalPerGramFat     = 9

	proteinPct = 25
	carbsPct   = 50
	fatsPct    = 25
)

// Fallback builds a complete plan from rec alone. The same record always
// yields the same plan.
func Fallback(rec child.Record) Plan {
	calories := baselineCalories(rec.TotalMonths()) + calorieOffset(rec)
	stunted := child.IsStunted(rec.Percentile)

	return Plan{
		DailyCalories: calories,
		Macronutrients: Macronutrients{
			Protein: Macro{Percentage: proteinPct, Grams: gramsFor(calories, proteinPct, kcalPerGramProtein)},
			Carbs:   Macro{Percentage: carbsPct, Grams: gramsFor(calories, carbsPct, kcalPerGramCarbs)},
			Fats:    Macro{Percentage: fatsPct, Grams: gramsFor(calories, fatsPct, kcalPerGramFat)},
		},
		KeyNutrients:    keyNutrients(),
		MealPlan:        mealPlan(),
		Recommendations: recommendations(),
		GrowthTrajectory: GrowthTrajectory{
			CurrentStatus:  currentStatus(rec, stunted),
			Projection:     projection(stunted),
			Recommendation: "Track height and weight every three months and review the trend with a pediatrician.",
			EstimatedAdultSize: AdultSize{
				Height: EstimateAdultHeight(rec),
				Weight: estimateAdultWeight(rec.Gender),
			},
		},
		Fallback: true,
	}
}

func baselineCalories(totalMonths int) int {
	switch {
	case totalMonths < 12:
		return 800
	case totalMonths < 36:
		return 1000
	case totalMonths < 60:
		return 1200
	default:
		return 1400
	}
}

// calorieOffset perturbs the baseline by -50..+50 kcal in steps of 10,
// derived from the record so repeated plans agree.
func calorieOffset(rec child.Record) int {
	var first int
	if r, _ := utf8.DecodeRuneInString(rec.Name); r != utf8.RuneError {
		first = int(r)
	}
	seed := first + rec.TotalMonths()%12 + int(rec.HeightCm)%10
	if seed < 0 {
		seed = -seed
	}
	return (seed%11)*10 - 50
}

func gramsFor(calories, pct int, kcalPerGram float64) int {
	return int(math.Round(float64(calories) * float64(pct) / 100 / kcalPerGram))
}

// EstimateAdultHeight projects adult height from the current percentile
// and how far the child sits from the median height for their age.
func EstimateAdultHeight(rec child.Record) string {
	base := 175.0
	if rec.Gender == child.Female {
		base = 162.0
	}
	pct := child.PercentileOrDefault(rec.Percentile)
	center := base + (pct-50)*0.3

	if rec.HeightCm > 0 {
		deviation := (rec.HeightCm - referenceHeight(rec.TotalMonths(), rec.Gender)) * 0.2
		center += math.Max(-3, math.Min(3, deviation))
	}

	c := int(math.Round(center))
	return fmt.Sprintf("%d-%d cm", c-5, c+5)
}

// referenceHeight is a piecewise-linear median height-for-age curve.
func referenceHeight(months int, gender child.Gender) float64 {
	points := []struct {
		months int
		cm     float64
	}{
		{0, 50}, {12, 75}, {24, 87}, {36, 96}, {48, 103}, {60, 110},
	}

	var h float64
	switch {
	case months <= 0:
		h = points[0].cm
	case months >= 60:
		h = 110 + float64(months-60)/12*6
	default:
		for i := 1; i < len(points); i++ {
			lo, hi := points[i-1], points[i]
			if months <= hi.months {
				frac := float64(months-lo.months) / float64(hi.months-lo.months)
				h = lo.cm + frac*(hi.cm-lo.cm)
				break
			}
		}
	}
	if gender == child.Female {
		h--
	}
	return h
}

func estimateAdultWeight(g child.Gender) string {
	if g == child.Female {
		return "52-65 kg"
	}
	return "65-80 kg"
}

func currentStatus(rec child.Record, stunted bool) string {
	pct := rec.Percentile
	if pct == "" {
		pct = child.FormatPercentile(child.DefaultPercentile)
	}
	if stunted {
		return fmt.Sprintf("Height-for-age is at the %s percentile, below the expected range.", pct)
	}
	return fmt.Sprintf("Height-for-age is at the %s percentile, within the expected range.", pct)
}

func projection(stunted bool) string {
	if stunted {
		return "With consistent, nutrient-dense meals, catch-up growth is possible over the coming months."
	}
	return "With a balanced diet, growth is expected to continue along the current curve."
}

func keyNutrients() []KeyNutrient {
	return []KeyNutrient{
		{Name: "Protein", Amount: "13-19 g/day", Foods: []string{"Eggs", "Lentils", "Chicken", "Yogurt"}},
		{Name: "Iron", Amount: "7-10 mg/day", Foods: []string{"Spinach", "Beans", "Fortified cereals", "Red meat"}},
		{Name: "Calcium", Amount: "700-1000 mg/day", Foods: []string{"Milk", "Cheese", "Yogurt", "Tofu"}},
		{Name: "Zinc", Amount: "3-5 mg/day", Foods: []string{"Pumpkin seeds", "Chickpeas", "Beef", "Whole grains"}},
		{Name: "Vitamin A", Amount: "300-400 mcg/day", Foods: []string{"Carrots", "Sweet potatoes", "Mango", "Eggs"}},
	}
}

func mealPlan() []Meal {
	return []Meal{
		{Meal: "Breakfast", Options: []string{"Oatmeal with mashed banana and milk", "Scrambled eggs with whole-grain toast", "Yogurt with soft fruit"}},
		{Meal: "Morning Snack", Options: []string{"Apple slices with peanut butter", "Cheese cubes", "Boiled egg"}},
		{Meal: "Lunch", Options: []string{"Rice with lentils and vegetables", "Chicken and vegetable soup", "Bean and cheese quesadilla"}},
		{Meal: "Afternoon Snack", Options: []string{"Hummus with carrot sticks", "Milk and a small muffin", "Fruit smoothie"}},
		{Meal: "Dinner", Options: []string{"Fish with mashed sweet potato", "Pasta with meat sauce", "Vegetable omelette with bread"}},
	}
}

func recommendations() []string {
	return []string{
		"Offer three meals and two snacks at regular times each day.",
		"Include a protein source and a fruit or vegetable at every meal.",
		"Serve milk or another calcium-rich food two to three times a day.",
		"Limit sugary drinks and processed snacks.",
		"Consult a pediatrician or dietitian for a personalized plan.",
	}
}
