package nutrition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"growth-assessor/internal/llm"
)

var (
	errEmptyPlan     = errors.New("response is an empty JSON object")
	errNoPlanContent = errors.New("response has no usable plan content")
)

// reshape decodes a model reply into a Plan field by field. Missing or
// malformed fields become zero values or empty lists. A reply that is not
// a non-empty JSON object, or that reshapes into a plan failing
// Plan.Valid, is rejected.
func reshape(content string) (Plan, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &raw); err != nil {
		return Plan{}, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if len(raw) == 0 {
		return Plan{}, errEmptyPlan
	}

	p := Plan{
		DailyCalories:   toInt(raw["dailyCalories"]),
		KeyNutrients:    []KeyNutrient{},
		MealPlan:        []Meal{},
		Recommendations: toStrings(raw["recommendations"]),
	}

	macros := toMap(raw["macronutrients"])
	p.Macronutrients = Macronutrients{
		Protein: toMacro(macros["protein"], p.DailyCalories, kcalPerGramProtein),
		Carbs:   toMacro(macros["carbs"], p.DailyCalories, kcalPerGramCarbs),
		Fats:    toMacro(firstPresent(macros, "fats", "fat"), p.DailyCalories, kcalPerGramFat),
	}

	for _, item := range toSlice(raw["keyNutrients"]) {
		m := toMap(item)
		if m == nil {
			continue
		}
		p.KeyNutrients = append(p.KeyNutrients, KeyNutrient{
			Name:   toString(m["name"]),
			Amount: toString(m["amount"]),
			Foods:  toStrings(m["foods"]),
		})
	}

	for _, item := range toSlice(raw["mealPlan"]) {
		m := toMap(item)
		if m == nil {
			continue
		}
		p.MealPlan = append(p.MealPlan, Meal{
			Meal:    toString(m["meal"]),
			Options: toStrings(m["options"]),
		})
	}

	gt := toMap(raw["growthTrajectory"])
	size := toMap(gt["estimatedAdultSize"])
	p.GrowthTrajectory = GrowthTrajectory{
		CurrentStatus:  toString(gt["currentStatus"]),
		Projection:     toString(gt["projection"]),
		Recommendation: toString(gt["recommendation"]),
		EstimatedAdultSize: AdultSize{
			Height: toString(size["height"]),
			Weight: toString(size["weight"]),
		},
	}
	if !p.Valid() {
		return Plan{}, errNoPlanContent
	}
	return p, nil
}

func toMacro(v any, calories int, kcalPerGram float64) Macro {
	m := toMap(v)
	macro := Macro{Percentage: toInt(m["percentage"]), Grams: toInt(m["grams"])}
	if macro.Grams == 0 && macro.Percentage > 0 && calories > 0 {
		macro.Grams = gramsFor(calories, macro.Percentage, kcalPerGram)
	}
	return macro
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

var leadingNumberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// toInt accepts numbers and numeric strings such as "25%" or "30g".
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n))
	case string:
		m := leadingNumberRe.FindString(strings.ReplaceAll(n, ",", ""))
		if m == "" {
			return 0
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0
		}
		return int(math.Round(f))
	default:
		return 0
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func toStrings(v any) []string {
	out := []string{}
	for _, item := range toSlice(v) {
		if s := toString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
