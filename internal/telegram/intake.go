package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/child"
	"growth-assessor/internal/nutrition"
)

const usageText = "👶 *Growth Check*\n\n" +
	"Send the child's measurements in one line:\n" +
	"`Name; 2 years, 3 months; F; 80 cm; 10 kg`\n" +
	"Optionally add a percentile: `...; 10 kg; 40th`\n\n" +
	"Attach a photo with the same text as its caption for a visual assessment.\n\n" +
	"/status shows where you are, /assess repeats the last assessment, /nutrition builds a nutrition plan."

var errIntakeFormat = errors.New("expected `Name; age; gender; height; weight`")

// ParseIntake reads "Name; 2 years, 3 months; F; 80 cm; 10 kg[; 40th]".
// Bare numbers are accepted for height (cm) and weight (kg).
func ParseIntake(text string) (child.Input, error) {
	parts := strings.Split(text, ";")
	if len(parts) < 5 || len(parts) > 6 {
		return child.Input{}, errIntakeFormat
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return child.Input{}, fmt.Errorf("name is required: %w", errIntakeFormat)
	}

	in := child.Input{
		Name:   parts[0],
		Age:    child.Str(parts[1]),
		Gender: parts[2],
		Height: loose(parts[3]),
		Weight: loose(parts[4]),
	}
	if len(parts) == 6 {
		in.Percentile = child.Str(parts[5])
	}
	return in, nil
}

func loose(s string) child.Loose {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return child.Num(f)
	}
	return child.Str(s)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string { return markdownEscaper.Replace(s) }

func formatProfile(rec child.Record) string {
	p := rec.Profile()
	var sb strings.Builder
	fmt.Fprintf(&sb, "👶 *%s*\n", escape(p.Name))
	fmt.Fprintf(&sb, "• Age: %s\n", p.Age)
	fmt.Fprintf(&sb, "• Gender: %s\n", p.Gender)
	fmt.Fprintf(&sb, "• Height: %s · Weight: %s · BMI: %s\n", p.Height, p.Weight, p.BMI)
	fmt.Fprintf(&sb, "• Height-for-age percentile: %s\n", p.Percentile)
	if rec.AssessmentDate != "" {
		fmt.Fprintf(&sb, "• Date: %s\n", rec.AssessmentDate)
	}
	return sb.String()
}

func formatAssessment(rec child.Record, out assessment.Outcome) string {
	var sb strings.Builder
	sb.WriteString("📏 *Growth Assessment*\n\n")
	sb.WriteString(formatProfile(rec))

	icon := "✅"
	if out.Result.IsStunted() {
		icon = "⚠️"
	}
	fmt.Fprintf(&sb, "\n%s *Result:* %s\n%s\n", icon, out.Result.Classification, escape(out.Result.Explanation))
	if out.Fallback() {
		sb.WriteString("\n_Basic assessment from measurements only._\n")
	}
	sb.WriteString("\nSend /nutrition for a nutrition plan.")
	return sb.String()
}

func formatPlan(rec child.Record, out nutrition.Outcome) string {
	p := out.Plan
	var sb strings.Builder
	fmt.Fprintf(&sb, "🥗 *Nutrition Plan for %s*\n\n", escape(rec.Name))
	fmt.Fprintf(&sb, "🔥 *Daily calories:* %d kcal\n", p.DailyCalories)
	m := p.Macronutrients
	fmt.Fprintf(&sb, "• Protein: %d%% (%dg)\n• Carbs: %d%% (%dg)\n• Fats: %d%% (%dg)\n",
		m.Protein.Percentage, m.Protein.Grams, m.Carbs.Percentage, m.Carbs.Grams, m.Fats.Percentage, m.Fats.Grams)

	if len(p.KeyNutrients) > 0 {
		sb.WriteString("\n💊 *Key nutrients*\n")
		for _, n := range p.KeyNutrients {
			fmt.Fprintf(&sb, "• *%s* (%s): %s\n", escape(n.Name), escape(n.Amount), escape(strings.Join(n.Foods, ", ")))
		}
	}

	if len(p.MealPlan) > 0 {
		sb.WriteString("\n🍽 *Meals*\n")
		for _, meal := range p.MealPlan {
			fmt.Fprintf(&sb, "• *%s*: %s\n", escape(meal.Meal), escape(strings.Join(meal.Options, "; ")))
		}
	}

	if len(p.Recommendations) > 0 {
		sb.WriteString("\n📝 *Recommendations*\n")
		for _, r := range p.Recommendations {
			fmt.Fprintf(&sb, "• %s\n", escape(r))
		}
	}

	gt := p.GrowthTrajectory
	sb.WriteString("\n📈 *Growth trajectory*\n")
	if gt.CurrentStatus != "" {
		fmt.Fprintf(&sb, "%s\n", escape(gt.CurrentStatus))
	}
	if gt.Projection != "" {
		fmt.Fprintf(&sb, "%s\n", escape(gt.Projection))
	}
	if size := gt.EstimatedAdultSize; size.Height != "" || size.Weight != "" {
		fmt.Fprintf(&sb, "Estimated adult size: %s, %s\n", escape(size.Height), escape(size.Weight))
	}

	if out.Fallback() {
		sb.WriteString("\n_Standard plan from reference values._")
	}
	return sb.String()
}
