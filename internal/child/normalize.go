package child

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Loose is a JSON value that may arrive as a number or as a string with
// units ("102 cm", "4 years, 2 months").
type Loose struct {
	Text     string
	Number   float64
	IsNumber bool
}

// Num wraps a number.
func Num(f float64) Loose { return Loose{Number: f, IsNumber: true} }

// Str wraps a string.
func Str(s string) Loose { return Loose{Text: s} }

// IsZero reports whether the value is absent.
func (l Loose) IsZero() bool {
	return !l.IsNumber && strings.TrimSpace(l.Text) == ""
}

func (l Loose) String() string {
	if l.IsNumber {
		return formatFloat(l.Number)
	}
	return l.Text
}

func (l *Loose) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = Loose{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Str(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		// booleans, objects and the like are kept as text and fail to parse later
		*l = Str(string(b))
		return nil
	}
	*l = Num(f)
	return nil
}

func (l Loose) MarshalJSON() ([]byte, error) {
	if l.IsNumber {
		return json.Marshal(l.Number)
	}
	return json.Marshal(l.Text)
}

// Input is the upstream shape: raw form fields or display strings.
type Input struct {
	Name       string `json:"name"`
	Age        Loose  `json:"age"`
	AgeYears   Loose  `json:"ageYears"`
	AgeMonths  Loose  `json:"ageMonths"`
	Gender     string `json:"gender"`
	Height     Loose  `json:"height"`
	Weight     Loose  `json:"weight"`
	BMI        Loose  `json:"bmi"`
	Percentile Loose  `json:"percentile"`
	Photo      string `json:"photo,omitempty"`
}

var (
	ageRe    = regexp.MustCompile(`(?i)(\d+)\s*years?\s*,?\s*(\d+)\s*months?`)
	heightRe = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*cm`)
	weightRe = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*kg`)
)

// ParseAge extracts (years, months) from "<int> years, <int> months".
func ParseAge(s string) (years, months int, ok bool) {
	m := ageRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	years, _ = strconv.Atoi(m[1])
	months, _ = strconv.Atoi(m[2])
	return years, months, true
}

// ParseHeight extracts centimetres from "<float> cm".
func ParseHeight(s string) (float64, bool) { return parseUnit(heightRe, s) }

// ParseWeight extracts kilograms from "<float> kg".
func ParseWeight(s string) (float64, bool) { return parseUnit(weightRe, s) }

func parseUnit(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Normalize converts an Input into a canonical Record. It never fails:
// anything unreadable becomes a zero value and its field name is returned
// in defaulted.
func Normalize(in Input) (rec Record, defaulted []string) {
	rec.Name = strings.TrimSpace(in.Name)
	rec.Photo = strings.TrimSpace(in.Photo)

	years, months, ok := normalizeAge(in)
	if !ok {
		defaulted = append(defaulted, "age")
	}
	rec.AgeYears, rec.AgeMonths = years, months

	if g, ok := ParseGender(in.Gender); ok {
		rec.Gender = g
	} else {
		rec.Gender = Male
		defaulted = append(defaulted, "gender")
	}

	if rec.HeightCm, ok = measure(in.Height, ParseHeight); !ok {
		defaulted = append(defaulted, "height")
	}
	if rec.WeightKg, ok = measure(in.Weight, ParseWeight); !ok {
		defaulted = append(defaulted, "weight")
	}

	rec.BMI = ComputeBMI(rec.HeightCm, rec.WeightKg)

	if !in.Percentile.IsZero() {
		if p, ok := ParsePercentile(in.Percentile.String()); ok {
			rec.Percentile = FormatPercentile(int(p))
		} else {
			defaulted = append(defaulted, "percentile")
		}
	}
	return rec, defaulted
}

func normalizeAge(in Input) (int, int, bool) {
	if !in.AgeYears.IsZero() || !in.AgeMonths.IsZero() {
		y, yok := wholeNumber(in.AgeYears)
		m, mok := wholeNumber(in.AgeMonths)
		if in.AgeMonths.IsZero() {
			m, mok = 0, true
		}
		if in.AgeYears.IsZero() {
			y, yok = 0, true
		}
		if yok && mok {
			y, m = carryMonths(y, m)
			return y, m, true
		}
	}
	if in.Age.IsNumber {
		if in.Age.Number >= 0 {
			return int(in.Age.Number), 0, true
		}
		return 0, 0, false
	}
	y, m, ok := ParseAge(in.Age.Text)
	if !ok {
		return 0, 0, false
	}
	y, m = carryMonths(y, m)
	return y, m, true
}

func carryMonths(years, months int) (int, int) {
	return years + months/12, months % 12
}

func wholeNumber(l Loose) (int, bool) {
	if l.IsNumber {
		if l.Number < 0 {
			return 0, false
		}
		return int(l.Number), true
	}
	v, err := strconv.Atoi(strings.TrimSpace(l.Text))
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func measure(l Loose, parse func(string) (float64, bool)) (float64, bool) {
	if l.IsNumber {
		if l.Number > 0 {
			return l.Number, true
		}
		return 0, false
	}
	v, ok := parse(l.Text)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// Nutrition defaults applied before planning when a field is missing or
// malformed.
const (
	DefaultName           = "Child"
	DefaultAge            = "1 years, 0 months"
	DefaultGender         = "Male"
	DefaultHeight         = "75 cm"
	DefaultWeight         = "10 kg"
	DefaultBMI            = "17.8"
	DefaultPercentileText = "50th"
)

// WithNutritionDefaults replaces missing or malformed fields with the
// documented defaults so a plan can always be requested.
func WithNutritionDefaults(in Input) (out Input, defaulted []string) {
	out = in
	if strings.TrimSpace(in.Name) == "" {
		out.Name = DefaultName
		defaulted = append(defaulted, "name")
	}
	if _, _, ok := normalizeAge(in); !ok {
		out.Age, out.AgeYears, out.AgeMonths = Str(DefaultAge), Loose{}, Loose{}
		defaulted = append(defaulted, "age")
	}
	if _, ok := ParseGender(in.Gender); !ok {
		out.Gender = DefaultGender
		defaulted = append(defaulted, "gender")
	}
	if _, ok := measure(in.Height, ParseHeight); !ok {
		out.Height = Str(DefaultHeight)
		defaulted = append(defaulted, "height")
	}
	if _, ok := measure(in.Weight, ParseWeight); !ok {
		out.Weight = Str(DefaultWeight)
		defaulted = append(defaulted, "weight")
	}
	if !validBMI(in.BMI) {
		out.BMI = Str(DefaultBMI)
		defaulted = append(defaulted, "bmi")
	}
	if _, ok := ParsePercentile(in.Percentile.String()); !ok {
		out.Percentile = Str(DefaultPercentileText)
		defaulted = append(defaulted, "percentile")
	}
	return out, defaulted
}

func validBMI(l Loose) bool {
	if l.IsNumber {
		return l.Number > 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(l.Text), 64)
	return err == nil && v > 0
}

// InputFromRecord converts a canonical record back into the upstream shape.
func InputFromRecord(r Record) Input {
	return Input{
		Name:       r.Name,
		AgeYears:   Num(float64(r.AgeYears)),
		AgeMonths:  Num(float64(r.AgeMonths)),
		Gender:     string(r.Gender),
		Height:     Num(r.HeightCm),
		Weight:     Num(r.WeightKg),
		BMI:        Num(r.BMI),
		Percentile: Str(r.Percentile),
		Photo:      r.Photo,
	}
}

// Describe is a short human label used in log lines.
func (r Record) Describe() string {
	return fmt.Sprintf("%s (%s, %s)", r.Name, FormatAge(r.AgeYears, r.AgeMonths), r.Gender)
}
