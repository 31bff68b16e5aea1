// Package child holds the canonical child measurement record and the
// helpers that turn loosely typed intake data into it.
package child

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Gender is the canonical sex used by growth references.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

// Code returns the single-letter code used in identity keys.
func (g Gender) Code() string {
	if g == Female {
		return "F"
	}
	return "M"
}

// ParseGender accepts M/F, Male/Female and boy/girl in any case.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "boy":
		return Male, true
	case "f", "female", "girl":
		return Female, true
	default:
		return "", false
	}
}

// Record is the canonical snapshot of one assessment session.
type Record struct {
	Name           string  `json:"name"`
	AgeYears       int     `json:"ageYears"`
	AgeMonths      int     `json:"ageMonths"`
	Gender         Gender  `json:"gender"`
	HeightCm       float64 `json:"heightCm"`
	WeightKg       float64 `json:"weightKg"`
	BMI            float64 `json:"bmi"`
	Percentile     string  `json:"percentile"`
	Photo          string  `json:"photo,omitempty"`
	AssessmentDate string  `json:"assessmentDate"`
}

// TotalMonths is the age expressed in months.
func (r Record) TotalMonths() int {
	return r.AgeYears*12 + r.AgeMonths
}

// HasMeasurements reports whether height and weight are usable.
func (r Record) HasMeasurements() bool {
	return r.HeightCm > 0 && r.WeightKg > 0
}

// HasPhoto reports whether a photo was supplied.
func (r Record) HasPhoto() bool {
	return strings.TrimSpace(r.Photo) != ""
}

// Profile is the human-readable rendering of a record sent to the AI and
// shown to users.
type Profile struct {
	Name       string `json:"name"`
	Age        string `json:"age"`
	Gender     string `json:"gender"`
	Height     string `json:"height"`
	Weight     string `json:"weight"`
	BMI        string `json:"bmi"`
	Percentile string `json:"percentile"`
}

// Profile renders the record's display strings.
func (r Record) Profile() Profile {
	return Profile{
		Name:       r.Name,
		Age:        FormatAge(r.AgeYears, r.AgeMonths),
		Gender:     string(r.Gender),
		Height:     formatFloat(r.HeightCm) + " cm",
		Weight:     formatFloat(r.WeightKg) + " kg",
		BMI:        strconv.FormatFloat(r.BMI, 'f', 1, 64),
		Percentile: r.Percentile,
	}
}

// FormatAge renders an age the way the intake flow displays it.
func FormatAge(years, months int) string {
	return fmt.Sprintf("%d years, %d months", years, months)
}

// ComputeBMI returns weight/(height in m)^2 rounded to one decimal place.
func ComputeBMI(heightCm, weightKg float64) float64 {
	if heightCm <= 0 || weightKg <= 0 {
		return 0
	}
	m := heightCm / 100
	return math.Round(weightKg/(m*m)*10) / 10
}

// formatFloat renders a float in its shortest form (80, 16.5).
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
