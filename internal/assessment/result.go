// Package assessment classifies a child's growth as stunted or not, using
// an image-capable model when a photo is available and a percentile rule
// otherwise.
package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"growth-assessor/internal/child"
	"growth-assessor/internal/llm"
)

// Classifications.
const (
	Stunted    = "Stunted"
	NotStunted = "Not Stunted"
)

// Result is what gets cached and shown for one identity key.
type Result struct {
	Classification string `json:"classification"`
	Explanation    string `json:"explanation"`
	Fallback       bool   `json:"fallback,omitempty"`
}

// Valid reports whether r carries a recognizable classification.
func (r Result) Valid() bool {
	_, ok := NormalizeClassification(r.Classification)
	return ok
}

// IsStunted reports whether the classification is Stunted.
func (r Result) IsStunted() bool {
	c, _ := NormalizeClassification(r.Classification)
	return c == Stunted
}

// NormalizeClassification maps case and spacing variants ("not_stunted",
// "NOT STUNTED", "NotStunted") onto the two canonical labels.
func NormalizeClassification(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	switch s {
	case "stunted":
		return Stunted, true
	case "not stunted", "notstunted", "non stunted":
		return NotStunted, true
	default:
		return "", false
	}
}

var (
	errEmptyResponse    = errors.New("response is an empty JSON object")
	errNoClassification = errors.New("response has no recognizable classification")
)

// parseResult validates a model reply: it must decode to a non-empty JSON
// object with a recognizable classification.
func parseResult(content string) (Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &raw); err != nil {
		return Result{}, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if len(raw) == 0 {
		return Result{}, errEmptyResponse
	}

	var res struct {
		Classification string `json:"classification"`
		Explanation    string `json:"explanation"`
	}
	// a non-string classification simply fails normalization below
	_ = json.Unmarshal(raw["classification"], &res.Classification)
	_ = json.Unmarshal(raw["explanation"], &res.Explanation)

	class, ok := NormalizeClassification(res.Classification)
	if !ok {
		return Result{}, errNoClassification
	}
	return Result{Classification: class, Explanation: strings.TrimSpace(res.Explanation)}, nil
}

// MeasurementFallback classifies from the percentile alone and asks for a
// photo. Used when none was supplied.
func MeasurementFallback(rec child.Record) Result {
	class := percentileClass(rec)
	return Result{
		Classification: class,
		Explanation: fmt.Sprintf(
			"Based on height-for-age alone (%s percentile), %s is classified as %s. Please provide a photo for a more detailed assessment.",
			percentileLabel(rec), displayName(rec), class),
		Fallback: true,
	}
}

// PercentileFallback classifies from the percentile alone. Used when a
// photo was supplied but the AI result could not be obtained.
func PercentileFallback(rec child.Record) Result {
	class := percentileClass(rec)
	return Result{
		Classification: class,
		Explanation: fmt.Sprintf(
			"Based on %s's height-for-age percentile (%s), %s is classified as %s. This is a basic assessment from the measurements provided.",
			displayName(rec), percentileLabel(rec), displayName(rec), class),
		Fallback: true,
	}
}

func percentileClass(rec child.Record) string {
	if child.IsStunted(rec.Percentile) {
		return Stunted
	}
	return NotStunted
}

func percentileLabel(rec child.Record) string {
	if _, ok := child.ParsePercentile(rec.Percentile); ok {
		return rec.Percentile
	}
	return child.FormatPercentile(child.DefaultPercentile)
}

func displayName(rec child.Record) string {
	if strings.TrimSpace(rec.Name) == "" {
		return "the child"
	}
	return rec.Name
}
