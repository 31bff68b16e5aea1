package child

import (
	"strconv"
	"strings"
)

const (
	// PhotoFingerprintLen is how much of the encoded photo takes part in
	// the identity key. It is a cheap differentiator, not a hash.
	PhotoFingerprintLen = 50
	// NoPhotoToken stands in for the fingerprint when no photo exists.
	NoPhotoToken = "no-photo"
)

// PhotoFingerprint returns the first 50 characters of the encoded photo.
func PhotoFingerprint(photo string) string {
	photo = strings.TrimSpace(photo)
	if photo == "" {
		return NoPhotoToken
	}
	if len(photo) > PhotoFingerprintLen {
		return photo[:PhotoFingerprintLen]
	}
	return photo
}

// AssessmentKey identifies a record for classification, photo included.
func AssessmentKey(r Record) string {
	return baseKey(r) + "-" + PhotoFingerprint(r.Photo)
}

// NutritionKey identifies a record for planning. Plans do not depend on
// the photo, so it is left out.
func NutritionKey(r Record) string {
	return baseKey(r)
}

func baseKey(r Record) string {
	parts := []string{
		r.Name,
		strconv.Itoa(r.AgeYears),
		strconv.Itoa(r.AgeMonths),
		r.Gender.Code(),
		formatFloat(r.HeightCm),
		formatFloat(r.WeightKg),
	}
	return strings.Join(parts, "-")
}
