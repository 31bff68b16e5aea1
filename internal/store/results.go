package store

import (
	"context"
	"encoding/json"
	"fmt"

	"growth-assessor/internal/logger"
)

// Persisted key layout.
const (
	ChildDataKey        = "childData"
	assessmentKeyPrefix = "aiResponse-"
	nutritionKeyPrefix  = "nutritionData-"
)

// AssessmentKey is where the assessment result for an identity key lives.
func AssessmentKey(identity string) string { return assessmentKeyPrefix + identity }

// NutritionKey is where the nutrition plan for an identity key lives.
func NutritionKey(identity string) string { return nutritionKeyPrefix + identity }

// Results reads and writes JSON values on top of a KeyValueStore. Values
// that cannot be read or decoded are reported as absent.
type Results struct {
	kv  KeyValueStore
	log *logger.Logger
}

// NewResults wraps kv. A nil logger discards diagnostics.
func NewResults(kv KeyValueStore, log *logger.Logger) *Results {
	if log == nil {
		log = logger.NewNop()
	}
	return &Results{kv: kv, log: log}
}

// KV exposes the underlying store.
func (r *Results) KV() KeyValueStore { return r.kv }

// Load decodes the value under key into a T. valid may be nil; when set,
// a decoded value it rejects is treated as absent.
func Load[T any](ctx context.Context, r *Results, key string, valid func(T) bool) (T, bool) {
	var zero T
	raw, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		r.log.Warn("Store read failed, treating as miss", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		r.log.Warn("Stored value is not decodable, treating as miss", "key", key, "error", err)
		return zero, false
	}
	if valid != nil && !valid(v) {
		r.log.Warn("Stored value failed validation, treating as miss", "key", key)
		return zero, false
	}
	return v, true
}

// Save encodes v as JSON under key.
func Save[T any](ctx context.Context, r *Results, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %q: %w", key, err)
	}
	return r.kv.Set(ctx, key, string(data))
}
