package sqlutil

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Helper functions for moving money and durations through Postgres.
// Numeric columns are read as ::text and written as $n::numeric so no
// float conversion ever happens.

// ToNumeric renders a decimal for a $n::numeric parameter.
func ToNumeric(d decimal.Decimal) string {
	return d.String()
}

// FromNumeric parses a numeric column selected as text.
func FromNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// ToMicros converts a duration to a bigint microseconds column.
func ToMicros(d time.Duration) int64 {
	return d.Microseconds()
}

// FromMicros converts a bigint microseconds column to a duration.
func FromMicros(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// ToNullString converts an empty string to NULL.
func ToNullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FromNullString converts a nullable text column to a string with a default.
func FromNullString(s *string, defaultVal string) string {
	if s == nil {
		return defaultVal
	}
	return *s
}

// UTC normalises a nullable timestamp.
func UTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
