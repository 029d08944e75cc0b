package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// TrackingPrefix starts every tracking code.
const TrackingPrefix = "ETK"

var trackingPattern = regexp.MustCompile(`^ETK\d{9}$`)

// NewTrackingCode returns TrackingPrefix + the last 6 digits of now in unix millis + 3 random digits.
func NewTrackingCode(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	millis := now.UnixMilli() % 1_000_000
	return fmt.Sprintf("%s%06d%03d", TrackingPrefix, millis, n.Int64()), nil
}

// ValidTrackingCode reports whether code matches the tracking code scheme.
func ValidTrackingCode(code string) bool {
	return trackingPattern.MatchString(code)
}
