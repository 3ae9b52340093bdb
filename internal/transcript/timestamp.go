package transcript

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/chunkscribe/internal/format"
)

// ParseTimestamp parses a chunk-local timestamp.
// Accepted forms: "[MM:SS]", "MM:SS", "HH:MM:SS", each optionally with
// fractional seconds ("01:02.5"). Minutes may exceed 59 in the two-field form.
func ParseTimestamp(s string) (time.Duration, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	var whole time.Duration
	for i, p := range parts[:len(parts)-1] {
		if !allDigits(p) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		// In HH:MM:SS the minutes field is bounded.
		if len(parts) == 3 && i == 1 && n > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
		}
		whole = whole*60 + time.Duration(n)
	}

	// Seconds are digits with an optional fraction: "05", "05.25".
	secText := parts[len(parts)-1]
	intPart, frac, hasFrac := strings.Cut(secText, ".")
	if !allDigits(intPart) || (hasFrac && !allDigits(frac)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	sec, err := strconv.ParseFloat(secText, 64)
	if err != nil || sec >= 60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	return whole*60*time.Second + time.Duration(math.Round(sec*float64(time.Second))), nil
}

// allDigits reports whether s is non-empty and only ASCII digits.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatTimestamp renders d as "[MM:SS]" with unbounded minutes.
func FormatTimestamp(d time.Duration) string {
	return "[" + format.Clock(d) + "]"
}

// Shift parses a chunk-local timestamp, adds offset, and returns both the
// reformatted display string and the absolute position.
func Shift(local string, offset time.Duration) (string, time.Duration, error) {
	d, err := ParseTimestamp(local)
	if err != nil {
		return "", 0, err
	}
	abs := d + offset
	return FormatTimestamp(abs), abs, nil
}
