// Package dosage provides a fixed-point representation for medication
// amounts. Doses are stored as integer micrograms so that repeated
// debits against a bottle volume never accumulate floating-point drift.
package dosage

import (
	"fmt"
	"strconv"
	"strings"
)

// Milligrams is a dose amount in micrograms (1 mg = 1000 units).
type Milligrams int64

const microPerMilli = 1000

// FromFloat converts a float mg value, rounding to the nearest microgram.
func FromFloat(mg float64) Milligrams {
	if mg >= 0 {
		return Milligrams(mg*microPerMilli + 0.5)
	}
	return Milligrams(mg*microPerMilli - 0.5)
}

// Parse parses a decimal mg string such as "65", "32.5" or "0.125".
// At most three fractional digits are kept; more is an error.
func Parse(s string) (Milligrams, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty dose amount")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		return 0, fmt.Errorf("dose amount must not be negative: %s", s)
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid dose amount %q", s)
	}
	if len(frac) > 3 {
		return 0, fmt.Errorf("dose amount %q has more than 3 decimal places", s)
	}
	f := int64(0)
	if frac != "" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid dose amount %q", s)
		}
		for i := len(frac); i < 3; i++ {
			f *= 10
		}
	}
	return Milligrams(w*microPerMilli + f), nil
}

// Float64 returns the amount as float mg for JSON/display use.
func (m Milligrams) Float64() float64 {
	return float64(m) / microPerMilli
}

// String formats the amount as a decimal mg string with trailing zeros
// trimmed, e.g. 32500 -> "32.5".
func (m Milligrams) String() string {
	whole := int64(m) / microPerMilli
	frac := int64(m) % microPerMilli
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := fmt.Sprintf("%d.%03d", whole, frac)
	return strings.TrimRight(s, "0")
}

// IsPositive reports whether the amount is greater than zero.
func (m Milligrams) IsPositive() bool { return m > 0 }
