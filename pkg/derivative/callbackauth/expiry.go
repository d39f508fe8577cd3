package callbackauth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultExpiry is the token lifetime used when none is configured.
const DefaultExpiry = "2 hours"

var expiryTermRe = regexp.MustCompile(`^(\d+)\s*([a-z]+)\s*`)

var expiryUnits = map[string]time.Duration{
	"sec":    time.Second,
	"second": time.Second,
	"min":    time.Minute,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseExpiry parses a token lifetime such as "2 hours", "60 secs",
// "1 day 12 hours" or a Go duration like "90m". The result must be
// positive; a number without a unit is rejected.
func ParseExpiry(s string) (time.Duration, error) {
	expr := strings.ToLower(strings.TrimSpace(s))
	expr = strings.TrimPrefix(expr, "+")
	if expr == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidExpiry)
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %q is not positive", ErrInvalidExpiry, s)
		}
		return d, nil
	}

	var total time.Duration
	for rest := expr; rest != ""; {
		m := expiryTermRe.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, s)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, s)
		}
		unit, ok := expiryUnits[strings.TrimSuffix(m[2], "s")]
		if !ok {
			unit, ok = expiryUnits[m[2]]
		}
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidExpiry, m[2])
		}
		total += time.Duration(n) * unit
		rest = rest[len(m[0]):]
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q is not positive", ErrInvalidExpiry, s)
	}
	return total, nil
}
