package id

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
)

// ParseOffset parses a lookback offset like "7d", "24h" or "2w". A bare
// number is treated as days.
func ParseOffset(input string) (time.Duration, error) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return 0, clierr.New(clierr.CodeUsage, "offset is required (e.g. 7d, 24h)")
	}

	unit := time.Duration(24) * time.Hour
	digits := trimmed
	switch {
	case strings.HasSuffix(trimmed, "h"):
		unit = time.Hour
		digits = strings.TrimSuffix(trimmed, "h")
	case strings.HasSuffix(trimmed, "d"):
		digits = strings.TrimSuffix(trimmed, "d")
	case strings.HasSuffix(trimmed, "w"):
		unit = 7 * 24 * time.Hour
		digits = strings.TrimSuffix(trimmed, "w")
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid offset %q: expected a positive number with optional h/d/w suffix", input))
	}
	return time.Duration(n) * unit, nil
}
