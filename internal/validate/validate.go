package validate

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"stockboard/internal/domain"
)

var (
	reTab  = regexp.MustCompile(`^(inventory|history|chart)$`)
	reDirn = regexp.MustCompile(`^(entrada|saida)$`)
)

// SKU validates a product code. The backend takes any unique text, so only
// what cannot travel as one path segment is refused: control characters and
// slashes. At most 64 runes.
func SKU(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !utf8.ValidString(s) || utf8.RuneCountInString(s) > 64 {
		return s, false
	}
	ok := strings.IndexFunc(s, func(r rune) bool { return r == '/' || unicode.IsControl(r) }) < 0
	return s, ok
}

// Name validates a product display name with a reasonable max length.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > 120 {
		return "", false
	}
	return s, true
}

// Description is optional; it is only trimmed and clamped to 500 runes.
func Description(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 500 {
		s = string([]rune(s)[:500])
	}
	return s
}

// NonNegative parses a count that may be zero (stock on hand, reorder threshold).
// An empty field yields def.
func NonNegative(s string, def int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Positive parses a movement quantity; anything that is not an integer >= 1 fails.
func Positive(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func Direction(s string) (domain.Direction, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return domain.Direction(s), reDirn.MatchString(s)
}

// Tab normalises the dashboard tab selector, defaulting to inventory.
func Tab(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !reTab.MatchString(s) {
		return "inventory"
	}
	return s
}
