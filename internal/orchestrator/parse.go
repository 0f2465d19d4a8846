package orchestrator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	errNotInteger  = errors.New("send a whole number")
	errNotPositive = errors.New("the number must be greater than zero")
	errNegative    = errors.New("the number must not be negative")
	errRangeFormat = errors.New("send two numbers separated by a comma, e.g. 5,15")
	errNoLinks     = errors.New("no post links found; send links like https://www.instagram.com/p/CODE/")
)

var postLinkRe = regexp.MustCompile(`https://(?:www\.)?instagram\.com/(?:p|reel|tv)/[A-Za-z0-9_-]+/?(?:\?[^\s]*)?`)

// ExtractLinks returns the distinct post links in text, in order of appearance.
func ExtractLinks(text string) []string {
	found := postLinkRe.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, l := range found {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func parseLinks(text string, max int) ([]string, error) {
	links := ExtractLinks(text)
	if len(links) == 0 {
		return nil, errNoLinks
	}
	if max > 0 && len(links) > max {
		return nil, fmt.Errorf("too many links (%d); send at most %d", len(links), max)
	}
	return links, nil
}

func parseInt(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

func parsePositive(text string) (int, error) {
	n, err := parseInt(text)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errNotPositive
	}
	return n, nil
}

func parseNonNegative(text string) (int, error) {
	n, err := parseInt(text)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

// Range is an inclusive span of whole seconds with Lo <= Hi.
type Range struct {
	Lo int `validate:"gte=0"`
	Hi int `validate:"gtefield=Lo"`
}

func (r Range) String() string { return fmt.Sprintf("%d-%ds", r.Lo, r.Hi) }

// ParseRange accepts "a,b" in either order and normalizes to [min,max].
func ParseRange(text string) (Range, error) {
	parts := strings.Split(strings.TrimSpace(text), ",")
	if len(parts) != 2 {
		return Range{}, errRangeFormat
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil {
		return Range{}, errRangeFormat
	}
	if a < 0 || b < 0 {
		return Range{}, errNegative
	}
	if a > b {
		a, b = b, a
	}
	return Range{Lo: a, Hi: b}, nil
}

// firstLine trims err text to its first line for status display.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
