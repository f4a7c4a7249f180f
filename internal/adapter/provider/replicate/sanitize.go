package replicate

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numericString = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	leadingInt    = regexp.MustCompile(`^\s*[+-]?\d+`)
)

// SanitizeNumeric converts numeric strings to numbers, since Replicate
// schemas reject "7" where they expect 7. Null values are dropped; empty
// strings pass through.
func SanitizeNumeric(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if numericString.MatchString(val) {
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					out[k] = f
					continue
				}
			}
			out[k] = val
		default:
			out[k] = val
		}
	}
	return out
}

// SanitizeRDGR drops null and empty values and turns string `seed` and
// `output_quality` into integers when they start with digits.
func SanitizeRDGR(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		s, isString := v.(string)
		if isString && s == "" {
			continue
		}
		if isString && (k == "seed" || k == "output_quality") {
			if m := leadingInt.FindString(s); m != "" {
				if n, err := strconv.Atoi(strings.TrimSpace(m)); err == nil {
					out[k] = n
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

