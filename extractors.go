package cadence

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Words recognised in status fields, compared lowercased. Any other value
// maps to StatusDown.
var (
	upWords = map[string]struct{}{
		"ok": {}, "healthy": {}, "up": {}, "active": {}, "running": {}, "pass": {},
		"passed": {}, "true": {}, "green": {}, "none": {}, "operational": {},
	}
	degradedWords = map[string]struct{}{
		"degraded": {}, "warning": {}, "partial": {}, "yellow": {}, "amber": {},
	}
)

// HTTPStatusExtractor ignores the body: 2xx is [StatusUp], 4xx is
// [StatusDegraded], everything else is [StatusDown].
var HTTPStatusExtractor StatusExtractor = func(_ []byte, statusCode int) Status {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusUp
	case statusCode >= 400 && statusCode < 500:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// JSONFieldExtractor reads the field at a dot-separated path, e.g.
// "data.health.status", and maps its value to a [Status]. Booleans and the
// numbers 0 and 1 read as "false" and "true". Unparseable bodies and missing
// fields give [StatusUnknown].
func JSONFieldExtractor(path string) StatusExtractor {
	parts := strings.Split(path, ".")

	return func(body []byte, _ int) Status {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return StatusUnknown
		}
		value, ok := lookupJSON(doc, parts)
		if !ok || value == "" {
			return StatusUnknown
		}
		return statusFromWord(value)
	}
}

func lookupJSON(doc any, path []string) (string, bool) {
	for _, key := range path {
		obj, ok := doc.(map[string]any)
		if !ok {
			return "", false
		}
		if doc, ok = obj[key]; !ok {
			return "", false
		}
	}

	switch v := doc.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		switch v {
		case 0:
			return "false", true
		case 1:
			return "true", true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func statusFromWord(word string) Status {
	word = strings.ToLower(strings.TrimSpace(word))
	if _, ok := upWords[word]; ok {
		return StatusUp
	}
	if _, ok := degradedWords[word]; ok {
		return StatusDegraded
	}
	return StatusDown
}

// ContainsExtractor reports [StatusUp] when the body contains text, ignoring
// case, and [StatusDown] otherwise.
func ContainsExtractor(text string) StatusExtractor {
	needle := strings.ToLower(text)
	return func(body []byte, _ int) Status {
		if strings.Contains(strings.ToLower(string(body)), needle) {
			return StatusUp
		}
		return StatusDown
	}
}

// FirstMatch tries extractors in order and returns the first result other
// than [StatusUnknown].
//
// Example:
//
//	extractor := cadence.FirstMatch(
//	    cadence.JSONFieldExtractor("health.status"),
//	    cadence.HTTPStatusExtractor,
//	)
func FirstMatch(extractors ...StatusExtractor) StatusExtractor {
	return func(body []byte, statusCode int) Status {
		for _, extract := range extractors {
			if s := extract(body, statusCode); s != StatusUnknown {
				return s
			}
		}
		return StatusUnknown
	}
}

// DefaultExtractor reads a top-level JSON "status" field and falls back to
// the HTTP status code.
var DefaultExtractor = FirstMatch(
	JSONFieldExtractor("status"),
	HTTPStatusExtractor,
)
