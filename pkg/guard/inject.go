package guard

import (
	"errors"
	"regexp"
)

// SecurityViolation is raised on a positive injection match. Kind names the
// pattern family only; the matched payload is never carried.
type SecurityViolation struct {
	Kind string
}

func (e *SecurityViolation) Error() string {
	return "security violation: " + e.Kind
}

type injectionPattern struct {
	kind string
	re   *regexp.Regexp
}

// Patterns are compiled once at init. Matching is case-insensitive; every
// string field of every request passes through here before any other
// processing.
var injectionPatterns = []injectionPattern{
	{"script-tag", regexp.MustCompile(`(?i)<\s*script`)},
	{"javascript-uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"event-handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"code-eval", regexp.MustCompile(`(?i)\b(?:eval|exec)\s*\(`)},
	{"code-import", regexp.MustCompile(`__import__`)},
	{"template-expr", regexp.MustCompile(`\$\{[^}]*\}|\{\{[^}]*\}\}`)},
	{"path-traversal", regexp.MustCompile(`\.\./`)},
	{"system-path", regexp.MustCompile(`(?i)/etc/passwd|/bin/(?:ba)?sh|cmd\.exe`)},
	{"destructive-verb", regexp.MustCompile(`(?i)\b(?:drop|truncate|delete)\s+(?:table|database|from)\b|;\s*(?:rm|del)\s`)},
}

// ScanString returns a SecurityViolation when the value matches any
// injection pattern.
func ScanString(s string) error {
	for _, p := range injectionPatterns {
		if p.re.MatchString(s) {
			return &SecurityViolation{Kind: p.kind}
		}
	}
	return nil
}

// ScanArgs runs the injection scan over every string field of a decoded
// argument object, keys included.
func ScanArgs(args any) error {
	switch t := args.(type) {
	case string:
		return ScanString(t)
	case []any:
		for _, e := range t {
			if err := ScanArgs(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for k, e := range t {
			if err := ScanString(k); err != nil {
				return err
			}
			if err := ScanArgs(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// ViolationKind extracts the pattern family from an error for audit records.
func ViolationKind(err error) string {
	var sv *SecurityViolation
	if errors.As(err, &sv) {
		return sv.Kind
	}
	return ""
}
