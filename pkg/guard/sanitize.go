package guard

import (
	"fmt"
	"strings"
)

// Input bounds. Arguments violating any of these are rejected before schema
// validation runs.
const (
	MaxStringLength = 1024
	// MaxFieldLength applies to free-form value fields (tag values, filters).
	MaxFieldLength = 1000
	MaxListSize    = 100
	MaxDictKeys    = 50
	MaxDepth       = 5
	MaxBodySize    = 10 << 20 // 10 MB
	MaxHeaderSize  = 8 << 10  // 8 KB
	MaxHeaderCount = 50
)

// dangerousHeaders are request headers that rewrite routing or host identity.
var dangerousHeaders = map[string]bool{
	"x-forwarded-host":   true,
	"x-forwarded-server": true,
	"x-original-url":     true,
	"x-rewrite-url":      true,
}

// BoundsError describes which input bound a request violated. The message
// names the bound, never the payload.
type BoundsError struct {
	Bound string
}

func (e *BoundsError) Error() string {
	return "input exceeds bound: " + e.Bound
}

// CheckBody rejects oversized raw request bodies.
func CheckBody(size int) error {
	if size > MaxBodySize {
		return &BoundsError{Bound: "body_size"}
	}
	return nil
}

// CheckHeaders enforces header count, size, CRLF, and denied header names.
func CheckHeaders(headers map[string]string) error {
	if len(headers) > MaxHeaderCount {
		return &BoundsError{Bound: "header_count"}
	}
	for name, value := range headers {
		if len(name)+len(value) > MaxHeaderSize {
			return &BoundsError{Bound: "header_size"}
		}
		if strings.ContainsAny(value, "\r\n") {
			return &BoundsError{Bound: "header_crlf"}
		}
		if dangerousHeaders[strings.ToLower(name)] {
			return &BoundsError{Bound: "header_denied"}
		}
	}
	return nil
}

// CheckArgs walks a decoded JSON argument object enforcing size, depth, and
// character bounds on every level.
func CheckArgs(args any) error {
	return checkValue(args, 0)
}

func checkValue(v any, depth int) error {
	if depth > MaxDepth {
		return &BoundsError{Bound: "nesting_depth"}
	}
	switch t := v.(type) {
	case string:
		return checkString(t)
	case []any:
		if len(t) > MaxListSize {
			return &BoundsError{Bound: "list_size"}
		}
		for _, e := range t {
			if err := checkValue(e, depth+1); err != nil {
				return err
			}
		}
	case map[string]any:
		if len(t) > MaxDictKeys {
			return &BoundsError{Bound: "dict_keys"}
		}
		for k, e := range t {
			if err := checkString(k); err != nil {
				return err
			}
			if err := checkValue(e, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkString(s string) error {
	if len(s) > MaxStringLength {
		return &BoundsError{Bound: "string_length"}
	}
	for _, r := range s {
		if r == 0 {
			return &BoundsError{Bound: "null_byte"}
		}
		// Tab and newline survive; other C0 controls do not.
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return &BoundsError{Bound: "control_character"}
		}
	}
	return nil
}

// SanitizeOutputString bounds a string destined for a response, truncating
// rather than rejecting since outputs are our own data.
func SanitizeOutputString(s string, max int) string {
	if max <= 0 {
		max = MaxFieldLength
	}
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes truncated)", s[:max], len(s)-max)
}
