package guard

import (
	"errors"
	"regexp"

	"github.com/tagwarden/tagwarden/pkg/cloud"
)

// ErrorCode classifies a failure for the response envelope.
type ErrorCode string

const (
	CodeValidation ErrorCode = "validation_error"
	CodeSecurity   ErrorCode = "request_rejected"
	CodeBudget     ErrorCode = "budget_exhausted"
	CodeLoop       ErrorCode = "loop_detected"
	CodeCloudAPI   ErrorCode = "cloud_api_error"
	CodeNotFound   ErrorCode = "not_found"
	CodeInternal   ErrorCode = "internal_error"
)

// Redaction patterns. The redactor is the single chokepoint every outbound
// error message passes through.
var (
	reAbsPath    = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[\w.\-]+){2,}`)
	reAccessKey  = regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}\b`)
	reConnString = regexp.MustCompile(`\b[a-z][a-z0-9+.\-]*://[^\s@]+@[^\s]+`)
	reInternalIP = regexp.MustCompile(`\b(?:10|127)\.\d{1,3}\.\d{1,3}\.\d{1,3}\b|\b192\.168\.\d{1,3}\.\d{1,3}\b|\b172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}\b`)
	reStackFrame = regexp.MustCompile(`(?m)^\s*(?:goroutine \d+.*|[\w./\-]+\.go:\d+.*)$`)
)

// RedactString strips paths, credentials, connection strings, internal
// addresses, and stack frames from a message.
func RedactString(msg string) string {
	msg = reConnString.ReplaceAllString(msg, "[redacted-endpoint]")
	msg = reAccessKey.ReplaceAllString(msg, "[redacted-credential]")
	msg = reStackFrame.ReplaceAllString(msg, "[redacted-frame]")
	msg = reAbsPath.ReplaceAllString(msg, "[redacted-path]")
	msg = reInternalIP.ReplaceAllString(msg, "[redacted-address]")
	return msg
}

// RedactError produces the outbound form of an error. Internal detail is
// logged at the call site; the caller only ever sees the redacted string.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}

// SafeError is the fixed outbound shape for a failure.
type SafeError struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"error"`
}

// Classify maps an error to its user-safe message and code. Unknown errors
// collapse to a generic internal failure so nothing leaks by default.
func Classify(err error) SafeError {
	var sv *SecurityViolation
	if errors.As(err, &sv) {
		return SafeError{Code: CodeSecurity, Message: "request rejected"}
	}
	var be *BoundsError
	if errors.As(err, &be) {
		return SafeError{Code: CodeValidation, Message: "invalid arguments: " + be.Bound}
	}
	var ae *cloud.APIError
	if errors.As(err, &ae) {
		return SafeError{Code: CodeCloudAPI, Message: RedactString(ae.Error())}
	}
	return SafeError{Code: CodeInternal, Message: "internal error"}
}
