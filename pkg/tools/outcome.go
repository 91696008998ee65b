package tools

import (
	"fmt"

	"github.com/tagwarden/tagwarden/pkg/guard"
)

// Status tags a tool outcome. Guardrail rejections are outcomes, not errors;
// only Ok carries data.
type Status string

const (
	StatusOK                Status = "ok"
	StatusBudgetExhausted   Status = "budget_exhausted"
	StatusLoopDetected      Status = "loop_detected"
	StatusValidationError   Status = "validation_error"
	StatusSecurityViolation Status = "security_violation"
	StatusTimeout           Status = "timeout"
	StatusCloudError        Status = "cloud_error"
	StatusInternalError     Status = "internal_error"
)

// Outcome is the tagged result of one tool invocation. The dispatcher maps
// it to the wire envelope; handlers never return Go errors to the caller.
type Outcome struct {
	Status        Status `json:"status"`
	Data          any    `json:"data,omitempty"`
	Field         string `json:"field,omitempty"`  // validation failures
	Reason        string `json:"reason,omitempty"` // validation failures
	Region        string `json:"region,omitempty"` // cloud failures
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`

	// violationKind travels to the audit record only, never to the wire.
	violationKind string
}

// OK wraps a successful payload.
func OK(data any) Outcome {
	return Outcome{Status: StatusOK, Data: data}
}

// BudgetExhausted is the structured non-error for a spent session budget.
func BudgetExhausted(limit int64) Outcome {
	return Outcome{
		Status:  StatusBudgetExhausted,
		Message: fmt.Sprintf("session call budget of %d exhausted; wait for the session window to expire before retrying", limit),
	}
}

// LoopDetected is the structured non-error for repeated identical calls.
func LoopDetected() Outcome {
	return Outcome{
		Status:  StatusLoopDetected,
		Message: "identical call repeated too many times; change the arguments or stop retrying",
	}
}

// ValidationFailed names the offending field and why it was rejected.
func ValidationFailed(field, reason string) Outcome {
	return Outcome{
		Status:  StatusValidationError,
		Field:   field,
		Reason:  reason,
		Message: "invalid arguments",
	}
}

// SecurityRejected is deliberately generic on the wire; the pattern kind is
// kept for the audit record only.
func SecurityRejected(kind string) Outcome {
	return Outcome{
		Status:        StatusSecurityViolation,
		Message:       "request rejected",
		violationKind: kind,
	}
}

// TimedOut reports a deadline hit at the dispatcher level.
func TimedOut() Outcome {
	return Outcome{Status: StatusTimeout, Message: "request timed out"}
}

// CloudFailed reports an exhausted cloud call with a redacted message.
func CloudFailed(region string, err error) Outcome {
	return Outcome{
		Status:  StatusCloudError,
		Region:  region,
		Message: guard.RedactError(err),
	}
}

// InternalFailed reports an unexpected failure without detail.
func InternalFailed() Outcome {
	return Outcome{Status: StatusInternalError, Message: "internal error"}
}

// errorCode maps the outcome to the audit error_code column. Empty for Ok.
func (o Outcome) errorCode() string {
	if o.Status == StatusOK {
		return ""
	}
	return string(o.Status)
}
