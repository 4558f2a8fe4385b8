package manager

import "fmt"

// Error codes returned across the operation boundary. The set is closed;
// callers branch on Code, humans read Message and Remediation.
const (
	CodeEngineUnavailable    = "engine_unavailable"
	CodeInvalidConfig        = "invalid_config"
	CodeUnknownPurpose       = "unknown_purpose"
	CodeNotFound             = "not_found"
	CodeAlreadyExists        = "already_exists"
	CodeConfirmationRequired = "confirmation_required"
	CodeEngineError          = "engine_error"
)

// OpError is the structured failure shape for every operation. Remediation
// tells the caller what to change; it is advice for an automated caller, so
// it names concrete actions.
type OpError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

func (e *OpError) Error() string {
	if e.Remediation == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Remediation)
}

func opErrorf(code, remediation, format string, args ...any) *OpError {
	return &OpError{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Remediation: remediation,
	}
}

func notFound(name string) *OpError {
	return opErrorf(CodeNotFound,
		"list containers to see what exists, or create one",
		"no managed container named %q", name)
}
