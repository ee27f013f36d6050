package security

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/aixgo-dev/datapilot/capability"
)

// ErrorCode is a stable error code returned to API clients.
type ErrorCode string

const (
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeUpstream       ErrorCode = "UPSTREAM_FAILURE"
	CodeMissingState   ErrorCode = "MISSING_STATE"
	CodeRejectedPrompt ErrorCode = "REJECTED_QUESTION"
)

// APIError is an error safe to return to clients.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

func (e *APIError) Error() string { return string(e.Code) + ": " + e.Message }

// Status returns the HTTP status code for e.
func (e *APIError) Status() int {
	switch e.Code {
	case CodeInvalidInput, CodeRejectedPrompt:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicError maps err to a client-safe error. With debug set, the redacted
// error text is included as Detail.
func PublicError(err error, debug bool) *APIError {
	if err == nil {
		return nil
	}
	var out *APIError
	if errors.As(err, &out) {
		return out
	}

	var up *capability.UpstreamFailure
	switch {
	case errors.As(err, &up):
		out = &APIError{Code: CodeUpstream, Message: "capability " + up.Capability + " failed", Retryable: up.Retryable}
	case errors.Is(err, context.DeadlineExceeded):
		out = &APIError{Code: CodeTimeout, Message: "request timed out", Retryable: true}
	case errors.Is(err, capability.ErrMissingState):
		out = &APIError{Code: CodeMissingState, Message: "required session data is missing"}
	default:
		out = &APIError{Code: CodeInternal, Message: "an internal error occurred"}
	}
	if debug {
		out.Detail = Redact(err.Error())
	}
	return out
}

// WriteError writes e as JSON with the given status.
func WriteError(w http.ResponseWriter, status int, e *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]*APIError{"error": e})
}

var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)(sk-|xai-|hf_)[A-Za-z0-9_\-]{8,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(api_?key|token|password|secret)=\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+\S+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`://[^/\s:@]+:[^@\s]+@`), "://[REDACTED]@"},
	{regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}(:\d+)?\b`), "[IP_ADDRESS]"},
	{regexp.MustCompile(`(/(home|Users|var|etc|opt|tmp|root)/\S*)`), "[PATH]"},
	{regexp.MustCompile(`\S+\.go:\d+`), "[FILE:LINE]"},
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "[ADDR]"},
}

// Redact removes secrets, credentials in URLs, IP addresses, file paths
// and stack details from msg.
func Redact(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}

// MaskSecret masks a secret for display.
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****" + secret[len(secret)-4:]
	}
}
