// Package capsdk holds the wire-level types shared by every layer of the
// capability invocation SDK: the invocation envelope, its context, the
// resolved-capability record, the tagged invocation result, and the closed
// error code taxonomy. These types cross package boundaries (resolution,
// pipeline, transport, worker) so they live in one place rather than being
// redeclared per consumer.
package capsdk

import "fmt"

// Code is one of the closed set of capability invocation error codes.
type Code string

// Closed error code taxonomy (spec §6.4).
const (
	CodeValidationError          Code = "VALIDATION_ERROR"
	CodeSchemaValidationFailed   Code = "SCHEMA_VALIDATION_FAILED"
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeAuthFailed               Code = "AUTH_FAILED"
	CodeForbidden                Code = "FORBIDDEN"
	CodePolicyDenied             Code = "POLICY_DENIED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeTimeout                  Code = "TIMEOUT"
	CodeCancelled                Code = "CANCELLED"
	CodeConflict                 Code = "CONFLICT"
	CodeRateLimited              Code = "RATE_LIMITED"
	CodeLimitExceeded            Code = "LIMIT_EXCEEDED"
	CodeUpstreamError            Code = "UPSTREAM_ERROR"
	CodeUnknownSubject           Code = "UNKNOWN_SUBJECT"
	CodeHandlerNotFound          Code = "HANDLER_NOT_FOUND"
	CodeRegistryUnavailable      Code = "REGISTRY_UNAVAILABLE"
	CodePolicyEngineUnavailable  Code = "POLICY_ENGINE_UNAVAILABLE"
	CodeObligationFailed         Code = "OBLIGATION_FAILED"
	CodeInternalError            Code = "INTERNAL_ERROR"
	CodeInvalidRequest           Code = "INVALID_REQUEST"
	CodeInvalidArgument          Code = "INVALID_ARGUMENT"
)

// InvocationErr is the structured error surfaced by every SDK entry point.
// It is the Go-side counterpart to the wire error shape
// {code, message, retryable, details?}.
type InvocationErr struct {
	Code      Code        `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Details   interface{} `json:"details,omitempty"`
}

func (e *InvocationErr) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a non-retryable InvocationErr.
func NewError(code Code, message string) *InvocationErr {
	return &InvocationErr{Code: code, Message: message}
}

// NewRetryableError builds a retryable InvocationErr.
func NewRetryableError(code Code, message string) *InvocationErr {
	return &InvocationErr{Code: code, Message: message, Retryable: true}
}

// AsInvocationErr converts any error into an *InvocationErr. Errors that are
// already structured preserve their code/retryable/details; everything else
// collapses to INTERNAL_ERROR per spec §7 — only programmer errors should
// reach this fallback.
func AsInvocationErr(err error) *InvocationErr {
	if err == nil {
		return nil
	}
	if ie, ok := err.(*InvocationErr); ok {
		return ie
	}
	return &InvocationErr{Code: CodeInternalError, Message: err.Error(), Retryable: false}
}
