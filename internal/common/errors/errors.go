package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"loan-review-workers/internal/common/validation"
)

type ErrorCode string

const (
	// Review core
	ErrCodeMalformedInput    ErrorCode = "MALFORMED_INPUT"
	ErrCodeProposalNotFound  ErrorCode = "PROPOSAL_NOT_FOUND"
	ErrCodeDecisionNotFound  ErrorCode = "DECISION_NOT_FOUND"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeInternalFailure   ErrorCode = "INTERNAL_FAILURE"

	// Supporting workers
	ErrCodeSearchQueryFailed      ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// internalFailureMessage is the only text callers ever see for an internal failure.
const internalFailureMessage = "Internal failure while processing the request"

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the internal cause to errors.Is/As. It is never serialized.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Cause returns the underlying error, if any, for internal logging.
func (e *StandardError) Cause() error {
	return e.cause
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// Review error constructors
// ==========================

// NewMalformedInputError carries every violation found in one validation pass.
func NewMalformedInputError(violations []validation.ValidationError) *StandardError {
	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.Field)
	}
	return &StandardError{
		Code:      ErrCodeMalformedInput,
		Message:   "Payload failed validation",
		Details:   fmt.Sprintf("%d violation(s): %s", len(violations), strings.Join(fields, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"violations": violations},
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedJobInputError reports job variables that could not even be decoded.
func NewMalformedJobInputError(err error) *StandardError {
	return NewMalformedInputError([]validation.ValidationError{{
		Field:   "(root)",
		Message: err.Error(),
		Code:    validation.CodeInvalidType,
	}})
}

func NewProposalNotFoundError(proposalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProposalNotFound,
		Message:   "Proposal not found",
		Details:   fmt.Sprintf("proposalId: %s", proposalID),
		Retryable: false,
		Metadata:  map[string]interface{}{"proposalId": proposalID},
		Timestamp: time.Now().UTC(),
	}
}

func NewDecisionNotFoundError(proposalID, decisionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDecisionNotFound,
		Message:   "Decision not found on proposal",
		Details:   fmt.Sprintf("proposalId: %s, decisionId: %s", proposalID, decisionID),
		Retryable: false,
		Metadata:  map[string]interface{}{"proposalId": proposalID, "decisionId": decisionID},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError reports the actual stage and the rule that refused the decision.
func NewInvalidTransitionError(currentStage, claimedStage, decision, rule string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Decision %s not allowed at stage %s", decision, currentStage),
		Details:   fmt.Sprintf("rule: %s, currentStage: %s, claimedStage: %s", rule, currentStage, claimedStage),
		Retryable: false,
		Metadata: map[string]interface{}{
			"currentStage": currentStage,
			"claimedStage": claimedStage,
			"decision":     decision,
			"rule":         rule,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalFailureError hides cause from callers; it stays reachable via Unwrap for logs.
func NewInternalFailureError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternalFailure,
		Message:   internalFailureMessage,
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewSearchQueryFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Proposal search failed",
		Details:   fmt.Sprintf("index: %s", index),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// Classification
// ==========================

// As finds the first StandardError in err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// CodeOf is the code err will be reported with; unclassified errors count as
// internal failures.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternalFailure
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeMalformedInput:         "MALFORMED_INPUT",
	ErrCodeProposalNotFound:       "PROPOSAL_NOT_FOUND",
	ErrCodeDecisionNotFound:       "DECISION_NOT_FOUND",
	ErrCodeInvalidTransition:      "INVALID_TRANSITION",
	ErrCodeInternalFailure:        "INTERNAL_FAILURE",
	ErrCodeSearchQueryFailed:      "SEARCH_QUERY_FAILED",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeInternalFailure:
		return 3
	case ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed:
		return 2
	default:
		return 0 // business errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeMalformedInput:
		return "VALIDATION"
	case ErrCodeProposalNotFound, ErrCodeDecisionNotFound:
		return "NOT_FOUND"
	case ErrCodeInvalidTransition:
		return "WORKFLOW"
	case ErrCodeSearchQueryFailed:
		return "SEARCH"
	case ErrCodeNotificationSendFailed:
		return "NOTIFICATION"
	case ErrCodeInternalFailure:
		return "INTERNAL"
	default:
		return "OTHER"
	}
}
