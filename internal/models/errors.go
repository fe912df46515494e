package models

import (
	"errors"
	"fmt"
)

// ErrorKind tags a failure so callers can decide between retry and terminal handling
type ErrorKind string

const (
	ErrorNavigation        ErrorKind = "navigation_error"
	ErrorFormNotFound      ErrorKind = "form_not_found"
	ErrorAnalysis          ErrorKind = "analysis_error"
	ErrorMapping           ErrorKind = "mapping_error"
	ErrorFill              ErrorKind = "fill_error"
	ErrorSubmitFailed      ErrorKind = "submit_failed"
	ErrorValidation        ErrorKind = "validation_error"
	ErrorCaptchaRequired   ErrorKind = "captcha_required"
	ErrorWorkerUnavailable ErrorKind = "worker_unavailable"
	ErrorPersistence       ErrorKind = "persistence_error"

	// Worker-local kinds, folded into the kinds above by the pipeline
	ErrorHTTP             ErrorKind = "http_error"
	ErrorInvalidPageState ErrorKind = "invalid_page_state"
	ErrorTimeout          ErrorKind = "timeout"
	ErrorInvalidCommand   ErrorKind = "invalid_command"
	ErrorInternal         ErrorKind = "internal_error"
)

// IsTerminal reports whether a failure of this kind must never be retried automatically
func (k ErrorKind) IsTerminal() bool {
	return k == ErrorCaptchaRequired
}

// WorkflowError is a stage-level failure carrying its kind
type WorkflowError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

// NewWorkflowError creates a WorkflowError
func NewWorkflowError(kind ErrorKind, stage, message string, err error) *WorkflowError {
	return &WorkflowError{Kind: kind, Stage: stage, Message: message, Err: err}
}

func (e *WorkflowError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, or ErrorInternal when untagged
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ErrorInternal
}
