// -----------------------------------------------------------------------
// Worker protocol - commands sent to a browser worker and their results
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
)

// CommandKind names an operation a browser worker can execute
type CommandKind string

const (
	CommandNavigate             CommandKind = "navigate"
	CommandFillForm             CommandKind = "fill_form"
	CommandSubmitForm           CommandKind = "submit_form"
	CommandDetectCaptcha        CommandKind = "detect_captcha"
	CommandGetPageContent       CommandKind = "get_page_content"
	CommandExtractFormFieldsDOM CommandKind = "extract_form_fields_dom"
	CommandTakeScreenshot       CommandKind = "take_screenshot"
	CommandDetectSubmissionPage CommandKind = "detect_submission_page"
	CommandWaitForConfirmation  CommandKind = "wait_for_confirmation"
	CommandClose                CommandKind = "close"
)

// AllCommandKinds lists every kind a worker accepts
var AllCommandKinds = []CommandKind{
	CommandNavigate,
	CommandFillForm,
	CommandSubmitForm,
	CommandDetectCaptcha,
	CommandGetPageContent,
	CommandExtractFormFieldsDOM,
	CommandTakeScreenshot,
	CommandDetectSubmissionPage,
	CommandWaitForConfirmation,
	CommandClose,
}

// IsValid reports whether k is a known command kind
func (k CommandKind) IsValid() bool {
	for _, known := range AllCommandKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Command is one request to a worker. It is immutable once created and
// yields exactly one Result with the same ID.
type Command struct {
	ID        string          `json:"id" validate:"required"`
	Kind      CommandKind     `json:"kind" validate:"required"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// NewCommand builds a command with params marshalled to JSON
func NewCommand(id string, kind CommandKind, params interface{}) (*Command, error) {
	cmd := &Command{ID: id, Kind: kind}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", kind, err)
		}
		cmd.Params = raw
	}
	return cmd, nil
}

// ResultStatus is the outcome of a command
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is a worker response matched to its command by ID
type Result struct {
	ID        string          `json:"id" validate:"required"`
	Status    ResultStatus    `json:"status" validate:"required,oneof=success error"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
}

// SuccessResult builds a success result with data marshalled to JSON
func SuccessResult(id string, data interface{}) *Result {
	r := &Result{ID: id, Status: ResultSuccess}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResult(id, ErrorInternal, fmt.Sprintf("failed to marshal result: %v", err))
		}
		r.Data = raw
	}
	return r
}

// ErrorResult builds an error result
func ErrorResult(id string, kind ErrorKind, message string) *Result {
	return &Result{ID: id, Status: ResultError, Error: message, ErrorKind: kind}
}

// OK reports whether the command succeeded
func (r *Result) OK() bool {
	return r != nil && r.Status == ResultSuccess
}

// Decode unmarshals the result payload into v
func (r *Result) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode result %s: %w", r.ID, err)
	}
	return nil
}

// Err converts an error result into a *WorkflowError, nil on success
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	kind := r.ErrorKind
	if kind == "" {
		kind = ErrorInternal
	}
	return &WorkflowError{Kind: kind, Message: r.Error}
}

// NavigateParams loads a URL in the worker's page
type NavigateParams struct {
	URL string `json:"url" validate:"required,url"`
}

// NavigateData is returned by navigate
type NavigateData struct {
	URL      string `json:"url"`
	FinalURL string `json:"final_url"`
	Status   int    `json:"status"`
	Title    string `json:"title"`
}

// FillFormParams carries the mapped values to type into the form
type FillFormParams struct {
	Fields []FieldValue `json:"fields" validate:"required,min=1,dive"`
}

// FillFormData is returned by fill_form. Per-field errors never fail the command.
type FillFormData struct {
	FilledCount int         `json:"filled_count"`
	TotalFields int         `json:"total_fields"`
	Errors      []FillError `json:"errors,omitempty"`
}

// SubmitFormParams optionally names the submit control found by analysis
type SubmitFormParams struct {
	Selector string `json:"selector,omitempty"`
}

// SubmitFormData is returned by submit_form
type SubmitFormData struct {
	Submitted bool   `json:"submitted"`
	Method    string `json:"method"`
	Selector  string `json:"selector,omitempty"`
}

// CaptchaData is returned by detect_captcha
type CaptchaData struct {
	Detected bool     `json:"detected"`
	Markers  []string `json:"markers,omitempty"`
}

// PageContentParams controls get_page_content
type PageContentParams struct {
	IncludeText bool `json:"include_text,omitempty"`
}

// PageContentData is returned by get_page_content
type PageContentData struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html"`
	Text  string `json:"text,omitempty"`
}

// ScreenshotParams controls take_screenshot
type ScreenshotParams struct {
	Path     string `json:"path" validate:"required"`
	FullPage bool   `json:"full_page,omitempty"`
}

// ScreenshotData is returned by take_screenshot
type ScreenshotData struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// SubmissionPageData is returned by detect_submission_page
type SubmissionPageData struct {
	Detected bool    `json:"detected"`
	Method   string  `json:"method"`
	URL      string  `json:"url"`
	Verdict  Verdict `json:"verdict"`
}

// ConfirmationParams controls wait_for_confirmation
type ConfirmationParams struct {
	TimeoutMS    int    `json:"timeout_ms,omitempty" validate:"gte=0"`
	FieldsFilled int    `json:"fields_filled" validate:"gte=0"`
	SubmitURL    string `json:"submit_url,omitempty"`
}
