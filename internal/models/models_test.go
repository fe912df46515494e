package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionStatus_IsValid(t *testing.T) {
	for _, s := range AllSubmissionStatuses {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, SubmissionStatus("processing").IsValid())
	assert.False(t, SubmissionStatus("").IsValid())
}

func TestSubmission_IsPermanentlyFailed(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want bool
	}{
		{"pending never permanent", Submission{Status: SubmissionPending, RetryCount: 9}, false},
		{"failed with retries left", Submission{Status: SubmissionFailed, RetryCount: 1}, false},
		{"failed at budget", Submission{Status: SubmissionFailed, RetryCount: 3}, true},
		{"captcha is terminal", Submission{Status: SubmissionFailed, ErrorKind: ErrorCaptchaRequired}, true},
		{"suppressed is not failed", Submission{Status: SubmissionAutoRetrySuppressed, RetryCount: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.IsPermanentlyFailed(3))
		})
	}
}

func TestSubmissionUpdate_Apply(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &Submission{
		ID:           "sub_1",
		Status:       SubmissionPending,
		RetryCount:   2,
		ErrorMessage: "old",
		CreatedAt:    created,
	}

	status := SubmissionSubmitted
	msg := ""
	at := created.Add(time.Minute)
	SubmissionUpdate{Status: &status, ErrorMessage: &msg, SubmittedAt: &at}.Apply(sub, at)

	assert.Equal(t, SubmissionSubmitted, sub.Status)
	assert.Equal(t, 2, sub.RetryCount, "unset fields are left alone")
	assert.Empty(t, sub.ErrorMessage)
	require.NotNil(t, sub.SubmittedAt)
	assert.Equal(t, at, *sub.SubmittedAt)
	assert.Equal(t, at, sub.UpdatedAt)

	// The stored timestamp is a copy
	at = at.Add(time.Hour)
	assert.NotEqual(t, at, *sub.SubmittedAt)
}

func TestStage_IsFinal(t *testing.T) {
	assert.False(t, StageQueued.IsFinal())
	assert.False(t, StageAnalyzingForm.IsFinal())
	assert.False(t, StageSubmitting.IsFinal())
	assert.True(t, StageCompleted.IsFinal())
	assert.True(t, StageFailed.IsFinal())
	assert.True(t, StageCaptchaRequired.IsFinal())
	assert.True(t, StageError.IsFinal())
}

func TestVerdict_Ambiguous(t *testing.T) {
	assert.True(t, Verdict{Outcome: OutcomeSuccess, Confidence: 0.3}.Ambiguous())
	assert.False(t, Verdict{Outcome: OutcomeSuccess, Confidence: 0.9}.Ambiguous())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrorInternal, KindOf(errors.New("boom")))

	we := NewWorkflowError(ErrorFill, "filling_form", "no fields filled", nil)
	assert.Equal(t, ErrorFill, KindOf(we))
	assert.Equal(t, ErrorFill, KindOf(fmt.Errorf("wrapped: %w", we)))
	assert.Equal(t, "filling_form: no fields filled", we.Error())
}

func TestWorkflowError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	we := NewWorkflowError(ErrorNavigation, "", "", cause)
	assert.ErrorIs(t, we, cause)
	assert.Equal(t, "navigation_error: connection reset", we.Error())
}

func TestCommandResult_RoundTrip(t *testing.T) {
	cmd, err := NewCommand("cmd_1", CommandNavigate, NavigateParams{URL: "https://example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(cmd.Params))

	ok := SuccessResult(cmd.ID, NavigateData{FinalURL: "https://example.com/", Status: 200})
	assert.True(t, ok.OK())
	assert.NoError(t, ok.Err())

	var data NavigateData
	require.NoError(t, ok.Decode(&data))
	assert.Equal(t, 200, data.Status)

	failed := &Result{ID: cmd.ID, Status: ResultError, Error: "page crashed"}
	assert.False(t, failed.OK())
	assert.Equal(t, ErrorInternal, KindOf(failed.Err()))

	timeout := ErrorResult(cmd.ID, ErrorTimeout, "deadline exceeded")
	assert.Equal(t, ErrorTimeout, KindOf(timeout.Err()))
}

func TestCommandKind_IsValid(t *testing.T) {
	assert.True(t, CommandWaitForConfirmation.IsValid())
	assert.False(t, CommandKind("execute_js").IsValid())
}

func TestParsePurpose(t *testing.T) {
	assert.Equal(t, PurposeEmail, ParsePurpose("email"))
	assert.Equal(t, PurposeOther, ParsePurpose("phone"))
}

func TestFormStructure_CloneAndCount(t *testing.T) {
	s := &FormStructure{
		Fields: []FormField{
			{Selector: "#a", Purpose: PurposeName, Options: []string{"x"}},
			{Selector: "#b", Purpose: PurposeOther},
			{Selector: "#c", Purpose: PurposeOther},
		},
		Submit: &SubmitControl{Selector: "button"},
	}
	assert.Equal(t, 2, s.CountPurpose(PurposeOther))
	assert.False(t, s.Degraded())

	c := s.Clone()
	c.Fields[0].Options[0] = "y"
	c.Submit.Selector = "input"
	assert.Equal(t, "x", s.Fields[0].Options[0])
	assert.Equal(t, "button", s.Submit.Selector)

	var nilStructure *FormStructure
	assert.True(t, nilStructure.Degraded())
	assert.True(t, (&FormStructure{Error: "no form"}).Degraded())
}

func TestProduct_Attributes(t *testing.T) {
	p := &Product{Name: "Acme", URL: "https://acme.io", ContactEmail: "a@acme.io", LogoPath: "logo.png"}
	attrs := p.Attributes()
	assert.Equal(t, "Acme", attrs[PurposeName])
	assert.Equal(t, "logo.png", attrs[PurposeLogo])
	assert.Empty(t, attrs[PurposeCategory])
}
