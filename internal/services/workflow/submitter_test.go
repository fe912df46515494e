package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/formreader"
	"github.com/ternarybob/genieops/internal/services/transform"
)

func newTestSubmitter(executor *fakeExecutor) *Submitter {
	logger := arbor.NewLogger()
	interpreter := formreader.NewInterpreter(&common.FormReaderConfig{
		Strategy:              formreader.StrategyHybrid,
		MaxHTMLChars:          12000,
		MaxInputs:             40,
		ComplexFieldThreshold: 8,
		OtherRatioThreshold:   0.3,
	}, &common.LLMConfig{}, nil, logger)

	return NewSubmitter(executor, interpreter, transform.NewService(0, logger), SubmitterOptions{}, logger)
}

func directory() *models.Directory {
	return &models.Directory{ID: "dir_1", Name: "Launch List", URL: "https://dir.example.com"}
}

func TestSubmitter_HappyPath(t *testing.T) {
	executor := happyExecutor()
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{
		SubmissionID:   "sub_1",
		ScreenshotPath: "/tmp/shots/submission_sub_1.png",
	})

	require.Equal(t, models.WorkflowSuccess, result.Status, result.Message)
	assert.Equal(t, StateConfirmed, result.Stage)
	assert.Equal(t, 3, result.FieldsFilled)
	assert.Equal(t, 3, result.TotalFields)
	assert.Equal(t, formreader.StrategyDOM, result.Strategy)
	assert.Equal(t, "/tmp/shots/submission_sub_1.png", result.ScreenshotPath)
	assert.Contains(t, result.PageExcerpt, "Thank you")
	require.NotNil(t, result.Verdict)
	assert.Equal(t, "success_element", result.Verdict.Policy)

	assert.Equal(t, []models.CommandKind{
		models.CommandNavigate,
		models.CommandDetectSubmissionPage,
		models.CommandDetectCaptcha,
		models.CommandExtractFormFieldsDOM,
		models.CommandFillForm,
		models.CommandSubmitForm,
		models.CommandWaitForConfirmation,
		models.CommandGetPageContent,
		models.CommandTakeScreenshot,
		models.CommandClose,
	}, executor.kinds())

	fill := executor.params[models.CommandFillForm][0].(models.FillFormParams)
	assert.Equal(t, []models.FieldValue{
		{Selector: "#name", Value: "Acme", Purpose: models.PurposeName},
		{Selector: "#url", Value: "https://acme.io", Purpose: models.PurposeURL},
		{Selector: "#email", Value: "a@acme.io", Purpose: models.PurposeEmail},
	}, fill.Fields)

	submit := executor.params[models.CommandSubmitForm][0].(models.SubmitFormParams)
	assert.Equal(t, "#go", submit.Selector)

	// every command ran on one session, which was released
	require.Len(t, executor.sessions, 1)
	require.Len(t, executor.released, 1)
	_, pinned := executor.sessions[executor.released[0]]
	assert.True(t, pinned)
}

func TestSubmitter_CaptchaStopsBeforeFill(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandDetectCaptcha, ok(models.CaptchaData{Detected: true, Markers: []string{"iframe[src*=recaptcha]"}}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{SubmissionID: "sub_1"})

	assert.Equal(t, models.WorkflowCaptchaRequired, result.Status)
	assert.Equal(t, models.ErrorCaptchaRequired, result.ErrorKind)
	assert.Equal(t, StepCheckCaptcha, result.Stage)
	assert.Contains(t, result.Message, "CAPTCHA detected")
	assert.Zero(t, executor.count(models.CommandFillForm))
	assert.Zero(t, executor.count(models.CommandSubmitForm))
	assert.Equal(t, 1, executor.count(models.CommandClose))
}

func TestSubmitter_NavigationTimeout(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandNavigate, poolError(models.ErrorTimeout, "command navigate timed out after 30s"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{SubmissionID: "sub_1"})

	assert.Equal(t, models.WorkflowFailed, result.Status)
	assert.Equal(t, models.ErrorNavigation, result.ErrorKind)
	assert.Equal(t, StepNavigate, result.Stage)
	assert.Equal(t, []models.CommandKind{models.CommandNavigate, models.CommandClose}, executor.kinds())
	assert.Len(t, executor.released, 1)
}

func TestSubmitter_HTTPErrorIsNavigationError(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandNavigate, fails(models.ErrorHTTP, "HTTP 503"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.ErrorNavigation, result.ErrorKind)
	assert.Contains(t, result.Message, "HTTP 503")
}

func TestSubmitter_LocateFailureIsNotFatal(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandDetectSubmissionPage, fails(models.ErrorInternal, "evaluation failed"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowSuccess, result.Status)
}

func TestSubmitter_NoFieldsAfterRetry(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandExtractFormFieldsDOM, ok(&models.FormStructure{Fields: []models.FormField{}, Error: formreader.ErrNoFormElements})).
		on(models.CommandGetPageContent, ok(models.PageContentData{URL: "https://dir.example.com/about"}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowFailed, result.Status)
	assert.Equal(t, models.ErrorFormNotFound, result.ErrorKind)
	assert.Equal(t, StepAnalyzeForm, result.Stage)
	assert.Contains(t, result.Message, "no form fields found at https://dir.example.com/about")
	assert.Equal(t, 2, executor.count(models.CommandExtractFormFieldsDOM))
	assert.Zero(t, executor.count(models.CommandFillForm))
}

func TestSubmitter_RetryAnalysisSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	executor := happyExecutor().
		on(models.CommandExtractFormFieldsDOM, func(interface{}) (*models.Result, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return models.SuccessResult("cmd", &models.FormStructure{Fields: []models.FormField{}}), nil
			}
			return models.SuccessResult("cmd", signupStructure()), nil
		})
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowSuccess, result.Status)
	assert.Equal(t, 2, executor.count(models.CommandExtractFormFieldsDOM))
}

func TestSubmitter_NothingMapped(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandExtractFormFieldsDOM, ok(&models.FormStructure{Fields: []models.FormField{
			{Selector: "#q", Type: "text", Name: "zzz", Purpose: models.PurposeOther},
		}}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.ErrorMapping, result.ErrorKind)
	assert.Equal(t, StepMapData, result.Stage)
	assert.Equal(t, 1, result.TotalFields)
	assert.NotNil(t, result.FormStructure)
	assert.Zero(t, executor.count(models.CommandFillForm))
}

func TestSubmitter_NothingFilled(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandFillForm, ok(models.FillFormData{
			FilledCount: 0,
			TotalFields: 3,
			Errors:      []models.FillError{{Selector: "#name", Message: "element not found"}},
		}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.ErrorFill, result.ErrorKind)
	assert.Len(t, result.FillErrors, 1)
	assert.Zero(t, executor.count(models.CommandSubmitForm))
}

func TestSubmitter_FillTimeoutIsWorkerUnavailable(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandFillForm, poolError(models.ErrorTimeout, "command fill_form timed out"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.ErrorWorkerUnavailable, result.ErrorKind)
	assert.Equal(t, StepFillForm, result.Stage)
	assert.Equal(t, 1, executor.count(models.CommandClose))
}

func TestSubmitter_SubmitNotTriggered(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandSubmitForm, ok(models.SubmitFormData{Submitted: false}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.ErrorSubmitFailed, result.ErrorKind)
	assert.Zero(t, executor.count(models.CommandWaitForConfirmation))
}

func TestSubmitter_ErrorVerdict(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandWaitForConfirmation, ok(models.Verdict{Outcome: models.OutcomeError, Confidence: 0.8, Policy: "error_element", Message: "Email already registered"}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowFailed, result.Status)
	assert.Equal(t, models.ErrorValidation, result.ErrorKind)
	assert.Equal(t, "Email already registered", result.Message)
}

func TestSubmitter_AmbiguousVerdictIsOptimistic(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandWaitForConfirmation, ok(models.Verdict{Outcome: models.OutcomeSuccess, Confidence: 0.3, Policy: "optimistic_default"}))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowSuccess, result.Status)
	assert.Contains(t, result.Message, "(optimistic)")
}

func TestSubmitter_UnreadableConfirmationIsPending(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandWaitForConfirmation, poolError(models.ErrorTimeout, "timed out"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{})

	assert.Equal(t, models.WorkflowPending, result.Status)
	assert.Empty(t, result.ErrorKind)
	assert.Nil(t, result.Verdict)
}

func TestSubmitter_ScreenshotFailureDoesNotFailRun(t *testing.T) {
	executor := happyExecutor().
		on(models.CommandTakeScreenshot, fails(models.ErrorInternal, "capture failed"))
	submitter := newTestSubmitter(executor)

	result := submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{ScreenshotPath: "/tmp/x.png"})

	assert.Equal(t, models.WorkflowSuccess, result.Status)
	assert.Empty(t, result.ScreenshotPath)
}

func TestSubmitter_ReportsMonotonicProgress(t *testing.T) {
	executor := happyExecutor()
	submitter := newTestSubmitter(executor)

	var percents []int
	var stages []models.Stage
	submitter.Submit(context.Background(), directory(), acme(), interfaces.SubmitOptions{
		Report: func(stage models.Stage, percent int, message string) {
			percents = append(percents, percent)
			stages = append(stages, stage)
		},
	})

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, models.StageAnalyzingForm, stages[0])
	assert.Contains(t, stages, models.StageFillingForm)
	assert.Contains(t, stages, models.StageSubmitting)
	assert.Equal(t, 95, percents[len(percents)-1])
}
