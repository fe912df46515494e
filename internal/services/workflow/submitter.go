// -----------------------------------------------------------------------
// Submitter - one end-to-end submission run against a directory site
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/formreader"
)

// Pipeline steps, in order. A failed run reports the step it failed in.
const (
	StepNavigate     = "navigate"
	StepLocatePage   = "locate_submission_page"
	StepCheckCaptcha = "check_captcha"
	StepAnalyzeForm  = "analyze_form"
	StepMapData      = "map_data"
	StepFillForm     = "fill_form"
	StepSubmitForm   = "submit_form"
	StepConfirm      = "confirm"
	StepScreenshot   = "screenshot"
)

// StateConfirmed is the result stage of a run that reached the end
const StateConfirmed = "confirmed"

const (
	closeTimeout       = 10 * time.Second
	defaultConfirmWait = 10 * time.Second
)

// FormAnalyzer interprets the form on the session's current page
type FormAnalyzer interface {
	Analyze(ctx context.Context, page formreader.PageSource) (*formreader.Analysis, error)
}

// SubmitterOptions tunes a Submitter
type SubmitterOptions struct {
	// AnalyzeRetryWait is slept before the single re-analysis of a page with no fields
	AnalyzeRetryWait time.Duration
	// ConfirmWait bounds how long the worker waits for the result page
	ConfirmWait        time.Duration
	FullPageScreenshot bool
}

// SubmitterOptionsFromConfig builds options from the form reader config
func SubmitterOptionsFromConfig(cfg *common.FormReaderConfig) SubmitterOptions {
	return SubmitterOptions{
		AnalyzeRetryWait:   common.ParseDuration(cfg.AnalyzeRetryWait, 3*time.Second),
		ConfirmWait:        defaultConfirmWait,
		FullPageScreenshot: true,
	}
}

// Submitter drives the browser pool through one submission
type Submitter struct {
	executor  interfaces.CommandExecutor
	analyzer  FormAnalyzer
	excerpter interfaces.PageExcerpter
	opts      SubmitterOptions
	logger    arbor.ILogger
}

var _ interfaces.Submitter = (*Submitter)(nil)

// NewSubmitter creates a Submitter. excerpter may be nil.
func NewSubmitter(executor interfaces.CommandExecutor, analyzer FormAnalyzer, excerpter interfaces.PageExcerpter, opts SubmitterOptions, logger arbor.ILogger) *Submitter {
	return &Submitter{
		executor:  executor,
		analyzer:  analyzer,
		excerpter: excerpter,
		opts:      opts,
		logger:    logger,
	}
}

// Submit runs the pipeline and always returns a result. Page resources are
// released on every exit path.
func (s *Submitter) Submit(ctx context.Context, directory *models.Directory, product *models.Product, opts interfaces.SubmitOptions) *models.WorkflowResult {
	start := time.Now()
	r := &run{
		s:       s,
		session: common.NewSessionID(),
		opts:    opts,
		result:  &models.WorkflowResult{},
		logger:  s.logger.WithCorrelationId(opts.SubmissionID),
	}
	defer r.release(ctx)

	r.logger.Info().
		Str("submission_id", opts.SubmissionID).
		Str("directory", directory.Name).
		Str("url", directory.URL).
		Str("product", product.Name).
		Msg("Submission run started")

	err := r.execute(ctx, directory, product)
	r.finish(err)
	r.result.DurationMS = time.Since(start).Milliseconds()

	r.logger.Info().
		Str("submission_id", opts.SubmissionID).
		Str("status", string(r.result.Status)).
		Str("stage", r.result.Stage).
		Str("error_kind", string(r.result.ErrorKind)).
		Int("fields_filled", r.result.FieldsFilled).
		Int64("duration_ms", r.result.DurationMS).
		Msg("Submission run finished")
	return r.result
}

// run is the state of one Submit call
type run struct {
	s       *Submitter
	session string
	opts    interfaces.SubmitOptions
	result  *models.WorkflowResult
	logger  arbor.ILogger
}

func (r *run) report(stage models.Stage, percent int, message string) {
	if r.opts.Report != nil {
		r.opts.Report(stage, percent, message)
	}
}

func (r *run) execute(ctx context.Context, directory *models.Directory, product *models.Product) error {
	// navigated
	r.report(models.StageAnalyzingForm, 5, "Opening directory site")
	var nav models.NavigateData
	if err := r.call(ctx, StepNavigate, models.CommandNavigate, models.NavigateParams{URL: directory.URL}, &nav); err != nil {
		return err
	}
	r.result.Stage = "navigated"
	r.logger.Debug().Str("final_url", nav.FinalURL).Int("status", nav.Status).Str("title", nav.Title).Msg("Directory page loaded")

	// submission_page_located, never fatal
	r.report(models.StageAnalyzingForm, 15, "Looking for the submission form")
	var located models.SubmissionPageData
	if err := r.call(ctx, StepLocatePage, models.CommandDetectSubmissionPage, nil, &located); err != nil {
		if models.KindOf(err) == models.ErrorWorkerUnavailable {
			return err
		}
		r.logger.Warn().Err(err).Msg("Submission page detection failed, continuing on current page")
	} else {
		r.logger.Info().
			Bool("detected", located.Detected).
			Str("method", located.Method).
			Str("policy", located.Verdict.Policy).
			Str("url", located.URL).
			Msg("Submission page located")
	}
	r.result.Stage = "submission_page_located"

	// captcha_checked
	r.report(models.StageAnalyzingForm, 20, "Checking for CAPTCHA")
	var captcha models.CaptchaData
	if err := r.call(ctx, StepCheckCaptcha, models.CommandDetectCaptcha, nil, &captcha); err != nil {
		return err
	}
	if captcha.Detected {
		r.logger.Warn().Strs("markers", captcha.Markers).Msg("CAPTCHA detected")
		return models.NewWorkflowError(models.ErrorCaptchaRequired, StepCheckCaptcha, "CAPTCHA detected - manual intervention required", nil)
	}
	r.result.Stage = "captcha_checked"

	// form_analyzed
	r.report(models.StageAnalyzingForm, 30, "Analyzing form")
	analysis, err := r.analyze(ctx)
	if err != nil {
		return err
	}
	structure := analysis.Structure
	r.result.FormStructure = structure
	r.result.Strategy = analysis.Strategy
	r.result.TotalFields = len(structure.Fields)
	r.result.Stage = "form_analyzed"
	r.report(models.StageAnalyzingForm, 40, fmt.Sprintf("Found %d fields", len(structure.Fields)))

	// data_mapped
	mapped := MapFields(structure, product)
	if len(mapped) == 0 {
		return models.NewWorkflowError(models.ErrorMapping, StepMapData,
			fmt.Sprintf("no product data matched any of the %d form fields", len(structure.Fields)), nil)
	}
	r.result.Stage = "data_mapped"
	r.report(models.StageFillingForm, 50, fmt.Sprintf("Mapped %d fields", len(mapped)))

	// form_filled
	var filled models.FillFormData
	if err := r.call(ctx, StepFillForm, models.CommandFillForm, models.FillFormParams{Fields: mapped}, &filled); err != nil {
		return err
	}
	r.result.FieldsFilled = filled.FilledCount
	r.result.FillErrors = filled.Errors
	for _, fe := range filled.Errors {
		r.logger.Warn().Str("selector", fe.Selector).Str("error", fe.Message).Msg("Field not filled")
	}
	if filled.FilledCount == 0 {
		return models.NewWorkflowError(models.ErrorFill, StepFillForm,
			fmt.Sprintf("none of the %d mapped fields could be filled", len(mapped)), nil)
	}
	r.result.Stage = "form_filled"
	r.report(models.StageFillingForm, 65, fmt.Sprintf("Filled %d of %d fields", filled.FilledCount, filled.TotalFields))

	// form_submitted
	r.report(models.StageSubmitting, 75, "Submitting form")
	submit := models.SubmitFormParams{}
	if structure.Submit != nil {
		submit.Selector = structure.Submit.Selector
	}
	var submitted models.SubmitFormData
	if err := r.call(ctx, StepSubmitForm, models.CommandSubmitForm, submit, &submitted); err != nil {
		return err
	}
	if !submitted.Submitted {
		return models.NewWorkflowError(models.ErrorSubmitFailed, StepSubmitForm, "no submission path could be triggered", nil)
	}
	r.result.Stage = "form_submitted"
	r.logger.Info().Str("method", submitted.Method).Str("selector", submitted.Selector).Msg("Form submitted")

	// confirmed
	r.report(models.StageSubmitting, 85, "Waiting for confirmation")
	r.confirm(ctx, filled.FilledCount)
	r.result.Stage = StateConfirmed

	r.capture(ctx)
	return nil
}

// analyze runs the interpreter, retrying once after a wait when the page
// yields no fields
func (r *run) analyze(ctx context.Context) (*formreader.Analysis, error) {
	page := &sessionPage{r: r}

	analysis, err := r.s.analyzer.Analyze(ctx, page)
	if err != nil {
		return nil, r.fold(StepAnalyzeForm, models.CommandExtractFormFieldsDOM, err)
	}
	if len(analysis.Structure.Fields) > 0 {
		return analysis, nil
	}

	r.logger.Warn().
		Str("reason", analysis.Structure.Error).
		Dur("wait", r.s.opts.AnalyzeRetryWait).
		Msg("No form fields found, retrying analysis")
	if err := sleepCtx(ctx, r.s.opts.AnalyzeRetryWait); err != nil {
		return nil, models.NewWorkflowError(models.ErrorWorkerUnavailable, StepAnalyzeForm, "cancelled while waiting to re-analyze", err)
	}

	analysis, err = r.s.analyzer.Analyze(ctx, page)
	if err != nil {
		return nil, r.fold(StepAnalyzeForm, models.CommandExtractFormFieldsDOM, err)
	}
	if len(analysis.Structure.Fields) == 0 {
		reason := analysis.Structure.Error
		if reason == "" {
			reason = "no fillable fields"
		}
		var content models.PageContentData
		_ = r.call(ctx, StepAnalyzeForm, models.CommandGetPageContent, models.PageContentParams{}, &content)
		r.result.FormStructure = analysis.Structure
		return nil, models.NewWorkflowError(models.ErrorFormNotFound, StepAnalyzeForm,
			fmt.Sprintf("no form fields found at %s: %s", content.URL, reason), nil)
	}
	return analysis, nil
}

// confirm records the verdict. A failed confirmation read leaves the run
// pending since the form was already sent.
func (r *run) confirm(ctx context.Context, fieldsFilled int) {
	var verdict models.Verdict
	params := models.ConfirmationParams{
		TimeoutMS:    int(r.s.opts.ConfirmWait.Milliseconds()),
		FieldsFilled: fieldsFilled,
	}
	if err := r.call(ctx, StepConfirm, models.CommandWaitForConfirmation, params, &verdict); err != nil {
		r.logger.Warn().Err(err).Msg("Confirmation check failed")
		r.result.Status = models.WorkflowPending
		r.result.Message = "Form submitted but the result page could not be read"
		return
	}
	r.result.Verdict = &verdict

	r.logger.Info().
		Str("outcome", string(verdict.Outcome)).
		Str("policy", verdict.Policy).
		Strs("signals", verdict.Signals).
		Bool("ambiguous", verdict.Ambiguous()).
		Msg("Confirmation verdict")

	switch verdict.Outcome {
	case models.OutcomeSuccess:
		r.result.Status = models.WorkflowSuccess
		r.result.Message = "Form submitted successfully"
		if verdict.Ambiguous() {
			r.result.Message = "Form submitted, no confirmation found (optimistic)"
		}
	case models.OutcomeError:
		r.result.Status = models.WorkflowFailed
		r.result.ErrorKind = models.ErrorValidation
		r.result.Message = "Directory rejected the submission"
		if verdict.Message != "" {
			r.result.Message = verdict.Message
		}
	default:
		r.result.Status = models.WorkflowPending
		r.result.Message = "Form submitted, outcome unknown"
	}
}

// capture stores a page excerpt and screenshot. Neither affects the outcome.
func (r *run) capture(ctx context.Context) {
	if r.s.excerpter != nil {
		var content models.PageContentData
		if err := r.call(ctx, StepConfirm, models.CommandGetPageContent, models.PageContentParams{}, &content); err == nil {
			r.result.PageExcerpt = r.s.excerpter.Excerpt(content.HTML, content.URL)
		} else {
			r.logger.Debug().Err(err).Msg("Result page content unavailable")
		}
	}

	if r.opts.ScreenshotPath == "" {
		return
	}
	var shot models.ScreenshotData
	params := models.ScreenshotParams{Path: r.opts.ScreenshotPath, FullPage: r.s.opts.FullPageScreenshot}
	if err := r.call(ctx, StepScreenshot, models.CommandTakeScreenshot, params, &shot); err != nil {
		r.logger.Warn().Err(err).Str("path", r.opts.ScreenshotPath).Msg("Screenshot failed")
		return
	}
	r.result.ScreenshotPath = shot.Path
}

func (r *run) finish(err error) {
	if err == nil {
		if r.result.Status == models.WorkflowSuccess || r.result.Status == models.WorkflowPending {
			r.report(models.StageSubmitting, 95, r.result.Message)
		}
		return
	}

	kind := models.KindOf(err)
	r.result.ErrorKind = kind
	r.result.Message = err.Error()
	var we *models.WorkflowError
	if errors.As(err, &we) && we.Stage != "" {
		r.result.Stage = we.Stage
	}

	if kind == models.ErrorCaptchaRequired {
		r.result.Status = models.WorkflowCaptchaRequired
		return
	}
	r.result.Status = models.WorkflowFailed
	r.logger.Warn().Str("stage", r.result.Stage).Str("error_kind", string(kind)).Err(err).Msg("Submission run failed")
}

// release closes the page and frees the session. It runs even when ctx is
// already cancelled.
func (r *run) release(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	res, err := r.s.executor.Execute(closeCtx, models.CommandClose, nil, interfaces.ExecOptions{SessionID: r.session, Timeout: closeTimeout})
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		r.logger.Debug().Err(err).Msg("Page close failed")
	}
	r.s.executor.ReleaseSession(r.session)
}

// call executes one command on the run's session and decodes its data
func (r *run) call(ctx context.Context, step string, kind models.CommandKind, params interface{}, out interface{}) error {
	res, err := r.s.executor.Execute(ctx, kind, params, interfaces.ExecOptions{SessionID: r.session})
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		return r.fold(step, kind, err)
	}
	if out == nil {
		return nil
	}
	if err := res.Decode(out); err != nil {
		return models.NewWorkflowError(models.ErrorWorkerUnavailable, step, "malformed worker result", err)
	}
	return nil
}

// fold maps worker-local error kinds onto the pipeline taxonomy
func (r *run) fold(step string, kind models.CommandKind, err error) error {
	message := err.Error()
	var we *models.WorkflowError
	if errors.As(err, &we) && we.Message != "" {
		message = we.Message
	}

	k := models.KindOf(err)
	switch k {
	case models.ErrorTimeout:
		k = models.ErrorWorkerUnavailable
		if kind == models.CommandNavigate {
			k = models.ErrorNavigation
		}
	case models.ErrorHTTP, models.ErrorInvalidPageState:
		k = models.ErrorNavigation
	case models.ErrorInvalidCommand, models.ErrorInternal:
		k = stepKind(step)
	}
	return models.NewWorkflowError(k, step, message, nil)
}

// stepKind is the error kind used for untagged failures in a step
func stepKind(step string) models.ErrorKind {
	switch step {
	case StepNavigate, StepLocatePage:
		return models.ErrorNavigation
	case StepAnalyzeForm, StepCheckCaptcha:
		return models.ErrorAnalysis
	case StepMapData:
		return models.ErrorMapping
	case StepFillForm:
		return models.ErrorFill
	case StepSubmitForm, StepConfirm:
		return models.ErrorSubmitFailed
	}
	return models.ErrorWorkerUnavailable
}

// sessionPage exposes the run's worker page to the form interpreter
type sessionPage struct {
	r *run
}

func (p *sessionPage) ExtractFormFields(ctx context.Context) (*models.FormStructure, error) {
	var structure models.FormStructure
	if err := p.r.call(ctx, StepAnalyzeForm, models.CommandExtractFormFieldsDOM, nil, &structure); err != nil {
		return nil, err
	}
	return &structure, nil
}

func (p *sessionPage) PageHTML(ctx context.Context) (string, error) {
	var content models.PageContentData
	if err := p.r.call(ctx, StepAnalyzeForm, models.CommandGetPageContent, models.PageContentParams{}, &content); err != nil {
		return "", err
	}
	return content.HTML, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
