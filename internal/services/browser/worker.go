// -----------------------------------------------------------------------
// Browser worker - owns one browser and one page, executes commands
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/httpclient"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/formreader"
)

// WorkerOptions configures a Worker. Settle durations give the page time to
// react after an action; tests set them to zero.
type WorkerOptions struct {
	Index           int
	Launcher        Launcher
	DownloadTimeout time.Duration
	HTTPClient      *http.Client

	NavigateSettle time.Duration
	FillSettle     time.Duration
	SubmitSettle   time.Duration
	FormWait       time.Duration
	ConfirmWait    time.Duration
}

// DefaultWorkerOptions builds worker options from browser config with a
// Chrome launcher
func DefaultWorkerOptions(index int, cfg *common.BrowserConfig, logger arbor.ILogger) WorkerOptions {
	return WorkerOptions{
		Index:           index,
		Launcher:        NewChromeLauncher(ChromeOptionsFromConfig(cfg), logger),
		DownloadTimeout: common.ParseDuration(cfg.DownloadTimeout, 30*time.Second),
		HTTPClient:      httpclient.NewClient(0, cfg.UserAgent),
		NavigateSettle:  time.Second,
		FillSettle:      500 * time.Millisecond,
		SubmitSettle:    2 * time.Second,
		FormWait:        2 * time.Second,
		ConfirmWait:     3 * time.Second,
	}
}

// Worker executes commands against a lazily launched browser. Commands run
// one at a time.
type Worker struct {
	opts   WorkerOptions
	logger arbor.ILogger

	mu         sync.Mutex
	browser    Browser
	page       Page
	currentURL string
	submitURL  string
	tempFiles  []string
}

// NewWorker creates a worker. The browser starts on the first command.
func NewWorker(opts WorkerOptions, logger arbor.ILogger) *Worker {
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.NewDefaultHTTPClient(0)
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Second
	}
	return &Worker{opts: opts, logger: logger}
}

// Execute runs one command and always returns a result carrying its ID
func (w *Worker) Execute(ctx context.Context, cmd *models.Command) (result *models.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("command_id", cmd.ID).
				Str("kind", string(cmd.Kind)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Command handler panicked")
			result = models.ErrorResult(cmd.ID, models.ErrorInternal, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	if !cmd.Kind.IsValid() {
		return models.ErrorResult(cmd.ID, models.ErrorInvalidCommand, fmt.Sprintf("unknown command kind: %s", cmd.Kind))
	}

	if cmd.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	w.logger.Debug().
		Str("command_id", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Msg("Executing command")

	data, err := w.dispatch(ctx, cmd)
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.ErrorInternal && ctx.Err() != nil {
			kind = models.ErrorTimeout
		}
		w.logger.Warn().
			Str("command_id", cmd.ID).
			Str("kind", string(cmd.Kind)).
			Str("error_kind", string(kind)).
			Err(err).
			Msg("Command failed")
		return models.ErrorResult(cmd.ID, kind, err.Error())
	}

	w.logger.Debug().
		Str("command_id", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Dur("duration", time.Since(start)).
		Msg("Command completed")
	return models.SuccessResult(cmd.ID, data)
}

func (w *Worker) dispatch(ctx context.Context, cmd *models.Command) (interface{}, error) {
	switch cmd.Kind {
	case models.CommandNavigate:
		var p models.NavigateParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.navigate(ctx, p)
	case models.CommandFillForm:
		var p models.FillFormParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.fillForm(ctx, p)
	case models.CommandSubmitForm:
		var p models.SubmitFormParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.submitForm(ctx, p)
	case models.CommandDetectCaptcha:
		return w.detectCaptcha(ctx)
	case models.CommandGetPageContent:
		var p models.PageContentParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.pageContent(ctx, p)
	case models.CommandExtractFormFieldsDOM:
		return w.extractFormFields(ctx)
	case models.CommandTakeScreenshot:
		var p models.ScreenshotParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.screenshot(ctx, p)
	case models.CommandDetectSubmissionPage:
		return w.detectSubmissionPage(ctx)
	case models.CommandWaitForConfirmation:
		var p models.ConfirmationParams
		if err := DecodeParams(cmd, &p); err != nil {
			return nil, invalidCommand(err)
		}
		return w.waitForConfirmation(ctx, p)
	case models.CommandClose:
		w.closePage()
		return map[string]bool{"closed": true}, nil
	}
	return nil, invalidCommand(fmt.Errorf("unhandled command kind: %s", cmd.Kind))
}

func invalidCommand(err error) error {
	return &models.WorkflowError{Kind: models.ErrorInvalidCommand, Message: err.Error()}
}

func pageStateError(msg string, err error) error {
	return &models.WorkflowError{Kind: models.ErrorInvalidPageState, Message: msg, Err: err}
}

// ensurePage returns a live page, launching the browser or replacing a
// stale page as needed. A replaced page is sent back to the last URL when
// restore is set.
func (w *Worker) ensurePage(ctx context.Context, restore bool) (Page, error) {
	if w.page != nil && w.page.Alive(ctx) {
		return w.page, nil
	}

	if w.page != nil {
		w.logger.Warn().Str("url", w.currentURL).Msg("Page is no longer usable, recreating")
		_ = w.page.Close()
		w.page = nil
	}

	if w.browser == nil {
		if err := w.launch(ctx); err != nil {
			return nil, err
		}
	}

	page, err := w.browser.NewPage(ctx)
	if err != nil {
		// The browser itself may have died, relaunch once
		w.logger.Warn().Err(err).Msg("Failed to open page, relaunching browser")
		_ = w.browser.Close()
		w.browser = nil
		if err := w.launch(ctx); err != nil {
			return nil, err
		}
		if page, err = w.browser.NewPage(ctx); err != nil {
			return nil, &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: "failed to open page", Err: err}
		}
	}
	w.page = page

	if restore && w.currentURL != "" {
		w.logger.Info().Str("url", w.currentURL).Msg("Restoring page to last URL")
		if _, _, err := page.Navigate(ctx, w.currentURL); err != nil {
			return nil, &models.WorkflowError{Kind: models.ErrorNavigation, Message: "failed to restore page", Err: err}
		}
		if err := sleepCtx(ctx, w.opts.NavigateSettle); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (w *Worker) launch(ctx context.Context) error {
	if w.opts.Launcher == nil {
		return &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: "no browser launcher configured"}
	}
	browser, err := w.opts.Launcher(ctx)
	if err != nil {
		return &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: "browser failed to start", Err: err}
	}
	w.browser = browser
	w.logger.Info().Int("worker", w.opts.Index).Msg("Browser launched")
	return nil
}

// snapshot parses the current page HTML
func (w *Worker) snapshot(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, pageStateError("failed to read page html", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, pageStateError("failed to parse page html", err)
	}
	return doc, nil
}

// -----------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------

func (w *Worker) navigate(ctx context.Context, p models.NavigateParams) (*models.NavigateData, error) {
	page, err := w.ensurePage(ctx, false)
	if err != nil {
		return nil, err
	}
	w.removeTempFiles()

	status, finalURL, err := page.Navigate(ctx, p.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &models.WorkflowError{Kind: models.ErrorTimeout, Message: "navigation timed out", Err: err}
		}
		return nil, &models.WorkflowError{Kind: models.ErrorNavigation, Message: fmt.Sprintf("failed to load %s", p.URL), Err: err}
	}
	if status >= 400 {
		return nil, &models.WorkflowError{Kind: models.ErrorHTTP, Message: fmt.Sprintf("HTTP %d loading %s", status, p.URL)}
	}

	if finalURL == "" {
		finalURL = p.URL
	}
	w.currentURL = finalURL
	w.submitURL = ""

	if err := sleepCtx(ctx, w.opts.NavigateSettle); err != nil {
		return nil, err
	}

	title, _ := page.Title(ctx)
	w.logger.Info().
		Str("url", p.URL).
		Str("final_url", finalURL).
		Int("status", status).
		Msg("Navigated")

	return &models.NavigateData{URL: p.URL, FinalURL: finalURL, Status: status, Title: title}, nil
}

func (w *Worker) fillForm(ctx context.Context, p models.FillFormParams) (*models.FillFormData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}

	data := &models.FillFormData{TotalFields: len(p.Fields)}
	for _, fv := range p.Fields {
		if strings.TrimSpace(fv.Value) == "" {
			continue
		}
		if err := w.fillField(ctx, page, fv); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Warn().Str("selector", fv.Selector).Err(err).Msg("Field not filled")
			data.Errors = append(data.Errors, models.FillError{Selector: fv.Selector, Message: err.Error()})
			continue
		}
		data.FilledCount++
	}

	if err := sleepCtx(ctx, w.opts.FillSettle); err != nil {
		return nil, err
	}

	w.logger.Info().
		Int("filled", data.FilledCount).
		Int("total", data.TotalFields).
		Int("errors", len(data.Errors)).
		Msg("Form filled")
	return data, nil
}

func (w *Worker) fillField(ctx context.Context, page Page, fv models.FieldValue) error {
	info, err := page.Element(ctx, fv.Selector)
	if err != nil {
		return err
	}
	if !info.Exists {
		return fmt.Errorf("element not found: %s", fv.Selector)
	}

	switch info.Kind() {
	case "file":
		dlCtx, cancel := context.WithTimeout(ctx, w.opts.DownloadTimeout)
		defer cancel()
		path, cleanup, err := resolveUpload(dlCtx, w.opts.HTTPClient, fv.Value)
		if err != nil {
			return err
		}
		if err := page.SetFiles(ctx, fv.Selector, []string{path}); err != nil {
			cleanup()
			return fmt.Errorf("failed to attach file: %w", err)
		}
		if path != fv.Value {
			// Keep the download until the page moves on, the upload is read at submit
			w.tempFiles = append(w.tempFiles, path)
		}
		return nil

	case "select":
		options, err := page.Options(ctx, fv.Selector)
		if err != nil {
			return err
		}
		value, ok := MatchOption(options, fv.Value)
		if !ok {
			return fmt.Errorf("no option of %s matches %q, available: %v", fv.Selector, fv.Value, optionTexts(options, 5))
		}
		return page.SelectOption(ctx, fv.Selector, value)

	case "checkbox", "radio":
		switch strings.ToLower(fv.Value) {
		case "true", "1", "yes", "on":
			return page.ForceClick(ctx, fv.Selector)
		}
		return nil
	}

	// Text-like controls are read back and retried once
	for attempt := 1; attempt <= 2; attempt++ {
		if err := page.SetValue(ctx, fv.Selector, fv.Value); err != nil {
			return err
		}
		actual, err := page.Value(ctx, fv.Selector)
		if err != nil {
			return err
		}
		if actual == fv.Value {
			return nil
		}
		if attempt == 2 {
			return fmt.Errorf("value not set for %s: expected %q, got %q", fv.Selector, clipText(fv.Value, 50), clipText(actual, 50))
		}
		w.logger.Debug().Str("selector", fv.Selector).Msg("Value did not stick, retrying")
	}
	return nil
}

// commonSubmitSelectors are tried after the analysed submit control
var commonSubmitSelectors = []string{
	`button[type="submit"]`,
	`form button[type="submit"]`,
	`input[type="submit"]`,
	`form button:last-child`,
	`#submitBtn`,
	`button.submit`,
}

var submitButtonWords = []string{"submit", "add", "save", "send"}

func (w *Worker) submitForm(ctx context.Context, p models.SubmitFormParams) (*models.SubmitFormData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}

	forms, err := page.Count(ctx, "form")
	if err != nil {
		return nil, pageStateError("failed to inspect page", err)
	}
	if forms == 0 {
		if err := sleepCtx(ctx, w.opts.FormWait); err != nil {
			return nil, err
		}
		forms, _ = page.Count(ctx, "form")
	}
	if forms == 0 && p.Selector == "" {
		return nil, &models.WorkflowError{Kind: models.ErrorFormNotFound, Message: "form not found on page, cannot submit"}
	}

	if current, err := page.URL(ctx); err == nil {
		w.submitURL = current
	}

	candidates := make([]string, 0, len(commonSubmitSelectors)+4)
	if p.Selector != "" {
		candidates = append(candidates, p.Selector)
	}
	candidates = append(candidates, commonSubmitSelectors...)
	if doc, err := w.snapshot(ctx, page); err == nil {
		candidates = append(candidates, textSubmitButtons(doc)...)
	}

	tried := map[string]bool{}
	for _, sel := range candidates {
		if tried[sel] {
			continue
		}
		tried[sel] = true

		n, err := page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}

		method, err := activate(ctx, page, sel)
		if err != nil {
			w.logger.Debug().Str("selector", sel).Err(err).Msg("Submit candidate failed")
			continue
		}

		w.logger.Info().Str("selector", sel).Str("method", method).Msg("Form submitted")
		if err := sleepCtx(ctx, w.opts.SubmitSettle); err != nil {
			return nil, err
		}
		return &models.SubmitFormData{Submitted: true, Method: method, Selector: sel}, nil
	}

	if forms > 0 {
		ok, err := page.SubmitForm(ctx, "form")
		if err == nil && ok {
			w.logger.Info().Msg("Form submitted directly")
			if err := sleepCtx(ctx, w.opts.SubmitSettle); err != nil {
				return nil, err
			}
			return &models.SubmitFormData{Submitted: true, Method: "form_submit", Selector: "form"}, nil
		}
	}

	return nil, &models.WorkflowError{Kind: models.ErrorSubmitFailed, Message: "no submit control could be activated"}
}

// activate clicks sel, escalating from a real click to synthetic events
func activate(ctx context.Context, page Page, sel string) (string, error) {
	err := page.Click(ctx, sel)
	if err == nil {
		return "click", nil
	}
	if ferr := page.ForceClick(ctx, sel); ferr == nil {
		return "force_click", nil
	}
	if derr := page.DispatchClick(ctx, sel); derr == nil {
		return "dispatch", nil
	}
	return "", err
}

// textSubmitButtons finds buttons whose label reads like a submit action
func textSubmitButtons(doc *goquery.Document) []string {
	var out []string
	doc.Find(`button, input[type="button"], [role="button"]`).Each(func(_ int, el *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(el.Text()))
		if text == "" {
			text = strings.ToLower(el.AttrOr("value", ""))
		}
		for _, word := range submitButtonWords {
			if strings.Contains(text, word) {
				out = append(out, formreader.SelectorFor(el))
				return
			}
		}
	})
	return out
}

func (w *Worker) detectCaptcha(ctx context.Context) (*models.CaptchaData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}
	doc, err := w.snapshot(ctx, page)
	if err != nil {
		return nil, err
	}
	text, _ := page.VisibleText(ctx)

	data := DetectCaptcha(doc, text)
	if data.Detected {
		w.logger.Warn().Strs("markers", data.Markers).Msg("Captcha detected")
	}
	return &data, nil
}

func (w *Worker) pageContent(ctx context.Context, p models.PageContentParams) (*models.PageContentData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, pageStateError("failed to read page html", err)
	}
	data := &models.PageContentData{HTML: html}
	data.URL, _ = page.URL(ctx)
	data.Title, _ = page.Title(ctx)
	if p.IncludeText {
		data.Text, _ = page.VisibleText(ctx)
	}
	return data, nil
}

func (w *Worker) extractFormFields(ctx context.Context) (*models.FormStructure, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}
	doc, err := w.snapshot(ctx, page)
	if err != nil {
		return nil, err
	}
	return formreader.ExtractFromDocument(doc), nil
}

func (w *Worker) screenshot(ctx context.Context, p models.ScreenshotParams) (*models.ScreenshotData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}

	buf, err := page.Screenshot(ctx, p.FullPage)
	if err != nil {
		return nil, pageStateError("failed to capture screenshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(p.Path, buf, 0644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot: %w", err)
	}

	w.logger.Debug().Str("path", p.Path).Int("bytes", len(buf)).Msg("Screenshot saved")
	return &models.ScreenshotData{Path: p.Path, Bytes: len(buf)}, nil
}

func (w *Worker) detectSubmissionPage(ctx context.Context) (*models.SubmissionPageData, error) {
	page, err := w.ensurePage(ctx, true)
	if err != nil {
		return nil, err
	}

	startURL, _ := page.URL(ctx)
	doc, err := w.snapshot(ctx, page)
	if err != nil {
		return nil, err
	}

	if HasUsableForm(doc) {
		return detected("form_present", startURL, 0.9, "form_with_inputs"), nil
	}

	for _, trigger := range ModalTriggers(doc) {
		if _, err := activate(ctx, page, trigger); err != nil {
			continue
		}
		if err := sleepCtx(ctx, w.opts.NavigateSettle); err != nil {
			return nil, err
		}
		after, err := w.snapshot(ctx, page)
		if err == nil && HasUsableForm(after) {
			w.logger.Info().Str("trigger", trigger).Msg("Submission form opened from trigger")
			current, _ := page.URL(ctx)
			return detected("modal_trigger", current, 0.8, "trigger:"+trigger), nil
		}
	}

	text, _ := page.VisibleText(ctx)
	signals := ScanSubmissionSignals(doc, text)
	if signals.Detected() {
		return detected("page_signals", startURL, 0.6, signals.list()...), nil
	}

	for _, link := range SubmissionLinks(doc, startURL) {
		status, finalURL, err := page.Navigate(ctx, link)
		if err != nil || status >= 400 {
			continue
		}
		if err := sleepCtx(ctx, w.opts.NavigateSettle); err != nil {
			return nil, err
		}
		after, err := w.snapshot(ctx, page)
		if err == nil && HasUsableForm(after) {
			w.currentURL = finalURL
			w.logger.Info().Str("url", finalURL).Msg("Submission page found via link")
			return detected("link_navigation", finalURL, 0.75, "link:"+link), nil
		}
	}

	// Nothing found, put the page back where the pipeline left it
	if current, _ := page.URL(ctx); startURL != "" && current != startURL {
		_, _, _ = page.Navigate(ctx, startURL)
	}

	return &models.SubmissionPageData{
		Detected: false,
		Method:   "none",
		URL:      startURL,
		Verdict: models.Verdict{
			Outcome:    models.OutcomePending,
			Confidence: 0.2,
			Signals:    signals.list(),
			Policy:     "no_submission_page",
			Message:    "No submission form or entry point found",
		},
	}, nil
}

func detected(method, url string, confidence float64, signals ...string) *models.SubmissionPageData {
	return &models.SubmissionPageData{
		Detected: true,
		Method:   method,
		URL:      url,
		Verdict: models.Verdict{
			Outcome:    models.OutcomeSuccess,
			Confidence: confidence,
			Signals:    signals,
			Policy:     method,
		},
	}
}

func (w *Worker) waitForConfirmation(ctx context.Context, p models.ConfirmationParams) (*models.Verdict, error) {
	page, err := w.ensurePage(ctx, false)
	if err != nil {
		return nil, err
	}

	wait := w.opts.ConfirmWait
	if p.TimeoutMS > 0 && time.Duration(p.TimeoutMS)*time.Millisecond < wait {
		wait = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	if err := sleepCtx(ctx, wait); err != nil {
		return nil, err
	}

	ev := ConfirmationEvidence{FieldsFilled: p.FieldsFilled, SubmitURL: p.SubmitURL}
	if ev.SubmitURL == "" {
		ev.SubmitURL = w.submitURL
	}
	for _, sel := range successElementSelectors {
		if visible, _ := page.IsVisible(ctx, sel); visible {
			ev.SuccessVisible = true
			break
		}
	}
	if !ev.SuccessVisible {
		for _, sel := range errorElementSelectors {
			if visible, _ := page.IsVisible(ctx, sel); visible {
				ev.ErrorVisible = true
				break
			}
		}
	}
	ev.Text, _ = page.VisibleText(ctx)
	ev.URL, _ = page.URL(ctx)

	verdict := JudgeConfirmation(ev)
	w.logger.Info().
		Str("outcome", string(verdict.Outcome)).
		Str("policy", verdict.Policy).
		Str("url", ev.URL).
		Msg("Confirmation judged")
	return &verdict, nil
}

// closePage closes the page but keeps the browser for the next command
func (w *Worker) closePage() {
	if w.page != nil {
		_ = w.page.Close()
		w.page = nil
	}
	w.currentURL = ""
	w.submitURL = ""
	w.removeTempFiles()
}

func (w *Worker) removeTempFiles() {
	for _, path := range w.tempFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Debug().Str("path", path).Err(err).Msg("Failed to remove temp file")
		}
	}
	w.tempFiles = nil
}

// Shutdown closes the page and the browser
func (w *Worker) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closePage()
	if w.browser != nil {
		err := w.browser.Close()
		w.browser = nil
		return err
	}
	return nil
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return common.CutAtRuneBoundary(s, n) + "..."
}
