// -----------------------------------------------------------------------
// Chrome page - chromedp implementation of Browser and Page
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
)

// ChromeOptions configures the Chrome allocator
type ChromeOptions struct {
	Headless       bool
	UserAgent      string
	ExecPath       string
	ViewportWidth  int
	ViewportHeight int
}

// ChromeOptionsFromConfig maps browser config onto ChromeOptions
func ChromeOptionsFromConfig(cfg *common.BrowserConfig) ChromeOptions {
	return ChromeOptions{
		Headless:       cfg.Headless,
		UserAgent:      cfg.UserAgent,
		ExecPath:       cfg.ExecPath,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
	}
}

// NewChromeLauncher returns a Launcher that starts a local Chrome
func NewChromeLauncher(opts ChromeOptions, logger arbor.ILogger) Launcher {
	return func(ctx context.Context) (Browser, error) {
		return launchChrome(ctx, opts, logger)
	}
}

// ChromeBrowser is one Chrome process. Pages are tabs within it.
type ChromeBrowser struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	opts          ChromeOptions
	logger        arbor.ILogger
}

func launchChrome(ctx context.Context, opts ChromeOptions, logger arbor.ILogger) (*ChromeBrowser, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives the command that triggered the launch
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			logger.Trace().Msg(fmt.Sprintf(s, i...))
		}),
	)

	startCtx, cancel := withCallerDeadline(browserCtx, ctx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Debug().Bool("headless", opts.Headless).Msg("Chrome browser started")

	return &ChromeBrowser{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		opts:          opts,
		logger:        logger,
	}, nil
}

// NewPage opens a new tab
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	runCtx, cancel := withCallerDeadline(tabCtx, ctx, 30*time.Second)
	defer cancel()
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(b.opts.ViewportWidth), int64(b.opts.ViewportHeight)),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &ChromePage{tabCtx: tabCtx, tabCancel: tabCancel, logger: b.logger}, nil
}

// Close terminates the Chrome process
func (b *ChromeBrowser) Close() error {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

// ChromePage is a single Chrome tab
type ChromePage struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	logger    arbor.ILogger
	closeOnce sync.Once
}

// withCallerDeadline derives a chromedp context that honours the caller's
// deadline and cancellation, or fallback when the caller has no deadline
func withCallerDeadline(chromeCtx, caller context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := caller.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(chromeCtx, deadline)
	} else {
		runCtx, cancel = context.WithTimeout(chromeCtx, fallback)
	}
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return fmt.Errorf("page is closed")
	}
	runCtx, cancel := withCallerDeadline(p.tabCtx, ctx, 60*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// eval runs a JS expression and decodes its JSON result into out
func (p *ChromePage) eval(ctx context.Context, expr string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *ChromePage) Navigate(ctx context.Context, url string) (int, string, error) {
	if p.tabCtx.Err() != nil {
		return 0, "", fmt.Errorf("page is closed")
	}
	runCtx, cancel := withCallerDeadline(p.tabCtx, ctx, 60*time.Second)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, "", err
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	var final string
	if err := chromedp.Run(runCtx, chromedp.Location(&final)); err != nil {
		final = url
	}
	return status, final, nil
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *ChromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *ChromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.eval(ctx, `document.documentElement ? document.documentElement.outerHTML : ""`, &html)
	return html, err
}

func (p *ChromePage) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := p.eval(ctx, `document.body ? document.body.innerText : ""`, &text)
	return text, err
}

func (p *ChromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`(() => { try { return document.querySelectorAll(%s).length } catch (e) { return -1 } })()`, jsString(selector))
	if err := p.eval(ctx, expr, &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid selector %s", selector)
	}
	return n, nil
}

const visibleJS = `(() => {
	let el;
	try { el = document.querySelector(%s) } catch (e) { return false }
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
	return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
})()`

func (p *ChromePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := p.eval(ctx, fmt.Sprintf(visibleJS, jsString(selector)), &visible)
	return visible, err
}

const elementJS = `(() => {
	let el;
	try { el = document.querySelector(%s) } catch (e) { el = null }
	if (!el) return {exists: false, tag: "", type: "", multiple: false};
	return {exists: true, tag: el.tagName.toLowerCase(), type: (el.getAttribute('type') || '').toLowerCase(), multiple: !!el.multiple};
})()`

func (p *ChromePage) Element(ctx context.Context, selector string) (*ElementInfo, error) {
	var info ElementInfo
	if err := p.eval(ctx, fmt.Sprintf(elementJS, jsString(selector)), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// setValueJS uses the native value setter so framework-controlled inputs
// observe the change
const setValueJS = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.focus();
	const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set && (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA')) {
		desc.set.call(el, '');
		desc.set.call(el, %s);
	} else {
		el.value = %s;
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	el.blur();
	return true;
})()`

func (p *ChromePage) SetValue(ctx context.Context, selector, value string) error {
	var ok bool
	v := jsString(value)
	if err := p.eval(ctx, fmt.Sprintf(setValueJS, jsString(selector), v, v), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

func (p *ChromePage) Value(ctx context.Context, selector string) (string, error) {
	var out struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? {found: true, value: String(el.value ?? '')} : {found: false, value: ''} })()`, jsString(selector))
	if err := p.eval(ctx, expr, &out); err != nil {
		return "", err
	}
	if !out.Found {
		return "", fmt.Errorf("element not found: %s", selector)
	}
	return out.Value, nil
}

func (p *ChromePage) Options(ctx context.Context, selector string) ([]SelectOption, error) {
	var options []SelectOption
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el || !el.options) return []; return Array.from(el.options).map(o => ({value: o.value, text: (o.text || '').trim()})) })()`, jsString(selector))
	err := p.eval(ctx, expr, &options)
	return options, err
}

func (p *ChromePage) SelectOption(ctx context.Context, selector, optionValue string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return el.value === %s;
	})()`, jsString(selector), jsString(optionValue), jsString(optionValue))
	if err := p.eval(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q could not be selected", optionValue)
	}
	return nil
}

func (p *ChromePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	return p.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (p *ChromePage) Click(ctx context.Context, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.run(clickCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *ChromePage) ForceClick(ctx context.Context, selector string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) return false; el.click(); return true })()`, jsString(selector))
	if err := p.eval(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

func (p *ChromePage) DispatchClick(ctx context.Context, selector string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
		return true;
	})()`, jsString(selector))
	if err := p.eval(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

func (p *ChromePage) SubmitForm(ctx context.Context, selector string) (bool, error) {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const form = document.querySelector(%s);
		if (!form || form.tagName !== 'FORM') return false;
		if (typeof form.requestSubmit === 'function') { form.requestSubmit() } else { form.submit() }
		return true;
	})()`, jsString(selector))
	err := p.eval(ctx, expr, &ok)
	return ok, err
}

func (p *ChromePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// quality 100 keeps PNG encoding
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *ChromePage) Alive(ctx context.Context) bool {
	if p.tabCtx.Err() != nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var one int
	return p.eval(checkCtx, `1`, &one) == nil && one == 1
}

// Close closes the tab. The browser process stays up for the next page.
func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		if err := chromedp.Cancel(p.tabCtx); err != nil {
			p.logger.Debug().Err(err).Msg("Page close returned error")
		}
		p.tabCancel()
	})
	return nil
}
