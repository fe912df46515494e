package browser

import (
	"context"
	"time"
)

// Page is one browser tab. Every method must be safe to call on a closed
// page and report an error instead of panicking.
type Page interface {
	// Navigate loads url and returns the HTTP status and final URL
	Navigate(ctx context.Context, url string) (int, string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// VisibleText returns the rendered text of the body
	VisibleText(ctx context.Context) (string, error)

	Count(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Element(ctx context.Context, selector string) (*ElementInfo, error)

	// SetValue clears the control, sets value and fires input and change events
	SetValue(ctx context.Context, selector, value string) error
	Value(ctx context.Context, selector string) (string, error)
	Options(ctx context.Context, selector string) ([]SelectOption, error)
	SelectOption(ctx context.Context, selector, optionValue string) error
	SetFiles(ctx context.Context, selector string, paths []string) error

	// Click performs a real pointer click on a visible element
	Click(ctx context.Context, selector string) error
	// ForceClick calls element.click() regardless of visibility
	ForceClick(ctx context.Context, selector string) error
	// DispatchClick fires a synthetic bubbling click event
	DispatchClick(ctx context.Context, selector string) error
	// SubmitForm submits the form matched by selector directly
	SubmitForm(ctx context.Context, selector string) (bool, error)

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// Alive reports whether the page handle is still usable
	Alive(ctx context.Context) bool
	Close() error
}

// Browser owns the browser process and hands out pages
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a browser. Called lazily on the first command.
type Launcher func(ctx context.Context) (Browser, error)

// ElementInfo describes a resolved element
type ElementInfo struct {
	Exists   bool   `json:"exists"`
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Multiple bool   `json:"multiple"`
}

// Kind returns the control kind used to pick fill logic
func (e *ElementInfo) Kind() string {
	switch e.Tag {
	case "select", "textarea":
		return e.Tag
	case "input":
		if e.Type == "" {
			return "text"
		}
		return e.Type
	}
	return e.Tag
}

// SelectOption is one <option> of a select control
type SelectOption struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// sleepCtx waits d or until ctx ends
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
