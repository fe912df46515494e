// -----------------------------------------------------------------------
// Page heuristics - captcha, submission page and confirmation detection
// -----------------------------------------------------------------------

package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/formreader"
)

// Confirmation policies reported on verdicts
const (
	PolicySuccessElement       = "success_element"
	PolicyErrorElement         = "error_element"
	PolicySuccessKeyword       = "success_keyword"
	PolicyErrorKeyword         = "error_keyword"
	PolicyURLChanged           = "url_changed"
	PolicyOptimisticWhenFilled = "optimistic_when_filled"
	PolicyNoEvidence           = "no_evidence"
)

var captchaSelectors = []string{
	"iframe[src*='recaptcha']",
	"iframe[src*='hcaptcha']",
	".g-recaptcha",
	"#captcha",
	"[data-sitekey]",
}

var captchaPhrases = []string{"captcha", "verify you are human"}

// DetectCaptcha scans a page snapshot and its visible text for captcha widgets
func DetectCaptcha(doc *goquery.Document, visibleText string) models.CaptchaData {
	var markers []string
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			markers = append(markers, sel)
		}
	}

	doc.Find("img[alt]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(img.AttrOr("alt", "")), "captcha") {
			markers = append(markers, "img[alt*=captcha]")
			return false
		}
		return true
	})

	text := strings.ToLower(visibleText)
	for _, phrase := range captchaPhrases {
		if strings.Contains(text, phrase) {
			markers = append(markers, "text:"+phrase)
		}
	}

	return models.CaptchaData{Detected: len(markers) > 0, Markers: markers}
}

var submissionKeywords = []string{
	"submit",
	"add listing",
	"add your",
	"submit your",
	"add product",
	"submit product",
	"new listing",
	"list your",
	"submit app",
	"add service",
	"submit website",
	"add business",
	"submit company",
	"register",
	"sign up",
}

var submissionHrefHints = []string{
	"submit",
	"add-listing",
	"add-product",
	"add-your",
	"list-your",
	"new-listing",
}

// maxLinkCandidates bounds how many submission links are followed
const maxLinkCandidates = 5

func matchKeyword(text string, keywords []string) string {
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

// fillableCount counts controls a user could type into
func fillableCount(s *goquery.Selection) int {
	n := 0
	s.Find("input, textarea, select").Each(func(_ int, el *goquery.Selection) {
		if goquery.NodeName(el) == "input" {
			switch strings.ToLower(el.AttrOr("type", "text")) {
			case "hidden", "submit", "button", "reset", "image":
				return
			}
		}
		n++
	})
	return n
}

// HasUsableForm reports whether the snapshot holds a form with at least two
// fillable controls
func HasUsableForm(doc *goquery.Document) bool {
	usable := false
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		usable = fillableCount(form) >= 2
		return !usable
	})
	return usable
}

// SubmissionSignals are the weak page-level hints that a submission flow exists
type SubmissionSignals struct {
	Forms         int
	Inputs        int
	SubmitButtons int
	Keyword       string
}

// Detected reports whether any signal is strong enough
func (s SubmissionSignals) Detected() bool {
	return (s.Forms > 0 && s.Inputs >= 2) || s.Inputs > 3 || s.SubmitButtons > 0 || s.Keyword != ""
}

func (s SubmissionSignals) list() []string {
	var out []string
	if s.Forms > 0 {
		out = append(out, fmt.Sprintf("forms=%d", s.Forms))
	}
	if s.Inputs > 0 {
		out = append(out, fmt.Sprintf("inputs=%d", s.Inputs))
	}
	if s.SubmitButtons > 0 {
		out = append(out, fmt.Sprintf("submit_buttons=%d", s.SubmitButtons))
	}
	if s.Keyword != "" {
		out = append(out, "keyword:"+s.Keyword)
	}
	return out
}

// ScanSubmissionSignals collects page-level submission hints
func ScanSubmissionSignals(doc *goquery.Document, visibleText string) SubmissionSignals {
	return SubmissionSignals{
		Forms:         doc.Find("form").Length(),
		Inputs:        fillableCount(doc.Selection),
		SubmitButtons: doc.Find(`button[type="submit"], input[type="submit"]`).Length(),
		Keyword:       matchKeyword(visibleText, submissionKeywords),
	}
}

// ModalTriggers returns selectors of controls that likely open a submission
// form in a dialog. Controls inside an existing form are ignored.
func ModalTriggers(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var out []string
	add := func(el *goquery.Selection) {
		if el.Closest("form").Length() > 0 {
			return
		}
		sel := formreader.SelectorFor(el)
		if sel != "" && !seen[sel] {
			seen[sel] = true
			out = append(out, sel)
		}
	}

	doc.Find(`[data-toggle="modal"], [data-bs-toggle="modal"], [aria-haspopup="dialog"]`).Each(func(_ int, el *goquery.Selection) {
		add(el)
	})
	doc.Find(`button, a[href="#"], a[href^="#"]`).Each(func(_ int, el *goquery.Selection) {
		if matchKeyword(el.Text(), submissionKeywords) != "" {
			add(el)
		}
	})
	return out
}

// SubmissionLinks returns absolute URLs of links that likely lead to a
// submission page, at most maxLinkCandidates
func SubmissionLinks(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	var out []string

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") || strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return true
		}
		if matchKeyword(a.Text(), submissionKeywords) == "" && matchKeyword(href, submissionHrefHints) == "" {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return true
		}
		abs := ref.String()
		if abs == pageURL || seen[abs] {
			return true
		}
		seen[abs] = true
		out = append(out, abs)
		return len(out) < maxLinkCandidates
	})
	return out
}

// Confirmation evidence selectors, checked one by one for visibility
var successElementSelectors = []string{
	"#successMessage",
	".success",
	"[class*='success']",
	"#submission-success",
	"[id*='success']",
	".alert-success",
}

var errorElementSelectors = []string{
	"#errorMessage",
	".error",
	"[class*='error']",
	".alert-danger",
	".alert-error",
}

var successKeywords = []string{
	"thank you",
	"success",
	"submitted",
	"received",
	"confirmation",
	"approved",
	"pending review",
}

var errorKeywords = []string{
	"error",
	"failed",
	"invalid",
	"required",
	"captcha",
	"verification",
}

// ConfirmationEvidence is what the worker observed after submitting
type ConfirmationEvidence struct {
	SuccessVisible bool
	ErrorVisible   bool
	Text           string
	URL            string
	SubmitURL      string
	FieldsFilled   int
}

// JudgeConfirmation turns post-submit evidence into a verdict. Explicit
// elements beat keywords, keywords beat navigation. With no evidence the
// outcome is success at low confidence when any field was filled.
func JudgeConfirmation(ev ConfirmationEvidence) models.Verdict {
	if ev.SuccessVisible {
		return models.Verdict{
			Outcome:    models.OutcomeSuccess,
			Confidence: 0.9,
			Signals:    []string{"success_element"},
			Policy:     PolicySuccessElement,
			Message:    "Success message displayed",
		}
	}
	if ev.ErrorVisible {
		return models.Verdict{
			Outcome:    models.OutcomeError,
			Confidence: 0.85,
			Signals:    []string{"error_element"},
			Policy:     PolicyErrorElement,
			Message:    "Error message displayed",
		}
	}

	if kw := matchKeyword(ev.Text, successKeywords); kw != "" {
		return models.Verdict{
			Outcome:    models.OutcomeSuccess,
			Confidence: 0.7,
			Signals:    []string{"keyword:" + kw},
			Policy:     PolicySuccessKeyword,
			Message:    fmt.Sprintf("Submission successful (detected: %s)", kw),
		}
	}
	if kw := matchKeyword(ev.Text, errorKeywords); kw != "" {
		return models.Verdict{
			Outcome:    models.OutcomeError,
			Confidence: 0.6,
			Signals:    []string{"keyword:" + kw},
			Policy:     PolicyErrorKeyword,
			Message:    fmt.Sprintf("Submission may have failed (detected: %s)", kw),
		}
	}

	if ev.SubmitURL != "" && ev.URL != "" && normalizeURL(ev.URL) != normalizeURL(ev.SubmitURL) {
		return models.Verdict{
			Outcome:    models.OutcomeSuccess,
			Confidence: 0.55,
			Signals:    []string{"url_changed"},
			Policy:     PolicyURLChanged,
			Message:    fmt.Sprintf("URL changed from %s to %s", ev.SubmitURL, ev.URL),
		}
	}

	if ev.FieldsFilled > 0 {
		return models.Verdict{
			Outcome:    models.OutcomeSuccess,
			Confidence: 0.3,
			Signals:    []string{fmt.Sprintf("fields_filled=%d", ev.FieldsFilled)},
			Policy:     PolicyOptimisticWhenFilled,
			Message:    "Submission completed (status unclear but form was submitted)",
		}
	}
	return models.Verdict{
		Outcome:    models.OutcomePending,
		Confidence: 0.1,
		Policy:     PolicyNoEvidence,
		Message:    "Submission status unclear",
	}
}

// normalizeURL drops the fragment and trailing slash
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}
