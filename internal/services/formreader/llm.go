package formreader

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/classifier"
)

const systemPrompt = `You are a form analysis engine. You read HTML of a web page and describe its primary submission form as strict JSON. You never add commentary.`

const promptTemplate = `Extract the primary submission form from the HTML below.

Rules:
- Ignore hidden inputs and submit/reset/button inputs.
- Prefer ID selectors (#id), then [name="..."] selectors.
- Infer each field's purpose from its label first, then placeholder, then name.
- purpose must be one of: name, url, email, description, category, logo, other.
- For select elements list the visible option texts in "options".
- Return only JSON, no markdown, no explanations.

Keyword hints per purpose:
%s

Example input:
<form id="add"><label for="t">Tool name</label><input id="t" required><input type="url" name="site" placeholder="https://"><button>Add tool</button></form>
Example output:
{"fields":[{"selector":"#t","type":"text","name":"t","label":"Tool name","placeholder":"","required":true,"purpose":"name","options":[]},{"selector":"[name=\"site\"]","type":"url","name":"site","label":"","placeholder":"https://","required":false,"purpose":"url","options":[]}],"submit_button":{"selector":"#add button","text":"Add tool"},"form_selector":"#add"}

HTML:
%s`

// LLMStrategy asks an interpreter backend to describe the form
type LLMStrategy struct {
	backend     interfaces.FormInterpreterBackend
	logger      arbor.ILogger
	maxChars    int
	maxInputs   int
	temperature float32
}

// NewLLMStrategy creates the LLM strategy. backend may be nil.
func NewLLMStrategy(backend interfaces.FormInterpreterBackend, maxChars, maxInputs int, temperature float32, logger arbor.ILogger) *LLMStrategy {
	return &LLMStrategy{
		backend:     backend,
		logger:      logger,
		maxChars:    maxChars,
		maxInputs:   maxInputs,
		temperature: temperature,
	}
}

// Available reports whether a backend is configured
func (s *LLMStrategy) Available() bool {
	return s != nil && s.backend != nil
}

// Analyze returns the backend's interpretation. Any backend or parse failure
// is returned as an error so callers fall back to the DOM result.
func (s *LLMStrategy) Analyze(ctx context.Context, pageHTML string) (*models.FormStructure, error) {
	if !s.Available() {
		return nil, fmt.Errorf("no form interpreter backend configured")
	}

	snippet := TruncateHTML(pageHTML, s.maxChars, s.maxInputs)
	prompt := BuildPrompt(snippet)

	s.logger.Debug().
		Str("backend", s.backend.Name()).
		Int("html_chars", len(snippet)).
		Msg("Requesting LLM form analysis")

	raw, err := s.backend.Complete(ctx, prompt, systemPrompt, s.temperature)
	if err != nil {
		return nil, fmt.Errorf("form interpreter backend failed: %w", err)
	}

	structure, err := ParseResponse(raw)
	if err != nil {
		s.logger.Warn().Err(err).Int("response_chars", len(raw)).Msg("Unparseable LLM form analysis")
		return nil, err
	}
	return structure, nil
}

// BuildPrompt renders the extraction prompt around an HTML snippet
func BuildPrompt(snippet string) string {
	return fmt.Sprintf(promptTemplate, classifier.Hints(), snippet)
}

// TruncateHTML bounds the HTML sent to the backend. It keeps the first form
// subtree, else the first maxInputs fillable controls with their labels,
// else the first maxChars characters of the page.
func TruncateHTML(pageHTML string, maxChars, maxInputs int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return clip(pageHTML, maxChars)
	}
	doc.Find("script, style, noscript, svg, link, meta").Remove()

	if form := doc.Find("form").First(); form.Length() > 0 {
		if out, err := goquery.OuterHtml(form); err == nil && len(out) <= maxChars {
			return out
		}
	}

	var parts []string
	doc.Find("input, textarea, select").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if goquery.NodeName(el) == "input" && nonFillableInputs[strings.ToLower(el.AttrOr("type", "text"))] {
			return true
		}
		if id := el.AttrOr("id", ""); id != "" {
			if label := doc.Find(fmt.Sprintf(`label[for=%q]`, id)).First(); label.Length() > 0 {
				if out, err := goquery.OuterHtml(label); err == nil {
					parts = append(parts, out)
				}
			}
		}
		if out, err := goquery.OuterHtml(el); err == nil {
			parts = append(parts, out)
		}
		return len(parts) < maxInputs*2
	})
	if len(parts) > 0 {
		if btn := doc.Find(`button[type="submit"], input[type="submit"], button`).First(); btn.Length() > 0 {
			if out, err := goquery.OuterHtml(btn); err == nil {
				parts = append(parts, out)
			}
		}
		return clip(strings.Join(parts, "\n"), maxChars)
	}

	if out, err := doc.Html(); err == nil {
		return clip(out, maxChars)
	}
	return clip(pageHTML, maxChars)
}

func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	return common.CutAtRuneBoundary(s, n)
}

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

type llmField struct {
	Selector    string      `json:"selector"`
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	Placeholder string      `json:"placeholder"`
	Required    interface{} `json:"required"`
	Purpose     string      `json:"purpose"`
	Options     []string    `json:"options"`
}

type llmResponse struct {
	Fields       []llmField            `json:"fields"`
	Submit       *models.SubmitControl `json:"submit_button"`
	FormSelector string                `json:"form_selector"`
}

// ParseResponse extracts the JSON object from a backend reply, repairing
// markdown fences, surrounding prose and trailing commas
func ParseResponse(raw string) (*models.FormStructure, error) {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in interpreter response")
	}
	text = trailingCommaPattern.ReplaceAllString(text[start:end+1], "$1")

	var resp llmResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON in interpreter response: %w", err)
	}

	structure := &models.FormStructure{
		Fields:       make([]models.FormField, 0, len(resp.Fields)),
		FormSelector: resp.FormSelector,
		Source:       SourceLLM,
	}
	if resp.Submit != nil && strings.TrimSpace(resp.Submit.Selector) != "" {
		structure.Submit = resp.Submit
	}
	if structure.FormSelector == "" {
		structure.FormSelector = "form"
	}

	for _, f := range resp.Fields {
		selector := strings.TrimSpace(f.Selector)
		if selector == "" {
			continue
		}
		fieldType := strings.ToLower(strings.TrimSpace(f.Type))
		if fieldType == "" {
			fieldType = "text"
		}
		if nonFillableInputs[fieldType] {
			continue
		}
		field := models.FormField{
			Selector:    selector,
			Type:        fieldType,
			Name:        f.Name,
			Label:       f.Label,
			Placeholder: f.Placeholder,
			Required:    truthy(f.Required),
			Options:     f.Options,
		}
		field.Purpose = models.ParsePurpose(strings.ToLower(strings.TrimSpace(f.Purpose)))
		if field.Purpose == models.PurposeOther {
			field.Purpose = classifier.Classify(field.Text(), field.Type)
		}
		structure.Fields = append(structure.Fields, field)
	}

	if len(structure.Fields) == 0 {
		structure.Error = "interpreter returned no usable fields"
	}
	return structure, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || t == "1" || strings.EqualFold(t, "yes")
	case float64:
		return t != 0
	}
	return false
}
