// -----------------------------------------------------------------------
// DOM strategy - structural form extraction from rendered page HTML
// -----------------------------------------------------------------------

package formreader

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/classifier"
	"golang.org/x/net/html"
)

// SourceDOM and SourceLLM tag where a FormStructure came from
const (
	SourceDOM    = "dom"
	SourceLLM    = "llm"
	SourceHybrid = "hybrid"
)

// ErrNoFormElements is the diagnostic set when a page has nothing to fill
const ErrNoFormElements = "no form or input elements found on page"

// nonFillableInputs are input types that never carry user data
var nonFillableInputs = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

// ExtractFromHTML runs the DOM strategy over a page snapshot. The first
// <form> is used, or the whole body when the page has none.
func ExtractFromHTML(pageHTML string) *models.FormStructure {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return &models.FormStructure{
			Fields: []models.FormField{},
			Error:  fmt.Sprintf("failed to parse page html: %v", err),
			Source: SourceDOM,
		}
	}
	return ExtractFromDocument(doc)
}

// ExtractFromDocument runs the DOM strategy over a parsed document
func ExtractFromDocument(doc *goquery.Document) *models.FormStructure {
	structure := &models.FormStructure{
		Fields: []models.FormField{},
		Source: SourceDOM,
	}

	container := doc.Find("form").First()
	if container.Length() == 0 {
		container = doc.Find("body").First()
		structure.FormSelector = "body"
	} else {
		structure.FormSelector = formSelector(container)
	}
	if container.Length() == 0 {
		structure.Error = ErrNoFormElements
		return structure
	}

	container.Find("input, textarea, select").Each(func(_ int, el *goquery.Selection) {
		field, ok := fieldFromElement(doc, el)
		if !ok {
			return
		}
		structure.Fields = append(structure.Fields, field)
	})

	structure.Submit = findSubmitControl(container)

	if len(structure.Fields) == 0 {
		structure.Error = ErrNoFormElements
	}
	return structure
}

func fieldFromElement(doc *goquery.Document, el *goquery.Selection) (models.FormField, bool) {
	tag := goquery.NodeName(el)
	inputType := strings.ToLower(strings.TrimSpace(el.AttrOr("type", "")))

	switch tag {
	case "textarea":
		inputType = "textarea"
	case "select":
		inputType = "select"
	case "input":
		if inputType == "" {
			inputType = "text"
		}
		if nonFillableInputs[inputType] {
			return models.FormField{}, false
		}
	}

	id := strings.TrimSpace(el.AttrOr("id", ""))
	name := strings.TrimSpace(el.AttrOr("name", ""))

	field := models.FormField{
		Selector:    elementSelector(el, id, name),
		Type:        inputType,
		ID:          id,
		Name:        name,
		Label:       findLabel(doc, el, id),
		Placeholder: strings.TrimSpace(el.AttrOr("placeholder", "")),
		Required:    isRequired(el),
	}
	if field.Name == "" {
		field.Name = id
	}

	if tag == "select" {
		el.Find("option").Each(func(_ int, opt *goquery.Selection) {
			text := collapseSpace(opt.Text())
			if text == "" {
				text = opt.AttrOr("value", "")
			}
			if text != "" {
				field.Options = append(field.Options, text)
			}
		})
	}

	field.Purpose = classifier.Classify(field.Text(), field.Type)
	return field, true
}

func isRequired(el *goquery.Selection) bool {
	if _, ok := el.Attr("required"); ok {
		return true
	}
	return strings.EqualFold(el.AttrOr("aria-required", ""), "true")
}

// findLabel resolves the label by for= lookup, then an enclosing <label>,
// then a directly preceding free-standing <label> sibling
func findLabel(doc *goquery.Document, el *goquery.Selection, id string) string {
	if id != "" {
		if label := doc.Find(fmt.Sprintf(`label[for=%q]`, id)).First(); label.Length() > 0 {
			return collapseSpace(label.Text())
		}
	}
	if name := el.AttrOr("name", ""); name != "" {
		if label := doc.Find(fmt.Sprintf(`label[for=%q]`, name)).First(); label.Length() > 0 {
			return collapseSpace(label.Text())
		}
	}
	if label := el.Closest("label"); label.Length() > 0 {
		// strip option text and nested control values
		clone := label.Clone()
		clone.Find("select, textarea").Remove()
		return collapseSpace(clone.Text())
	}
	if prev := el.Prev(); prev.Length() > 0 && goquery.NodeName(prev) == "label" {
		// a sibling label bound elsewhere or wrapping its own control is not ours
		_, bound := prev.Attr("for")
		if !bound && prev.Find("input, select, textarea").Length() == 0 {
			return collapseSpace(prev.Text())
		}
	}
	return ""
}

// elementSelector prefers #id, then [name=...], then a positional path
// SelectorFor returns a CSS selector that resolves to el in a live page
func SelectorFor(el *goquery.Selection) string {
	return elementSelector(el, el.AttrOr("id", ""), el.AttrOr("name", ""))
}

func elementSelector(el *goquery.Selection, id, name string) string {
	if id != "" && isSimpleIdent(id) {
		return "#" + id
	}
	if id != "" {
		return fmt.Sprintf(`[id=%q]`, id)
	}
	if name != "" {
		return fmt.Sprintf(`[name=%q]`, name)
	}
	return positionalSelector(el)
}

// positionalSelector builds a tag:nth-of-type path up to the nearest
// ancestor with an id, or to html
func positionalSelector(el *goquery.Selection) string {
	var parts []string
	for node := el.Get(0); node != nil && node.Type == html.ElementNode; node = node.Parent {
		if node.Data == "html" {
			parts = append(parts, "html")
			break
		}
		if id := attr(node, "id"); id != "" && isSimpleIdent(id) && node != el.Get(0) {
			parts = append(parts, "#"+id)
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", node.Data, nthOfType(node)))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func nthOfType(node *html.Node) int {
	n := 1
	for sib := node.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == node.Data {
			n++
		}
	}
	return n
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isSimpleIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, r := range s {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

var submitCandidates = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`button`,
	`input[type="button"]`,
	`[role="button"]`,
}

func findSubmitControl(container *goquery.Selection) *models.SubmitControl {
	for _, sel := range submitCandidates {
		btn := container.Find(sel).First()
		if btn.Length() == 0 {
			continue
		}
		text := collapseSpace(btn.Text())
		if text == "" {
			text = btn.AttrOr("value", "")
		}
		id := strings.TrimSpace(btn.AttrOr("id", ""))
		name := strings.TrimSpace(btn.AttrOr("name", ""))
		selector := sel
		switch {
		case id != "" || name != "":
			selector = elementSelector(btn, id, name)
		case container.Find(sel).Length() > 1:
			selector = positionalSelector(btn)
		}
		return &models.SubmitControl{Selector: selector, Text: text}
	}
	return nil
}

func formSelector(form *goquery.Selection) string {
	if id := strings.TrimSpace(form.AttrOr("id", "")); id != "" && isSimpleIdent(id) {
		return "#" + id
	}
	if name := strings.TrimSpace(form.AttrOr("name", "")); name != "" {
		return fmt.Sprintf(`form[name=%q]`, name)
	}
	return "form"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
