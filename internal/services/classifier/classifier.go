// -----------------------------------------------------------------------
// Field purpose classifier - rule-based keyword scoring for form fields
// -----------------------------------------------------------------------

package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/genieops/internal/models"
)

type rule struct {
	purpose  models.Purpose
	patterns []*regexp.Regexp
	// hints is the human readable rendering used in LLM prompts
	hints []string
}

// keywordTable is scored in order; earlier purposes win ties
var keywordTable = []rule{
	newRule(models.PurposeName,
		`\bname\b`, `\btitle\b`, `\bproduct\b`, `\bapp\b`, `\btool\b`,
		`\bcompany\b`, `\bbusiness\b`, `\bbrand\b`, `\bstartup\b`,
		`product.?name`, `app.?name`, `company.?name`, `business.?name`,
		`tool.?name`, `service.?name`, `project.?name`),
	newRule(models.PurposeURL,
		`\burl\b`, `\bwebsite\b`, `\bsite\b`, `\blink\b`, `\bhomepage\b`,
		`\bdomain\b`, `\bweb\b`, `web.?site`, `home.?page`, `site.?url`,
		`website.?url`, `landing.?page`),
	newRule(models.PurposeEmail,
		`\bemail\b`, `\be-mail\b`, `\bmail\b`, `\bcontact\b`,
		`contact.?email`, `email.?address`, `your.?email`),
	newRule(models.PurposeDescription,
		`\bdescription\b`, `\bdesc\b`, `\babout\b`, `\bdetails\b`,
		`\binfo\b`, `\binformation\b`, `\bsummary\b`, `\bpitch\b`,
		`\boverview\b`, `tell.?us`, `describe`, `what.?does`),
	newRule(models.PurposeCategory,
		`\bcategory\b`, `\bcategories\b`, `\btag\b`, `\btags\b`,
		`\btype\b`, `\bindustry\b`, `\bniche\b`, `\bsector\b`,
		`select.?category`, `choose.?category`),
	newRule(models.PurposeLogo,
		`\blogo\b`, `\bimage\b`, `\bicon\b`, `\bpicture\b`,
		`\bphoto\b`, `\bavatar\b`, `\bthumbnail\b`,
		`upload.?logo`, `upload.?image`, `company.?logo`),
}

var hintCleaner = strings.NewReplacer(`\b`, "", `.?`, " ", `\`, "")

func newRule(purpose models.Purpose, patterns ...string) rule {
	r := rule{purpose: purpose}
	for _, p := range patterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
		r.hints = append(r.hints, hintCleaner.Replace(p))
	}
	return r
}

// separators are turned into spaces so "full_name" still hits \bname\b.
// A pattern with no hit on the normalised text is retried on the raw text,
// which keeps "e-mail" matching.
var separators = strings.NewReplacer("_", " ", "-", " ", "[", " ", "]", " ", ".", " ")

// Classify returns the purpose of a field from its descriptive text and
// declared input type. It is pure and deterministic.
func Classify(fieldText, inputType string) models.Purpose {
	switch strings.ToLower(inputType) {
	case "email":
		return models.PurposeEmail
	case "url":
		return models.PurposeURL
	case "file":
		return models.PurposeLogo
	}

	raw := strings.ToLower(fieldText)
	normalized := separators.Replace(raw)

	best := models.PurposeOther
	bestScore := 0
	for _, r := range keywordTable {
		score := 0
		for _, p := range r.patterns {
			n := len(p.FindAllStringIndex(normalized, -1))
			if n == 0 {
				n = len(p.FindAllStringIndex(raw, -1))
			}
			score += n
		}
		if score > bestScore {
			best = r.purpose
			bestScore = score
		}
	}

	if bestScore == 0 && strings.EqualFold(inputType, "textarea") {
		return models.PurposeDescription
	}
	return best
}

// ClassifyFields assigns a purpose to every field in place and returns the slice
func ClassifyFields(fields []models.FormField) []models.FormField {
	for i := range fields {
		fields[i].Purpose = Classify(fields[i].Text(), fields[i].Type)
	}
	return fields
}

// Hints renders the keyword table as prompt text, five keywords per purpose
func Hints() string {
	var sb strings.Builder
	for i, r := range keywordTable {
		n := len(r.hints)
		if n > 5 {
			n = 5
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("  - %s: %s", r.purpose, strings.Join(r.hints[:n], ", ")))
	}
	return sb.String()
}

// KeywordScore reports how many keywords of purpose p match text. Used by the
// mapping fallback when a field was classified other.
func KeywordScore(text string, p models.Purpose) int {
	normalized := separators.Replace(strings.ToLower(text))
	for _, r := range keywordTable {
		if r.purpose != p {
			continue
		}
		score := 0
		for _, pattern := range r.patterns {
			score += len(pattern.FindAllStringIndex(normalized, -1))
		}
		return score
	}
	return 0
}
