package transform

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
)

// DefaultExcerptChars bounds the stored excerpt
const DefaultExcerptChars = 2000

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// noiseSelectors never carry confirmation text
var noiseSelectors = "script, style, noscript, svg, iframe, nav, footer, head"

// Service converts result pages to Markdown excerpts
type Service struct {
	maxChars int
	logger   arbor.ILogger
}

var _ interfaces.PageExcerpter = (*Service)(nil)

// NewService creates a transform service. maxChars <= 0 uses DefaultExcerptChars.
func NewService(maxChars int, logger arbor.ILogger) *Service {
	if maxChars <= 0 {
		maxChars = DefaultExcerptChars
	}
	return &Service{
		maxChars: maxChars,
		logger:   logger,
	}
}

// Excerpt converts the page body to Markdown and clips it
func (s *Service) Excerpt(html string, baseURL string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	body := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find(noiseSelectors).Remove()
		if main := doc.Find("main").First(); main.Length() > 0 {
			body, _ = goquery.OuterHtml(main)
		} else if b, err := doc.Find("body").Html(); err == nil && strings.TrimSpace(b) != "" {
			body = b
		}
	}

	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("base_url", baseURL).Msg("HTML to markdown conversion failed, using stripped text")
		return clip(stripHTMLTags(body), s.maxChars)
	}

	converted = strings.TrimSpace(blankLines.ReplaceAllString(converted, "\n\n"))
	if converted == "" {
		s.logger.Debug().Int("html_length", len(html)).Msg("Markdown conversion empty, using stripped text")
		return clip(stripHTMLTags(body), s.maxChars)
	}

	s.logger.Trace().
		Int("html_length", len(html)).
		Int("markdown_length", len(converted)).
		Msg("Page excerpt created")
	return clip(converted, s.maxChars)
}

// stripHTMLTags removes tags and decodes the common entities
func stripHTMLTags(htmlStr string) string {
	cleaned := spacePattern.ReplaceAllString(tagPattern.ReplaceAllString(htmlStr, " "), " ")
	cleaned = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(cleaned)
	return strings.TrimSpace(cleaned)
}

// clip cuts s to at most n bytes on a rune boundary
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(common.CutAtRuneBoundary(s, n)) + "..."
}
