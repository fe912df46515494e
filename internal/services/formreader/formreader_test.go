package formreader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/models"
)

const contactForm = `<html><body><form><input name="full_name"><input type="email" name="email_address"><textarea name="msg"></textarea><button type="submit">Send</button></form></body></html>`

func TestExtractFromHTML_ContactForm(t *testing.T) {
	structure := ExtractFromHTML(contactForm)

	require.Empty(t, structure.Error)
	require.Len(t, structure.Fields, 3)
	assert.Equal(t, models.PurposeName, structure.Fields[0].Purpose)
	assert.Equal(t, models.PurposeEmail, structure.Fields[1].Purpose)
	assert.Equal(t, models.PurposeDescription, structure.Fields[2].Purpose)
	assert.Equal(t, `[name="full_name"]`, structure.Fields[0].Selector)

	require.NotNil(t, structure.Submit)
	assert.Equal(t, `button[type="submit"]`, structure.Submit.Selector)
	assert.Equal(t, "Send", structure.Submit.Text)
	assert.Equal(t, "form", structure.FormSelector)
}

func TestExtractFromHTML_ExcludesHiddenFields(t *testing.T) {
	page := `<form id="submit-tool">
		<input type="hidden" name="name" value="x">
		<input type="hidden" name="csrf_token">
		<label for="tool">Tool name</label><input id="tool" required>
		<input type="submit" value="Go">
	</form>`

	structure := ExtractFromHTML(page)

	require.Len(t, structure.Fields, 1)
	for _, f := range structure.Fields {
		assert.NotEqual(t, "hidden", f.Type)
	}
	assert.Equal(t, "#tool", structure.Fields[0].Selector)
	assert.Equal(t, "Tool name", structure.Fields[0].Label)
	assert.True(t, structure.Fields[0].Required)
	assert.Equal(t, "#submit-tool", structure.FormSelector)
	require.NotNil(t, structure.Submit)
	assert.Equal(t, "Go", structure.Submit.Text)
}

func TestExtractFromHTML_LabelsOptionsAndPositionalSelectors(t *testing.T) {
	page := `<body><div>
		<label>Website <input type="text" placeholder="https://"></label>
		<select name="category" aria-required="true"><option value="">Pick one</option><option>SaaS</option><option>Marketing</option></select>
	</div></body>`

	structure := ExtractFromHTML(page)

	require.Empty(t, structure.Error)
	assert.Equal(t, "body", structure.FormSelector)
	require.Len(t, structure.Fields, 2)

	site := structure.Fields[0]
	assert.Equal(t, "Website", site.Label)
	assert.Equal(t, models.PurposeURL, site.Purpose)
	assert.True(t, strings.HasSuffix(site.Selector, "input:nth-of-type(1)"), site.Selector)

	category := structure.Fields[1]
	assert.True(t, category.Required)
	assert.Equal(t, "select", category.Type)
	assert.Equal(t, []string{"Pick one", "SaaS", "Marketing"}, category.Options)
	assert.Equal(t, models.PurposeCategory, category.Purpose)
	assert.Nil(t, structure.Submit)
}

func TestExtractFromHTML_NoForm(t *testing.T) {
	structure := ExtractFromHTML(`<html><body><p>Nothing here</p></body></html>`)
	assert.Empty(t, structure.Fields)
	assert.Equal(t, ErrNoFormElements, structure.Error)
	assert.True(t, structure.Degraded())
}

func TestParseResponse_RepairsFencesProseAndCommas(t *testing.T) {
	raw := "Sure! Here is the form:\n```json\n{\"fields\": [{\"selector\": \"#name\", \"purpose\": \"name\", \"required\": \"true\",}, {\"type\": \"text\"},],\n\"submit_button\": {\"selector\": \"#go\", \"text\": \"Go\"},}\n```\nLet me know."

	structure, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, structure.Fields, 1, "fields without a selector are dropped")
	assert.Equal(t, "text", structure.Fields[0].Type)
	assert.True(t, structure.Fields[0].Required)
	assert.Equal(t, models.PurposeName, structure.Fields[0].Purpose)
	assert.Equal(t, "#go", structure.Submit.Selector)
	assert.Equal(t, SourceLLM, structure.Source)
}

func TestParseResponse_Malformed(t *testing.T) {
	_, err := ParseResponse("I could not find a form.")
	assert.Error(t, err)

	_, err = ParseResponse(`{"fields": [}`)
	assert.Error(t, err)
}

func TestTruncateHTML(t *testing.T) {
	t.Run("form subtree", func(t *testing.T) {
		page := `<html><head><script>var x = 1;</script></head><body><nav>menu</nav>` + contactForm + `</body></html>`
		out := TruncateHTML(page, 5000, 40)
		assert.True(t, strings.HasPrefix(out, "<form>"))
		assert.NotContains(t, out, "menu")
	})

	t.Run("inputs without form", func(t *testing.T) {
		page := `<body><p>` + strings.Repeat("filler ", 50) + `</p><label for="a">A</label><input id="a"><input type="hidden" name="h"><input name="b"><button>Go</button></body>`
		out := TruncateHTML(page, 5000, 40)
		assert.Contains(t, out, `id="a"`)
		assert.Contains(t, out, `name="b"`)
		assert.NotContains(t, out, `name="h"`)
		assert.NotContains(t, out, "filler")
	})

	t.Run("character budget", func(t *testing.T) {
		page := `<body><p>` + strings.Repeat("x", 5000) + `</p></body>`
		assert.Len(t, TruncateHTML(page, 1000, 40), 1000)
	})

	t.Run("budget never splits a rune", func(t *testing.T) {
		page := `<body><p>` + strings.Repeat("é", 3000) + `</p></body>`
		out := TruncateHTML(page, 1001, 40)
		assert.True(t, utf8.ValidString(out))
		assert.Len(t, out, 1000)
	})
}

func TestAssessComplexity(t *testing.T) {
	simple := ExtractFromHTML(contactForm)
	c := AssessComplexity(simple, 8, 0.3)
	assert.False(t, c.Complex)

	var b strings.Builder
	b.WriteString("<form>")
	for i := 0; i < 9; i++ {
		b.WriteString(`<input name="name">`)
	}
	b.WriteString("</form>")
	c = AssessComplexity(ExtractFromHTML(b.String()), 8, 0.3)
	assert.True(t, c.Complex)

	dated := ExtractFromHTML(`<form><input name="full_name"><input type="date" name="launch"></form>`)
	c = AssessComplexity(dated, 8, 0.9)
	assert.True(t, c.Complex)
	assert.Contains(t, c.Reasons[0], "date")
}

type fakePage struct {
	html string
}

func (p *fakePage) ExtractFormFields(ctx context.Context) (*models.FormStructure, error) {
	return ExtractFromHTML(p.html), nil
}

func (p *fakePage) PageHTML(ctx context.Context) (string, error) {
	return p.html, nil
}

type fakeBackend struct {
	reply string
	err   error
	calls int
}

func (b *fakeBackend) Complete(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error) {
	b.calls++
	return b.reply, b.err
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Close() error { return nil }

const complexForm = `<form><input name="full_name"><input name="zz1"><input name="zz2"><input name="zz3"></form>`

func newTestInterpreter(strategy string, backend *fakeBackend) *Interpreter {
	cfg := common.NewDefaultConfig()
	cfg.FormReader.Strategy = strategy
	if backend == nil {
		return NewInterpreter(&cfg.FormReader, &cfg.LLM, nil, arbor.NewLogger())
	}
	return NewInterpreter(&cfg.FormReader, &cfg.LLM, backend, arbor.NewLogger())
}

func TestInterpreter_SimpleFormSkipsLLM(t *testing.T) {
	backend := &fakeBackend{reply: `{"fields":[]}`}
	analysis, err := newTestInterpreter(StrategyHybrid, backend).Analyze(context.Background(), &fakePage{html: contactForm})

	require.NoError(t, err)
	assert.Equal(t, StrategyDOM, analysis.Strategy)
	assert.Equal(t, 0, backend.calls)
	assert.Len(t, analysis.Structure.Fields, 3)
}

func TestInterpreter_FallsBackToDOM(t *testing.T) {
	page := &fakePage{html: complexForm}
	domOnly := ExtractFromHTML(complexForm)

	for name, backend := range map[string]*fakeBackend{
		"backend error": {err: errors.New("503 overloaded")},
		"malformed":     {reply: "```json\n{\"fields\": [\n```"},
		"empty":         {reply: `{"fields": []}`},
	} {
		t.Run(name, func(t *testing.T) {
			analysis, err := newTestInterpreter(StrategyHybrid, backend).Analyze(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, 1, backend.calls)
			assert.Equal(t, StrategyDOM, analysis.Strategy)
			assert.NotEmpty(t, analysis.LLMError)
			assert.Equal(t, domOnly.Fields, analysis.Structure.Fields)
		})
	}
}

func TestInterpreter_NoBackendIsDOMOnly(t *testing.T) {
	analysis, err := newTestInterpreter(StrategyLLM, nil).Analyze(context.Background(), &fakePage{html: complexForm})
	require.NoError(t, err)
	assert.Equal(t, StrategyDOM, analysis.Strategy)
	assert.Len(t, analysis.Structure.Fields, 4)
}

func TestInterpreter_MergesLLMPurposes(t *testing.T) {
	backend := &fakeBackend{reply: `{"fields":[
		{"selector":"[name=\"full_name\"]","purpose":"url"},
		{"selector":"[name=\"zz1\"]","purpose":"url"},
		{"selector":"[name=\"zz2\"]","purpose":"other"},
		{"selector":"#extra","purpose":"email"}
	],"submit_button":{"selector":"#send","text":"Send"}}`}

	analysis, err := newTestInterpreter(StrategyHybrid, backend).Analyze(context.Background(), &fakePage{html: complexForm})
	require.NoError(t, err)

	fields := analysis.Structure.Fields
	require.Len(t, fields, 4, "LLM-only fields are not added")
	assert.Equal(t, StrategyHybrid, analysis.Strategy)
	assert.Equal(t, models.PurposeName, fields[0].Purpose, "DOM purpose wins when not other")
	assert.Equal(t, models.PurposeURL, fields[1].Purpose)
	assert.Equal(t, models.PurposeOther, fields[2].Purpose)
	require.NotNil(t, analysis.Structure.Submit)
	assert.Equal(t, "#send", analysis.Structure.Submit.Selector)
}

func TestMerge_KeepsDOMSubmit(t *testing.T) {
	dom := ExtractFromHTML(contactForm)
	llm := &models.FormStructure{Submit: &models.SubmitControl{Selector: "#other"}}

	merged, improved := Merge(dom, llm)
	assert.False(t, improved)
	assert.Equal(t, `button[type="submit"]`, merged.Submit.Selector)
}
