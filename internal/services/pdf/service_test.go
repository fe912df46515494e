package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestConvertMarkdownToPDF(t *testing.T) {
	service := NewService(arbor.NewLogger())

	tests := []struct {
		name     string
		markdown string
	}{
		{name: "empty", markdown: ""},
		{name: "headings and lists", markdown: "# Acme\n\n## Summary\n\n- pending: 2\n- failed: 1\n\n---\n\nDone."},
		{name: "emphasis and code", markdown: "Status **failed** after *3* attempts, run `retry-failed` to requeue."},
		{name: "table", markdown: "| Directory | Status |\n|---|---|\n| Launch List | submitted |\n| Tool Hub | failed |\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := service.ConvertMarkdownToPDF(tt.markdown, "Submission report")
			require.NoError(t, err)
			require.Greater(t, len(out), 4)
			assert.Equal(t, "%PDF", string(out[:4]))
		})
	}
}

func TestConvertMarkdownToPDF_LongTablePaginates(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var b strings.Builder
	b.WriteString("| Directory | Status | Message |\n|---|---|---|\n")
	for i := 0; i < 120; i++ {
		b.WriteString("| directory with a fairly long name | failed | navigate: HTTP 503 from upstream while loading the submission page |\n")
	}

	short, err := service.ConvertMarkdownToPDF("| A | B |\n|---|---|\n| 1 | 2 |\n", "short")
	require.NoError(t, err)
	long, err := service.ConvertMarkdownToPDF(b.String(), "long")
	require.NoError(t, err)

	assert.Greater(t, len(long), len(short))
}
