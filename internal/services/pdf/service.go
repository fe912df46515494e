package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Page geometry in millimetres (A4 portrait)
const (
	marginMM     = 10.0
	contentWidth = 190.0
	pageBottom   = 297.0 - 15.0
	lineHeight   = 5.0
	baseFontSize = 9.0
	tableFont    = 8.0
	tableLine    = 4.0
	maxCellLines = 6
)

// Service renders Markdown documents to PDF
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.PDFService = (*Service)(nil)

// NewService creates a new PDF service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// ConvertMarkdownToPDF renders markdown into an A4 PDF. title is stored
// as document metadata; the visible title is the markdown's first heading.
func (s *Service) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.SetCreator("genieops", true)
	doc.SetMargins(marginMM, marginMM, marginMM)
	doc.SetAutoPageBreak(true, marginMM)
	doc.AddPage()
	doc.SetFont("Arial", "", baseFontSize)

	source := []byte(markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	root := md.Parser().Parse(text.NewReader(source))

	r := &renderer{pdf: doc, source: source}
	if err := ast.Walk(root, r.walk); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().
		Str("title", title).
		Int("markdown_len", len(markdown)).
		Int("pdf_size", buf.Len()).
		Msg("PDF rendered")
	return buf.Bytes(), nil
}

// renderer walks the goldmark AST and draws onto the fpdf document
type renderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	bold      bool
	italic    bool
	listDepth int
}

func (r *renderer) setFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont("Arial", style, baseFontSize)
}

func (r *renderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.heading(node, entering)
	case *ast.Paragraph:
		if !entering && r.listDepth == 0 {
			r.pdf.Ln(lineHeight + 2)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(lineHeight, string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() {
				r.pdf.Write(lineHeight, " ")
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.setFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", baseFontSize)
			r.pdf.Write(lineHeight, string(node.Text(r.source)))
			r.setFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listDepth++
		} else {
			r.listDepth--
			if r.listDepth == 0 {
				r.pdf.Ln(lineHeight)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(lineHeight)
			r.pdf.SetX(marginMM + float64(r.listDepth)*5)
			r.pdf.Write(lineHeight, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			y := r.pdf.GetY() + 2
			r.pdf.Line(marginMM, y, marginMM+contentWidth, y)
			r.pdf.Ln(4)
		}
	case *extast.Table:
		if entering {
			r.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *renderer) heading(n *ast.Heading, entering bool) {
	if !entering {
		r.pdf.Ln(lineHeight + 2)
		r.setFont()
		return
	}
	size := 10.0
	switch n.Level {
	case 1:
		size = 14
	case 2:
		size = 12
	case 3:
		size = 11
	}
	r.pdf.Ln(3)
	r.pdf.SetFont("Arial", "B", size)
}

// table draws a grid with wrapped cells; the first row is the header
func (r *renderer) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		var row []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			row = append(row, strings.TrimSpace(string(cell.Text(r.source))))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	cols := len(rows[0])
	widths := r.columnWidths(rows, cols)
	r.pdf.Ln(2)

	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont("Arial", style, tableFont)

		lines := make([][]string, cols)
		height := 1
		for j := 0; j < cols && j < len(row); j++ {
			lines[j] = r.pdf.SplitText(row[j], widths[j]-2)
			if len(lines[j]) > maxCellLines {
				lines[j] = append(lines[j][:maxCellLines-1], lines[j][maxCellLines-1]+"...")
			}
			if len(lines[j]) > height {
				height = len(lines[j])
			}
		}
		rowHeight := float64(height)*tableLine + 2

		if r.pdf.GetY()+rowHeight > pageBottom {
			r.pdf.AddPage()
		}
		x, y := marginMM, r.pdf.GetY()
		for j := 0; j < cols; j++ {
			border := "D"
			if i == 0 {
				r.pdf.SetFillColor(230, 230, 230)
				border = "FD"
			}
			r.pdf.Rect(x, y, widths[j], rowHeight, border)
			for k, line := range lines[j] {
				r.pdf.SetXY(x+1, y+1+float64(k)*tableLine)
				r.pdf.CellFormat(widths[j]-2, tableLine, line, "", 0, "L", false, 0, "")
			}
			x += widths[j]
		}
		r.pdf.SetXY(marginMM, y+rowHeight)
	}

	r.pdf.Ln(3)
	r.setFont()
}

// columnWidths sizes columns to content, capped at a third of the page,
// then scales the set to fit the content width
func (r *renderer) columnWidths(rows [][]string, cols int) []float64 {
	r.pdf.SetFont("Arial", "B", tableFont)
	widths := make([]float64, cols)
	for _, row := range rows {
		for j := 0; j < cols && j < len(row); j++ {
			w := r.pdf.GetStringWidth(row[j]) + 4
			if w > widths[j] {
				widths[j] = w
			}
		}
	}

	total := 0.0
	for j := range widths {
		if widths[j] < 12 {
			widths[j] = 12
		}
		if widths[j] > contentWidth/3 {
			widths[j] = contentWidth / 3
		}
		total += widths[j]
	}
	if total > contentWidth || total < contentWidth*0.9 {
		scale := contentWidth / total
		for j := range widths {
			widths[j] *= scale
		}
	}
	return widths
}
