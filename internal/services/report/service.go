package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

const messageLimit = 120

// Service renders a product's submission status as Markdown and PDF
type Service struct {
	jobs        interfaces.JobService
	directories interfaces.DirectoryStorage
	products    interfaces.ProductStorage
	pdf         interfaces.PDFService
	logger      arbor.ILogger
	now         func() time.Time
}

var _ interfaces.ReportService = (*Service)(nil)

// NewService creates a report service
func NewService(jobs interfaces.JobService, storage interfaces.StorageManager, pdf interfaces.PDFService, logger arbor.ILogger) *Service {
	return &Service{
		jobs:        jobs,
		directories: storage.DirectoryStorage(),
		products:    storage.ProductStorage(),
		pdf:         pdf,
		logger:      logger,
		now:         time.Now,
	}
}

// ProductReportPDF renders the product report as a PDF document
func (s *Service) ProductReportPDF(ctx context.Context, productID string) ([]byte, error) {
	markdown, title, err := s.ProductReportMarkdown(ctx, productID)
	if err != nil {
		return nil, err
	}
	out, err := s.pdf.ConvertMarkdownToPDF(markdown, title)
	if err != nil {
		return nil, fmt.Errorf("failed to render report for %s: %w", productID, err)
	}
	s.logger.Info().Str("product_id", productID).Int("bytes", len(out)).Msg("Product report generated")
	return out, nil
}

// ProductReportMarkdown builds the report body and its title
func (s *Service) ProductReportMarkdown(ctx context.Context, productID string) (string, string, error) {
	breakdown, err := s.jobs.JobStatus(ctx, productID)
	if err != nil {
		return "", "", err
	}
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load product: %w", err)
	}
	if product == nil {
		return "", "", fmt.Errorf("product %s: %w", productID, interfaces.ErrNotFound)
	}

	title := fmt.Sprintf("%s submission report", product.Name)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Product: **%s** (%s)\n\n", product.Name, product.URL)
	fmt.Fprintf(&b, "Generated %s\n\n", s.now().UTC().Format(time.RFC1123))

	b.WriteString("## Summary\n\n| Status | Count |\n|---|---|\n")
	for _, status := range models.AllSubmissionStatuses {
		fmt.Fprintf(&b, "| %s | %d |\n", status, breakdown.ByStatus[status])
	}
	fmt.Fprintf(&b, "| total | %d |\n\n", breakdown.Total)

	if len(breakdown.Submissions) == 0 {
		b.WriteString("No submissions yet.\n")
		return b.String(), title, nil
	}

	names := s.directoryNames(ctx)
	b.WriteString("## Submissions\n\n| Directory | Status | Retries | Error | Message | Submitted |\n|---|---|---|---|---|---|\n")
	for _, sub := range breakdown.Submissions {
		name := names[sub.DirectoryID]
		if name == "" {
			name = sub.DirectoryID
		}
		submitted := "-"
		if sub.SubmittedAt != nil {
			submitted = sub.SubmittedAt.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s | %s |\n",
			cell(name), sub.Status, sub.RetryCount, cell(string(sub.ErrorKind)), cell(sub.ErrorMessage), submitted)
	}
	return b.String(), title, nil
}

func (s *Service) directoryNames(ctx context.Context) map[string]string {
	names := make(map[string]string)
	directories, err := s.directories.ListDirectories(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list directories for report")
		return names
	}
	for _, d := range directories {
		names[d.ID] = d.Name
	}
	return names
}

// cell makes s safe inside a Markdown table cell
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "/")
	if r := []rune(s); len(r) > messageLimit {
		s = string(r[:messageLimit-3]) + "..."
	}
	if s == "" {
		return "-"
	}
	return s
}
