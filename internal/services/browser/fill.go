package browser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MatchOption picks the option value to select for value. Exact value wins,
// then exact label, then a case-insensitive partial match on label or value.
func MatchOption(options []SelectOption, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	for _, opt := range options {
		if opt.Value == value {
			return opt.Value, true
		}
	}
	for _, opt := range options {
		if opt.Text == value {
			return opt.Value, true
		}
	}

	needle := strings.ToLower(value)
	for _, opt := range options {
		text := strings.ToLower(strings.TrimSpace(opt.Text))
		val := strings.ToLower(opt.Value)
		if text == "" && val == "" {
			continue
		}
		if (text != "" && (strings.Contains(text, needle) || strings.Contains(needle, text))) ||
			(val != "" && (strings.Contains(val, needle) || strings.Contains(needle, val))) {
			return opt.Value, true
		}
	}
	return "", false
}

// optionTexts returns the first n option labels for error messages
func optionTexts(options []SelectOption, n int) []string {
	out := make([]string, 0, n)
	for i, opt := range options {
		if i >= n {
			break
		}
		out = append(out, opt.Text)
	}
	return out
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".bmp":  true,
	".ico":  true,
}

// contentTypeExtensions names downloads whose URL carries no extension
var contentTypeExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/x-icon":  ".ico",
}

func invalidFileType(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("invalid file type: %s", ext)
}

// resolveUpload turns a file field value into a local image path. URLs are
// downloaded to a temp file; cleanup removes it and is never nil. Files
// outside the image allow-list are rejected.
func resolveUpload(ctx context.Context, client *http.Client, value string) (string, func(), error) {
	noop := func() {}

	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		info, err := os.Stat(value)
		if err != nil || info.IsDir() {
			return "", noop, fmt.Errorf("file not found: %s", value)
		}
		if ext := strings.ToLower(filepath.Ext(value)); !imageExtensions[ext] {
			return "", noop, invalidFileType(ext)
		}
		return value, noop, nil
	}

	u, err := url.Parse(value)
	if err != nil {
		return "", noop, fmt.Errorf("invalid file url: %w", err)
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext != "" && !imageExtensions[ext] {
		return "", noop, invalidFileType(ext)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, value, nil)
	if err != nil {
		return "", noop, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("failed to download %s: %w", value, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", noop, fmt.Errorf("failed to download %s: HTTP %d", value, resp.StatusCode)
	}

	if ext == "" {
		contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		ext = contentTypeExtensions[strings.ToLower(contentType)]
		if ext == "" {
			return "", noop, invalidFileType(contentType)
		}
	}

	tmp, err := os.CreateTemp("", "genieops-upload-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("failed to write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to write download: %w", err)
	}
	return tmp.Name(), cleanup, nil
}
