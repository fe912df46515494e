package interfaces

// PageExcerpter turns a rendered result page into a short Markdown excerpt
// stored with the submission for operator review
type PageExcerpter interface {
	// Excerpt converts html to Markdown, resolving links against baseURL,
	// and clips the output to the configured length. Never fails: broken
	// markup degrades to stripped text.
	Excerpt(html string, baseURL string) string
}
