package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/models"
)

const signupForm = `<html><head><title>Submit your tool</title></head><body>
<form id="submit-form">
  <input name="product_name">
  <input type="url" name="website">
  <select name="category"><option value="">Choose</option><option>SaaS</option><option>Marketing</option></select>
  <input type="file" name="logo">
  <button type="submit" id="go">Submit</button>
</form></body></html>`

func newTestWorker(t *testing.T, pages map[string]string) (*Worker, *fakeBrowser) {
	t.Helper()
	b := &fakeBrowser{site: newFakeSite(pages)}
	w := NewWorker(WorkerOptions{Index: 0, Launcher: fakeLauncher(b)}, arbor.NewLogger())
	return w, b
}

func run(t *testing.T, w *Worker, kind models.CommandKind, params interface{}) *models.Result {
	t.Helper()
	cmd, err := models.NewCommand("cmd-"+string(kind), kind, params)
	require.NoError(t, err)
	res := w.Execute(context.Background(), cmd)
	require.NotNil(t, res)
	assert.Equal(t, cmd.ID, res.ID)
	return res
}

func TestWorker_NavigateLaunchesLazily(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	assert.Equal(t, 0, b.pageCount())

	res := run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})
	require.True(t, res.OK(), res.Error)

	var data models.NavigateData
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, 200, data.Status)
	assert.Equal(t, "https://dir.example/submit", data.FinalURL)
	assert.Equal(t, "Submit your tool", data.Title)
	assert.Equal(t, 1, b.pageCount())
}

func TestWorker_NavigateErrors(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/gone": "<html></html>"})
	b.site.status["https://dir.example/gone"] = 404

	res := run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/gone"})
	assert.False(t, res.OK())
	assert.Equal(t, models.ErrorHTTP, res.ErrorKind)

	res = run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://unknown.example/"})
	assert.Equal(t, models.ErrorNavigation, res.ErrorKind)
}

func TestWorker_RejectsInvalidCommands(t *testing.T) {
	w, _ := newTestWorker(t, nil)

	res := w.Execute(context.Background(), &models.Command{ID: "c1", Kind: "dance"})
	assert.Equal(t, models.ErrorInvalidCommand, res.ErrorKind)

	res = run(t, w, models.CommandNavigate, models.NavigateParams{URL: ""})
	assert.Equal(t, models.ErrorInvalidCommand, res.ErrorKind)
}

func TestWorker_FillSelectCaseInsensitive(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	res := run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="category"]`, Value: "Saas"},
	}})
	require.True(t, res.OK(), res.Error)

	var data models.FillFormData
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, 1, data.FilledCount)
	assert.Empty(t, data.Errors)
	assert.Equal(t, "SaaS", b.lastPage().selected[`[name="category"]`])
}

func TestWorker_FillCollectsFieldErrors(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	page := b.lastPage()
	page.unstick[`[name="product_name"]`] = 1
	page.unstick[`[name="website"]`] = 2

	res := run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="product_name"]`, Value: "Acme"},
		{Selector: `[name="website"]`, Value: "https://acme.io"},
		{Selector: `#missing`, Value: "x"},
		{Selector: `[name="category"]`, Value: "Finance"},
		{Selector: `[name="logo"]`, Value: ""},
	}})
	require.True(t, res.OK(), "per-field errors never fail the command")

	var data models.FillFormData
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, 5, data.TotalFields)
	assert.Equal(t, 1, data.FilledCount, "product_name sticks on the retry")
	assert.Equal(t, "Acme", page.values[`[name="product_name"]`])

	var failed []string
	for _, e := range data.Errors {
		failed = append(failed, e.Selector)
	}
	assert.ElementsMatch(t, []string{`[name="website"]`, `#missing`, `[name="category"]`}, failed)
}

func TestWorker_FillAttachesLocalFile(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	logo := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("png"), 0644))

	res := run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="logo"]`, Value: logo},
	}})
	require.True(t, res.OK())
	assert.Equal(t, []string{logo}, b.lastPage().files[`[name="logo"]`])
}

func TestWorker_FillRejectsNonImageLocalFile(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	secrets := filepath.Join(t.TempDir(), "secrets.txt")
	require.NoError(t, os.WriteFile(secrets, []byte("token"), 0644))

	res := run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="logo"]`, Value: secrets},
	}})
	require.True(t, res.OK())

	var data models.FillFormData
	require.NoError(t, res.Decode(&data))
	assert.Zero(t, data.FilledCount)
	require.Len(t, data.Errors, 1)
	assert.Contains(t, data.Errors[0].Message, "invalid file type: .txt")
	assert.Empty(t, b.lastPage().files[`[name="logo"]`])
}

func TestWorker_FillDownloadsRemoteLogo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/avatar":
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			_, _ = w.Write([]byte("jpg-bytes"))
		case "/readme":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	pages := map[string]string{"https://dir.example/submit": signupForm, "https://dir.example/next": signupForm}
	b := &fakeBrowser{site: newFakeSite(pages)}
	w := NewWorker(WorkerOptions{Index: 0, Launcher: fakeLauncher(b), HTTPClient: server.Client()}, arbor.NewLogger())
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	res := run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="logo"]`, Value: server.URL + "/logo.png"},
	}})
	require.True(t, res.OK())
	attached := b.lastPage().files[`[name="logo"]`]
	require.Len(t, attached, 1)
	assert.Equal(t, ".png", filepath.Ext(attached[0]))
	content, err := os.ReadFile(attached[0])
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(content))

	// The download lives until the page moves on
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/next"})
	_, err = os.Stat(attached[0])
	assert.True(t, os.IsNotExist(err))

	// No extension in the URL: the content type decides
	res = run(t, w, models.CommandFillForm, models.FillFormParams{Fields: []models.FieldValue{
		{Selector: `[name="logo"]`, Value: server.URL + "/avatar"},
	}})
	require.True(t, res.OK())
	attached = b.lastPage().files[`[name="logo"]`]
	require.Len(t, attached, 1)
	assert.Equal(t, ".jpg", filepath.Ext(attached[0]))

	run(t, w, models.CommandClose, nil)
	_, err = os.Stat(attached[0])
	assert.True(t, os.IsNotExist(err))
}

func TestResolveUpload_RejectsNonImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"executable url", server.URL + "/payload.exe", "invalid file type: .exe"},
		{"text content type", server.URL + "/readme", "invalid file type: text/plain"},
		{"missing local file", filepath.Join(t.TempDir(), "logo.png"), "file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, cleanup, err := resolveUpload(context.Background(), server.Client(), tt.value)
			require.NotNil(t, cleanup)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, path)
		})
	}
}

func TestWorker_RecreatesStalePage(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})
	b.lastPage().kill()

	res := run(t, w, models.CommandExtractFormFieldsDOM, nil)
	require.True(t, res.OK(), res.Error)

	var form models.FormStructure
	require.NoError(t, res.Decode(&form))
	assert.Len(t, form.Fields, 4)
	assert.Equal(t, 2, b.pageCount())
	assert.Equal(t, []string{"https://dir.example/submit"}, b.lastPage().navigations)
}

func TestWorker_SubmitEscalatesClickMethods(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})
	b.lastPage().clickErr["click:#go"] = errors.New("node not visible")

	res := run(t, w, models.CommandSubmitForm, models.SubmitFormParams{Selector: "#go"})
	require.True(t, res.OK(), res.Error)

	var data models.SubmitFormData
	require.NoError(t, res.Decode(&data))
	assert.True(t, data.Submitted)
	assert.Equal(t, "force_click", data.Method)
	assert.Equal(t, "#go", data.Selector)
}

func TestWorker_SubmitFallsBackToFormSubmit(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{
		"https://dir.example/plain": `<form><input name="a"><input name="b"></form>`,
	})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/plain"})

	res := run(t, w, models.CommandSubmitForm, models.SubmitFormParams{})
	require.True(t, res.OK(), res.Error)

	var data models.SubmitFormData
	require.NoError(t, res.Decode(&data))
	assert.Equal(t, "form_submit", data.Method)
	assert.True(t, b.lastPage().submitted)
}

func TestWorker_SubmitWithoutFormFails(t *testing.T) {
	w, _ := newTestWorker(t, map[string]string{"https://dir.example/": `<p>nothing</p>`})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/"})

	res := run(t, w, models.CommandSubmitForm, models.SubmitFormParams{})
	assert.Equal(t, models.ErrorFormNotFound, res.ErrorKind)
}

func TestWorker_DetectCaptcha(t *testing.T) {
	w, _ := newTestWorker(t, map[string]string{
		"https://dir.example/captcha": `<form><input name="a"><div class="g-recaptcha" data-sitekey="k"></div></form>`,
	})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/captcha"})

	res := run(t, w, models.CommandDetectCaptcha, nil)
	var data models.CaptchaData
	require.NoError(t, res.Decode(&data))
	assert.True(t, data.Detected)
	assert.Contains(t, data.Markers, ".g-recaptcha")
}

func TestWorker_DetectSubmissionPageFromSignals(t *testing.T) {
	w, _ := newTestWorker(t, map[string]string{
		"https://dir.example/":            `<body><nav><a href="/about">About</a><a href="/add-listing">Add Listing</a></nav><p>Directory of tools</p></body>`,
		"https://dir.example/add-listing": signupForm,
	})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/"})

	res := run(t, w, models.CommandDetectSubmissionPage, nil)
	var data models.SubmissionPageData
	require.NoError(t, res.Decode(&data))
	assert.True(t, data.Detected)
	assert.Equal(t, "page_signals", data.Method)
}

func TestWorker_DetectSubmissionPageLinkNavigation(t *testing.T) {
	w, _ := newTestWorker(t, map[string]string{
		"https://dir.example/":                  `<body><a href="/tools/new-listing">Start here</a><p>Browse</p></body>`,
		"https://dir.example/tools/new-listing": signupForm,
	})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/"})

	res := run(t, w, models.CommandDetectSubmissionPage, nil)
	var data models.SubmissionPageData
	require.NoError(t, res.Decode(&data))
	assert.True(t, data.Detected)
	assert.Equal(t, "link_navigation", data.Method)
	assert.Equal(t, "https://dir.example/tools/new-listing", data.URL)
}

func TestWorker_WaitForConfirmation(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{
		"https://dir.example/submit": signupForm,
	})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})
	b.lastPage().visible["#successMessage"] = true

	res := run(t, w, models.CommandWaitForConfirmation, models.ConfirmationParams{FieldsFilled: 2})
	var verdict models.Verdict
	require.NoError(t, res.Decode(&verdict))
	assert.Equal(t, models.OutcomeSuccess, verdict.Outcome)
	assert.Equal(t, PolicySuccessElement, verdict.Policy)
}

func TestWorker_TakeScreenshotWritesFile(t *testing.T) {
	w, _ := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	path := filepath.Join(t.TempDir(), "shots", "submission_1.png")
	res := run(t, w, models.CommandTakeScreenshot, models.ScreenshotParams{Path: path, FullPage: true})
	require.True(t, res.OK(), res.Error)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, written)
}

func TestWorker_CloseKeepsBrowser(t *testing.T) {
	w, b := newTestWorker(t, map[string]string{"https://dir.example/submit": signupForm})
	run(t, w, models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/submit"})

	res := run(t, w, models.CommandClose, nil)
	require.True(t, res.OK())
	assert.True(t, b.lastPage().closed)
	assert.False(t, b.closed)

	require.NoError(t, w.Shutdown())
	assert.True(t, b.closed)
}

func TestClipText_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", clipText("short", 10))
	assert.Equal(t, "ab...", clipText("abcdef", 2))
	assert.Equal(t, "na...", clipText("naïve café", 3))
}
