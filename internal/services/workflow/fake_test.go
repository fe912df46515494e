package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/storage/badger"
)

type commandHandler func(params interface{}) (*models.Result, error)

// fakeExecutor answers worker commands from per-kind handlers. Kinds
// without a handler succeed with no data.
type fakeExecutor struct {
	mu       sync.Mutex
	handlers map[models.CommandKind]commandHandler
	calls    []models.CommandKind
	params   map[models.CommandKind][]interface{}
	sessions map[string]int
	released []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		handlers: make(map[models.CommandKind]commandHandler),
		params:   make(map[models.CommandKind][]interface{}),
		sessions: make(map[string]int),
	}
}

func (f *fakeExecutor) on(kind models.CommandKind, h commandHandler) *fakeExecutor {
	f.handlers[kind] = h
	return f
}

func (f *fakeExecutor) Execute(ctx context.Context, kind models.CommandKind, params interface{}, opts interfaces.ExecOptions) (*models.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.params[kind] = append(f.params[kind], params)
	f.sessions[opts.SessionID]++
	h := f.handlers[kind]
	f.mu.Unlock()

	if h == nil {
		return models.SuccessResult("cmd", nil), nil
	}
	return h(params)
}

func (f *fakeExecutor) ReleaseSession(sessionID string) {
	f.mu.Lock()
	f.released = append(f.released, sessionID)
	f.mu.Unlock()
}

func (f *fakeExecutor) Status() *models.PoolStatus {
	return &models.PoolStatus{Size: 1, Alive: 1, Isolation: "inprocess"}
}

func (f *fakeExecutor) kinds() []models.CommandKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CommandKind(nil), f.calls...)
}

func (f *fakeExecutor) count(kind models.CommandKind) int {
	n := 0
	for _, k := range f.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func ok(data interface{}) commandHandler {
	return func(interface{}) (*models.Result, error) {
		return models.SuccessResult("cmd", data), nil
	}
}

func fails(kind models.ErrorKind, message string) commandHandler {
	return func(interface{}) (*models.Result, error) {
		return models.ErrorResult("cmd", kind, message), nil
	}
}

func poolError(kind models.ErrorKind, message string) commandHandler {
	return func(interface{}) (*models.Result, error) {
		return nil, &models.WorkflowError{Kind: kind, Message: message}
	}
}

// signupStructure is what the DOM strategy returns for a simple signup form
func signupStructure() *models.FormStructure {
	return &models.FormStructure{
		Fields: []models.FormField{
			{Selector: "#name", Type: "text", Name: "name", Purpose: models.PurposeName},
			{Selector: "#url", Type: "url", Name: "url", Purpose: models.PurposeURL},
			{Selector: "#email", Type: "email", Name: "email", Purpose: models.PurposeEmail},
		},
		Submit:       &models.SubmitControl{Selector: "#go", Text: "Submit"},
		FormSelector: "form",
		Source:       "dom",
	}
}

// happyExecutor scripts a site where every step succeeds
func happyExecutor() *fakeExecutor {
	return newFakeExecutor().
		on(models.CommandNavigate, ok(models.NavigateData{URL: "https://dir.example.com", FinalURL: "https://dir.example.com/submit", Status: 200})).
		on(models.CommandDetectSubmissionPage, ok(models.SubmissionPageData{Detected: true, Method: "form_present"})).
		on(models.CommandDetectCaptcha, ok(models.CaptchaData{})).
		on(models.CommandExtractFormFieldsDOM, ok(signupStructure())).
		on(models.CommandFillForm, func(params interface{}) (*models.Result, error) {
			p := params.(models.FillFormParams)
			return models.SuccessResult("cmd", models.FillFormData{FilledCount: len(p.Fields), TotalFields: len(p.Fields)}), nil
		}).
		on(models.CommandSubmitForm, ok(models.SubmitFormData{Submitted: true, Method: "click", Selector: "#go"})).
		on(models.CommandWaitForConfirmation, ok(models.Verdict{Outcome: models.OutcomeSuccess, Confidence: 0.9, Policy: "success_element"})).
		on(models.CommandGetPageContent, ok(models.PageContentData{URL: "https://dir.example.com/thanks", HTML: "<body><h1>Thank you</h1></body>"})).
		on(models.CommandTakeScreenshot, func(params interface{}) (*models.Result, error) {
			p := params.(models.ScreenshotParams)
			return models.SuccessResult("cmd", models.ScreenshotData{Path: p.Path, Bytes: 10}), nil
		})
}

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	store, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seed stores acme, one directory and a pending submission between them
func seed(t *testing.T, store interfaces.StorageManager, submissionID string, retryCount int) *models.Submission {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.ProductStorage().SaveProduct(ctx, acme()))
	directoryID := "dir_" + submissionID
	require.NoError(t, store.DirectoryStorage().SaveDirectory(ctx, &models.Directory{
		ID:   directoryID,
		Name: "Directory " + submissionID,
		URL:  "https://" + submissionID + ".example.com",
	}))

	sub := &models.Submission{
		ID:          submissionID,
		ProductID:   "prd_acme",
		DirectoryID: directoryID,
		Status:      models.SubmissionPending,
		RetryCount:  retryCount,
	}
	require.NoError(t, store.SubmissionStorage().CreateSubmission(ctx, sub))
	return sub
}
