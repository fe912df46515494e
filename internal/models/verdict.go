package models

// Outcome is the classified result of a heuristic decision
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomePending Outcome = "pending"
)

// Verdict is a best-effort, confidence-tagged decision. Policy names the rule
// that produced it so operators can see when a guess was made.
type Verdict struct {
	Outcome    Outcome  `json:"outcome"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals,omitempty"`
	Policy     string   `json:"policy"`
	Message    string   `json:"message,omitempty"`
}

// Ambiguous reports whether the verdict came from a fallback rather than evidence
func (v Verdict) Ambiguous() bool {
	return v.Confidence < 0.5
}

// WorkflowStatusKind is the machine status of one pipeline run
type WorkflowStatusKind string

const (
	WorkflowSuccess         WorkflowStatusKind = "success"
	WorkflowFailed          WorkflowStatusKind = "error"
	WorkflowCaptchaRequired WorkflowStatusKind = "captcha_required"
	WorkflowPending         WorkflowStatusKind = "pending"
)

// WorkflowResult is the outcome of one submission pipeline run
type WorkflowResult struct {
	Status         WorkflowStatusKind `json:"status"`
	Message        string             `json:"message"`
	ErrorKind      ErrorKind          `json:"error_kind,omitempty"`
	Stage          string             `json:"stage"`
	FormStructure  *FormStructure     `json:"form_structure,omitempty"`
	Strategy       string             `json:"strategy,omitempty"`
	FieldsFilled   int                `json:"fields_filled"`
	TotalFields    int                `json:"total_fields"`
	FillErrors     []FillError        `json:"fill_errors,omitempty"`
	Verdict        *Verdict           `json:"verdict,omitempty"`
	ScreenshotPath string             `json:"screenshot_path,omitempty"`
	PageExcerpt    string             `json:"page_excerpt,omitempty"`
	DurationMS     int64              `json:"duration_ms"`
}

// FormResult converts the run into the persisted audit payload
func (r *WorkflowResult) FormResult() *FormResult {
	return &FormResult{
		FormStructure:  r.FormStructure,
		Strategy:       r.Strategy,
		FieldsFilled:   r.FieldsFilled,
		TotalFields:    r.TotalFields,
		FillErrors:     r.FillErrors,
		ScreenshotPath: r.ScreenshotPath,
		Verdict:        r.Verdict,
		PageExcerpt:    r.PageExcerpt,
		DurationMS:     r.DurationMS,
	}
}
