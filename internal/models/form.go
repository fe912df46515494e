package models

// Purpose is the semantic role of a form field
type Purpose string

const (
	PurposeName        Purpose = "name"
	PurposeURL         Purpose = "url"
	PurposeEmail       Purpose = "email"
	PurposeDescription Purpose = "description"
	PurposeCategory    Purpose = "category"
	PurposeLogo        Purpose = "logo"
	PurposeOther       Purpose = "other"
)

// KnownPurposes lists the classifiable purposes in table order. The order
// breaks ties when two purposes score equally.
var KnownPurposes = []Purpose{
	PurposeName,
	PurposeURL,
	PurposeEmail,
	PurposeDescription,
	PurposeCategory,
	PurposeLogo,
}

// ParsePurpose maps free text onto a Purpose, defaulting to other
func ParsePurpose(s string) Purpose {
	for _, p := range KnownPurposes {
		if string(p) == s {
			return p
		}
	}
	return PurposeOther
}

// FormField is one interpreted, user-fillable control
type FormField struct {
	Selector    string   `json:"selector" validate:"required"`
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"required"`
	Purpose     Purpose  `json:"purpose"`
	Options     []string `json:"options,omitempty"`
}

// Text returns the concatenated descriptive text used for classification
func (f *FormField) Text() string {
	return f.Name + " " + f.Label + " " + f.Placeholder + " " + f.ID
}

// SubmitControl describes the element that submits the form
type SubmitControl struct {
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

// FormStructure is the normalized description of a page's primary form.
// When Error is set the field list is not authoritative.
type FormStructure struct {
	Fields       []FormField    `json:"fields"`
	Submit       *SubmitControl `json:"submit_button,omitempty"`
	FormSelector string         `json:"form_selector,omitempty"`
	Error        string         `json:"error,omitempty"`
	Source       string         `json:"source,omitempty"`
}

// Degraded reports whether callers must distrust the field list
func (s *FormStructure) Degraded() bool {
	return s == nil || s.Error != ""
}

// CountPurpose returns how many fields carry purpose p
func (s *FormStructure) CountPurpose(p Purpose) int {
	n := 0
	for _, f := range s.Fields {
		if f.Purpose == p {
			n++
		}
	}
	return n
}

// Clone returns a deep copy
func (s *FormStructure) Clone() *FormStructure {
	if s == nil {
		return nil
	}
	out := *s
	out.Fields = make([]FormField, len(s.Fields))
	for i, f := range s.Fields {
		f.Options = append([]string(nil), f.Options...)
		out.Fields[i] = f
	}
	if s.Submit != nil {
		submit := *s.Submit
		out.Submit = &submit
	}
	return &out
}

// FieldValue is one selector to value assignment produced by mapping
type FieldValue struct {
	Selector string  `json:"selector" validate:"required"`
	Value    string  `json:"value"`
	Purpose  Purpose `json:"purpose,omitempty"`
}

// FillError records a non-fatal failure to fill one field
type FillError struct {
	Selector string `json:"selector"`
	Message  string `json:"message"`
}
