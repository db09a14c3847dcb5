package state

import "strings"

// Verdict statuses.
const (
	Pass     = "PASS"
	NeedsFix = "NEEDS_FIX"
	Fatal    = "FATAL"
)

// Kind classifies a terminal failure.
type Kind string

const (
	KindPrecondition        Kind = "Precondition"
	KindPhaseFailed         Kind = "PhaseFailed"
	KindTimeout             Kind = "Timeout"
	KindValidationExhausted Kind = "ValidationExhausted"
	KindUnsafeConstruct     Kind = "UnsafeConstruct"
	KindDestructiveWrite    Kind = "DestructiveWrite"
	KindCanceled            Kind = "Canceled"
)

// Verdict is the gate's classification of a patch.
type Verdict struct {
	Status      string   `json:"status"`
	Kind        Kind     `json:"kind,omitempty"`
	Diagnostic  string   `json:"diagnostic,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Tests       []string `json:"tests,omitempty"`
}

// Passed reports whether the verdict is PASS.
func (v *Verdict) Passed() bool { return v != nil && v.Status == Pass }

// Feedback renders the diagnostic plus any suggestions for the next generation.
func (v *Verdict) Feedback() string {
	if len(v.Suggestions) == 0 {
		return v.Diagnostic
	}
	return v.Diagnostic + "\nsuggested dependencies: " + strings.Join(v.Suggestions, ", ")
}
