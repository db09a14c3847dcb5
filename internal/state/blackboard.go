package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/jorge-barreto/patchr/internal/scan"
)

// ErrAlreadySet is returned when a delta tries to overwrite a set-once field.
var ErrAlreadySet = errors.New("field already set")

// Task actions.
const (
	ActionCreate = "create"
	ActionModify = "modify"
)

// Constraints is the structured reading of the instruction.
type Constraints struct {
	ProjectName    string `json:"projectName"`
	NonDestructive bool   `json:"nonDestructive"`
	WantsNewAgent  bool   `json:"wantsNewAgent"`
	Brief          string `json:"brief"`
}

// Task is one atomic edit.
type Task struct {
	Action      string `json:"action"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
}

// File is the proposed full content of one path.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Patch is one generation attempt's output.
type Patch struct {
	Files []File `json:"files"`
	Diff  string `json:"diff"`
}

// HistoryEntry records one phase or gate invocation.
type HistoryEntry struct {
	Phase    string        `json:"phase"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Attempt  int           `json:"attempt"`
	Detail   string        `json:"detail,omitempty"`
}

// Pipeline positions, used as history phase names.
const (
	PhaseExtract   = "EXTRACT"
	PhaseRecall    = "RECALL"
	PhaseDecompose = "DECOMPOSE"
	PhaseGenerate  = "GENERATE"
	PhaseValidate  = "VALIDATE"
	PhaseRecap     = "RECAP"
)

// History outcomes for phase calls. Gate calls record the verdict status.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// Blackboard is the state of one run. It is owned by a single orchestrator and
// passed to each phase for the duration of that call only.
type Blackboard struct {
	RunID             string         `json:"run_id"`
	Instruction       string         `json:"instruction"`
	Tree              scan.Tree      `json:"tree"`
	Constraints       *Constraints   `json:"constraints,omitempty"`
	ArchitectureNotes []string       `json:"architecture_notes,omitempty"`
	Tasks             []Task         `json:"tasks,omitempty"`
	Patch             *Patch         `json:"patch,omitempty"`
	Verdict           *Verdict       `json:"verdict,omitempty"`
	Attempt           int            `json:"attempt"`
	Diagnostics       []string       `json:"diagnostics,omitempty"`
	History           []HistoryEntry `json:"history"`
	Recap             string         `json:"recap,omitempty"`

	notesSet bool
}

// New creates a blackboard holding only the inputs.
func New(runID, instruction string, tree scan.Tree) *Blackboard {
	return &Blackboard{RunID: runID, Instruction: instruction, Tree: tree}
}

// Delta holds the fields a phase wants to set. Nil fields are left alone.
type Delta struct {
	Constraints       *Constraints
	ArchitectureNotes []string
	NotesSet          bool // allows an empty notes result to count as set
	Tasks             []Task
	Patch             *Patch
	Recap             string
}

// Apply merges d into b, refusing to overwrite set-once fields. A rejected
// delta leaves b unchanged.
func (b *Blackboard) Apply(d *Delta) error {
	if d == nil {
		return nil
	}
	setsNotes := d.ArchitectureNotes != nil || d.NotesSet
	switch {
	case d.Constraints != nil && b.Constraints != nil:
		return fmt.Errorf("constraints: %w", ErrAlreadySet)
	case setsNotes && b.notesSet:
		return fmt.Errorf("architecture notes: %w", ErrAlreadySet)
	case d.Tasks != nil && b.Tasks != nil:
		return fmt.Errorf("task list: %w", ErrAlreadySet)
	}

	if d.Constraints != nil {
		b.Constraints = d.Constraints
	}
	if setsNotes {
		b.ArchitectureNotes = d.ArchitectureNotes
		b.notesSet = true
	}
	if d.Tasks != nil {
		b.Tasks = d.Tasks
	}
	if d.Patch != nil {
		b.Patch = d.Patch
	}
	if d.Recap != "" {
		b.Recap = d.Recap
	}
	return nil
}

// Record appends a history entry.
func (b *Blackboard) Record(e HistoryEntry) {
	b.History = append(b.History, e)
}

// HasModifyTask reports whether tasks contains a modify task for path.
func HasModifyTask(tasks []Task, path string) bool {
	for _, t := range tasks {
		if t.Action == ActionModify && t.Path == path {
			return true
		}
	}
	return false
}

// Generations counts GENERATE invocations in the history.
func (b *Blackboard) Generations() int {
	n := 0
	for _, h := range b.History {
		if h.Phase == PhaseGenerate {
			n++
		}
	}
	return n
}
