package phase

import (
	"context"
	"errors"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// ConstraintExtractor turns the instruction into structured constraints.
type ConstraintExtractor interface {
	Extract(ctx context.Context, instruction string, tree scan.Tree) (*state.Constraints, error)
}

// ArchitectureRecaller looks up project notes relevant to the constraints.
type ArchitectureRecaller interface {
	Recall(ctx context.Context, c *state.Constraints, tree scan.Tree) ([]string, error)
}

// TaskDecomposer splits the request into atomic edits.
type TaskDecomposer interface {
	Decompose(ctx context.Context, c *state.Constraints, notes []string, tree scan.Tree) ([]state.Task, error)
}

// GenerateRequest is everything the code generator sees on one attempt.
type GenerateRequest struct {
	Instruction string
	Tasks       []state.Task
	Tree        scan.Tree
	Notes       []string
	Diagnostics []string // one per failed attempt, oldest first
	Suggestions []string // dependencies the last verdict asked for
	Attempt     int
}

// CodeGenerator produces a candidate patch.
type CodeGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*state.Patch, error)
}

// Recapper writes the human-readable summary of a finished run.
type Recapper interface {
	Recap(ctx context.Context, b *state.Blackboard) (string, error)
}

// Extract runs constraint extraction.
type Extract struct{ Agent ConstraintExtractor }

func (Extract) Name() string { return state.PhaseExtract }

func (p Extract) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	c, err := p.Agent.Extract(ctx, b.Instruction, b.Tree)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("extractor returned no constraints")
	}
	return &state.Delta{Constraints: c}, nil
}

// Recall runs architecture lookup. An empty result is valid.
type Recall struct{ Agent ArchitectureRecaller }

func (Recall) Name() string { return state.PhaseRecall }

func (p Recall) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	notes, err := p.Agent.Recall(ctx, b.Constraints, b.Tree)
	if err != nil {
		return nil, err
	}
	return &state.Delta{ArchitectureNotes: notes, NotesSet: true}, nil
}

// Decompose runs task planning. An empty plan is stored as such so the
// orchestrator can reject it before generation.
type Decompose struct{ Agent TaskDecomposer }

func (Decompose) Name() string { return state.PhaseDecompose }

func (p Decompose) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	tasks, err := p.Agent.Decompose(ctx, b.Constraints, b.ArchitectureNotes, b.Tree)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []state.Task{}
	}
	return &state.Delta{Tasks: tasks}, nil
}

// Generate runs code generation. A missing patch is retryable.
type Generate struct{ Agent CodeGenerator }

func (Generate) Name() string { return state.PhaseGenerate }

func (p Generate) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	req := GenerateRequest{
		Instruction: b.Instruction,
		Tasks:       b.Tasks,
		Tree:        b.Tree,
		Notes:       b.ArchitectureNotes,
		Diagnostics: b.Diagnostics,
		Attempt:     b.Attempt,
	}
	if b.Verdict != nil && b.Verdict.Status == state.NeedsFix {
		req.Suggestions = b.Verdict.Suggestions
	}
	patch, err := p.Agent.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if patch == nil || len(patch.Files) == 0 {
		return nil, Retryable(errors.New("generator returned an empty patch"))
	}
	return &state.Delta{Patch: patch}, nil
}

// Recap runs the summary agent.
type Recap struct{ Agent Recapper }

func (Recap) Name() string { return state.PhaseRecap }

func (p Recap) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	text, err := p.Agent.Recap(ctx, b)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, errors.New("recap is empty")
	}
	return &state.Delta{Recap: text}, nil
}
