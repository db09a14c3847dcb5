package phase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

type fakeAgents struct {
	constraints *state.Constraints
	notes       []string
	tasks       []state.Task
	patch       *state.Patch
	recap       string
	err         error
	lastReq     GenerateRequest
}

func (f *fakeAgents) Extract(ctx context.Context, instruction string, tree scan.Tree) (*state.Constraints, error) {
	return f.constraints, f.err
}

func (f *fakeAgents) Recall(ctx context.Context, c *state.Constraints, tree scan.Tree) ([]string, error) {
	return f.notes, f.err
}

func (f *fakeAgents) Decompose(ctx context.Context, c *state.Constraints, notes []string, tree scan.Tree) ([]state.Task, error) {
	return f.tasks, f.err
}

func (f *fakeAgents) Generate(ctx context.Context, req GenerateRequest) (*state.Patch, error) {
	f.lastReq = req
	return f.patch, f.err
}

func (f *fakeAgents) Recap(ctx context.Context, b *state.Blackboard) (string, error) {
	return f.recap, f.err
}

func TestRetryable(t *testing.T) {
	base := errors.New("no file blocks")
	err := fmt.Errorf("generate: %w", Retryable(base))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsRetryable(base))
	assert.Nil(t, Retryable(nil))
}

func TestFunc(t *testing.T) {
	p := Func{PhaseName: "X", Fn: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return &state.Delta{Recap: b.Instruction}, nil
	}}
	d, err := p.Run(context.Background(), state.New("r", "hello", nil))
	require.NoError(t, err)
	assert.Equal(t, "X", p.Name())
	assert.Equal(t, "hello", d.Recap)
}

func TestPhaseNames(t *testing.T) {
	assert.Equal(t, state.PhaseExtract, Extract{}.Name())
	assert.Equal(t, state.PhaseRecall, Recall{}.Name())
	assert.Equal(t, state.PhaseDecompose, Decompose{}.Name())
	assert.Equal(t, state.PhaseGenerate, Generate{}.Name())
	assert.Equal(t, state.PhaseRecap, Recap{}.Name())
}

func TestExtract_NilConstraints(t *testing.T) {
	_, err := Extract{Agent: &fakeAgents{}}.Run(context.Background(), state.New("r", "x", nil))
	assert.Error(t, err)
}

func TestRecall_EmptyNotesAreSet(t *testing.T) {
	d, err := Recall{Agent: &fakeAgents{}}.Run(context.Background(), state.New("r", "x", nil))
	require.NoError(t, err)
	assert.True(t, d.NotesSet)
}

func TestDecompose_EmptyPlanIsStored(t *testing.T) {
	d, err := Decompose{Agent: &fakeAgents{}}.Run(context.Background(), state.New("r", "x", nil))
	require.NoError(t, err)
	assert.NotNil(t, d.Tasks)
	assert.Empty(t, d.Tasks)
}

func TestGenerate_PassesFeedback(t *testing.T) {
	f := &fakeAgents{patch: &state.Patch{Files: []state.File{{Path: "a.py"}}}}
	b := state.New("r", "add agent", nil)
	b.Tasks = []state.Task{{Action: state.ActionCreate, Path: "a.py"}}
	b.Attempt = 1
	b.Diagnostics = []string{"a.py:1:1: invalid syntax"}
	b.Verdict = &state.Verdict{Status: state.NeedsFix, Suggestions: []string{"pyyaml"}}

	d, err := Generate{Agent: f}.Run(context.Background(), b)
	require.NoError(t, err)
	assert.Same(t, f.patch, d.Patch)
	assert.Equal(t, 1, f.lastReq.Attempt)
	assert.Equal(t, []string{"pyyaml"}, f.lastReq.Suggestions)
	assert.Equal(t, b.Diagnostics, f.lastReq.Diagnostics)
}

func TestGenerate_EmptyPatchIsRetryable(t *testing.T) {
	_, err := Generate{Agent: &fakeAgents{patch: &state.Patch{}}}.Run(context.Background(), state.New("r", "x", nil))
	assert.True(t, IsRetryable(err))
}

func TestGenerate_AgentErrorPassesThrough(t *testing.T) {
	boom := errors.New("api down")
	_, err := Generate{Agent: &fakeAgents{err: boom}}.Run(context.Background(), state.New("r", "x", nil))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRetryable(err))
}

func TestRecap_Empty(t *testing.T) {
	_, err := Recap{Agent: &fakeAgents{}}.Run(context.Background(), state.New("r", "x", nil))
	assert.Error(t, err)
}
