package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jorge-barreto/patchr/internal/gate"
	"github.com/jorge-barreto/patchr/internal/phase"
	"github.com/jorge-barreto/patchr/internal/state"
)

// mockGate returns scripted verdicts in order, repeating the last one.
type mockGate struct {
	mu       sync.Mutex
	verdicts []*state.Verdict
	inputs   []gate.Input
	block    bool
	sleep    time.Duration // ignores ctx, then answers
	err      error
}

func (m *mockGate) Check(ctx context.Context, in gate.Input) (*state.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	time.Sleep(m.sleep)
	i := len(m.inputs) - 1
	if i >= len(m.verdicts) {
		i = len(m.verdicts) - 1
	}
	return m.verdicts[i], nil
}

func pass() *state.Verdict { return &state.Verdict{Status: state.Pass} }

func needsFix(diag string) *state.Verdict {
	return &state.Verdict{Status: state.NeedsFix, Kind: state.KindValidationExhausted, Diagnostic: diag}
}

// script holds per-phase behavior and call counts.
type script struct {
	mu    sync.Mutex
	calls map[string]int

	extract   func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
	recall    func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
	decompose func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
	generate  func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
	recap     func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
}

func newScript() *script {
	return &script{
		calls: make(map[string]int),
		extract: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
			return &state.Delta{Constraints: &state.Constraints{ProjectName: "demo"}}, nil
		},
		recall: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
			return &state.Delta{ArchitectureNotes: []string{"agents live in agents/"}}, nil
		},
		decompose: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
			return &state.Delta{Tasks: []state.Task{{Action: state.ActionCreate, Path: "agents/new.py", Description: "add agent"}}}, nil
		},
		generate: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
			return &state.Delta{Patch: &state.Patch{Files: []state.File{{Path: "agents/new.py", Content: "x = 1\n"}}}}, nil
		},
		recap: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
			return &state.Delta{Recap: "added agents/new.py"}, nil
		},
	}
}

func (s *script) wrap(name string, fn *func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)) phase.Phase {
	return phase.Func{PhaseName: name, Fn: func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		s.mu.Lock()
		s.calls[name]++
		s.mu.Unlock()
		return (*fn)(ctx, b)
	}}
}

func (s *script) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *script) phases() Phases {
	return Phases{
		Extract:   s.wrap(state.PhaseExtract, &s.extract),
		Recall:    s.wrap(state.PhaseRecall, &s.recall),
		Decompose: s.wrap(state.PhaseDecompose, &s.decompose),
		Generate:  s.wrap(state.PhaseGenerate, &s.generate),
		Recap:     s.wrap(state.PhaseRecap, &s.recap),
	}
}

// recorder is an Observer that keeps loop-back events.
type recorder struct {
	starts    []string
	loopBacks []int
}

func (r *recorder) PhaseStart(name string, attempt int)                    { r.starts = append(r.starts, name) }
func (r *recorder) PhaseEnd(name, outcome string, d time.Duration, _ string) {}
func (r *recorder) LoopBack(attempt, max int, diagnostic string)           { r.loopBacks = append(r.loopBacks, attempt) }

func newOrchestrator(s *script, g Validator, opts Options) *Orchestrator {
	return &Orchestrator{Phases: s.phases(), Gate: g, Options: opts}
}

func asFailure(t *testing.T, err error) *Failure {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T: %v", err, err)
	}
	return f
}

func TestRun_PassFirstAttempt(t *testing.T) {
	s := newScript()
	g := &mockGate{verdicts: []*state.Verdict{pass()}}
	rec := &recorder{}
	o := newOrchestrator(s, g, DefaultOptions())
	o.Observer = rec

	res, err := o.Run(context.Background(), "run-1", "add a weather agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Board.Attempt != 0 {
		t.Fatalf("attempt = %d, want 0", res.Board.Attempt)
	}
	if res.Recap != "added agents/new.py" {
		t.Fatalf("recap = %q", res.Recap)
	}
	if res.Patch == nil || len(res.Patch.Files) != 1 {
		t.Fatalf("patch = %+v", res.Patch)
	}
	if got := len(res.Board.History); got != 6 {
		t.Fatalf("history length = %d, want 6", got)
	}
	want := []string{"EXTRACT", "RECALL", "DECOMPOSE", "GENERATE", "VALIDATE", "RECAP"}
	for i, h := range res.Board.History {
		if h.Phase != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, h.Phase, want[i])
		}
	}
	if res.Board.History[4].Outcome != state.Pass {
		t.Fatalf("gate outcome = %s", res.Board.History[4].Outcome)
	}
	if strings.Join(rec.starts, ",") != strings.Join(want, ",") {
		t.Fatalf("observer starts = %v", rec.starts)
	}
	if len(rec.loopBacks) != 0 {
		t.Fatalf("unexpected loop-backs: %v", rec.loopBacks)
	}
}

func TestRun_NeedsFixThenPass(t *testing.T) {
	s := newScript()
	var seenDiag []string
	s.generate = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		seenDiag = append([]string(nil), b.Diagnostics...)
		return &state.Delta{Patch: &state.Patch{Files: []state.File{{Path: "agents/new.py", Content: "x = 1\n"}}}}, nil
	}
	g := &mockGate{verdicts: []*state.Verdict{needsFix("agents/new.py:1:1: invalid syntax"), pass()}}
	rec := &recorder{}
	o := newOrchestrator(s, g, DefaultOptions())
	o.Observer = rec

	res, err := o.Run(context.Background(), "run-2", "add agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Board.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", res.Board.Attempt)
	}
	if n := s.count(state.PhaseGenerate); n != 2 {
		t.Fatalf("GENERATE calls = %d, want 2", n)
	}
	if len(seenDiag) != 1 || !strings.Contains(seenDiag[0], "invalid syntax") {
		t.Fatalf("second generation saw diagnostics %v", seenDiag)
	}
	if got := len(res.Board.History); got != 8 {
		t.Fatalf("history length = %d, want 8", got)
	}
	if len(rec.loopBacks) != 1 || rec.loopBacks[0] != 1 {
		t.Fatalf("loop-backs = %v", rec.loopBacks)
	}
}

func TestRun_ExhaustsAttempts(t *testing.T) {
	s := newScript()
	g := &mockGate{verdicts: []*state.Verdict{needsFix("still broken")}}
	opts := DefaultOptions()
	opts.MaxAttempts = 2
	o := newOrchestrator(s, g, opts)

	res, err := o.Run(context.Background(), "run-3", "add agent", nil)
	if res != nil {
		t.Fatal("expected no success")
	}
	f := asFailure(t, err)
	if f.Kind != state.KindValidationExhausted {
		t.Fatalf("kind = %s", f.Kind)
	}
	if f.Phase != state.PhaseValidate {
		t.Fatalf("phase = %s", f.Phase)
	}
	if n := s.count(state.PhaseGenerate); n != 2 {
		t.Fatalf("GENERATE calls = %d, want 2", n)
	}
	if len(f.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", f.Diagnostics)
	}
	if f.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", f.Attempt)
	}
	if s.count(state.PhaseRecap) != 0 {
		t.Fatal("RECAP should not run")
	}
	// 3 setup phases + 2 generations + 2 gate calls
	if got := len(f.Board.History); got != 7 {
		t.Fatalf("history length = %d, want 7", got)
	}
}

func TestRun_SingleAttempt(t *testing.T) {
	s := newScript()
	g := &mockGate{verdicts: []*state.Verdict{needsFix("broken")}}
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	_, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindValidationExhausted || s.count(state.PhaseGenerate) != 1 {
		t.Fatalf("kind = %s, generations = %d", f.Kind, s.count(state.PhaseGenerate))
	}
}

func TestRun_ExtractTimeout(t *testing.T) {
	s := newScript()
	s.extract = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, opts).
		Run(context.Background(), "r", "add agent", nil)

	f := asFailure(t, err)
	if f.Kind != state.KindTimeout || f.Phase != state.PhaseExtract {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if s.count(state.PhaseGenerate) != 0 {
		t.Fatal("GENERATE should not run")
	}
	if len(f.Board.History) != 1 || f.Board.History[0].Outcome != state.OutcomeTimeout {
		t.Fatalf("history = %+v", f.Board.History)
	}
}

func TestRun_ExtractOverrunIgnoringContext(t *testing.T) {
	s := newScript()
	s.extract = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		time.Sleep(80 * time.Millisecond)
		return &state.Delta{Constraints: &state.Constraints{ProjectName: "late"}}, nil
	}
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, opts).
		Run(context.Background(), "r", "add agent", nil)

	f := asFailure(t, err)
	if f.Kind != state.KindTimeout || f.Phase != state.PhaseExtract {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if f.Board.Constraints != nil {
		t.Fatalf("late delta was merged: %+v", f.Board.Constraints)
	}
	if f.Board.History[0].Outcome != state.OutcomeTimeout {
		t.Fatalf("history = %+v", f.Board.History)
	}
}

func TestRun_GenerateOverrunConsumesAttempt(t *testing.T) {
	s := newScript()
	first := true
	s.generate = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		if first {
			first = false
			time.Sleep(80 * time.Millisecond)
		}
		return &state.Delta{Patch: &state.Patch{Files: []state.File{{Path: "a.py", Content: "x = 1\n"}}}}, nil
	}
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	g := &mockGate{verdicts: []*state.Verdict{pass()}}
	res, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Board.Attempt != 1 || len(g.inputs) != 1 {
		t.Fatalf("attempt = %d, gate calls = %d", res.Board.Attempt, len(g.inputs))
	}
	if res.Board.History[3].Outcome != state.OutcomeTimeout {
		t.Fatalf("first generation outcome = %s", res.Board.History[3].Outcome)
	}
}

func TestRun_GenerateTimeoutConsumesAttempt(t *testing.T) {
	s := newScript()
	first := true
	s.generate = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		if first {
			first = false
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &state.Delta{Patch: &state.Patch{Files: []state.File{{Path: "a.py", Content: "x = 1\n"}}}}, nil
	}
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	g := &mockGate{verdicts: []*state.Verdict{pass()}}
	res, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Board.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", res.Board.Attempt)
	}
	if len(g.inputs) != 1 {
		t.Fatalf("gate calls = %d, want 1", len(g.inputs))
	}
	if res.Board.History[3].Outcome != state.OutcomeTimeout {
		t.Fatalf("first generation outcome = %s", res.Board.History[3].Outcome)
	}
	if len(res.Board.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", res.Board.Diagnostics)
	}
}

func TestRun_RetryableGenerateError(t *testing.T) {
	s := newScript()
	s.generate = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return nil, phase.Retryable(errors.New("no file blocks in reply"))
	}
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, opts).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindValidationExhausted || f.Phase != state.PhaseGenerate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if s.count(state.PhaseGenerate) != 3 {
		t.Fatalf("GENERATE calls = %d, want 3", s.count(state.PhaseGenerate))
	}
}

func TestRun_GenerateHardError(t *testing.T) {
	s := newScript()
	boom := errors.New("api key rejected")
	s.generate = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return nil, boom
	}
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPhaseFailed || f.Phase != state.PhaseGenerate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if !errors.Is(err, boom) {
		t.Fatal("failure should unwrap to the phase error")
	}
	if s.count(state.PhaseGenerate) != 1 {
		t.Fatalf("GENERATE calls = %d, want 1", s.count(state.PhaseGenerate))
	}
}

func TestRun_FatalVerdicts(t *testing.T) {
	for _, kind := range []state.Kind{state.KindUnsafeConstruct, state.KindDestructiveWrite} {
		t.Run(string(kind), func(t *testing.T) {
			s := newScript()
			g := &mockGate{verdicts: []*state.Verdict{{Status: state.Fatal, Kind: kind, Diagnostic: "agents/new.py: refused"}}}
			opts := DefaultOptions()
			opts.MaxAttempts = 5
			_, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil)
			f := asFailure(t, err)
			if f.Kind != kind || f.Phase != state.PhaseValidate {
				t.Fatalf("got %s at %s", f.Kind, f.Phase)
			}
			if s.count(state.PhaseGenerate) != 1 {
				t.Fatalf("FATAL must not retry, GENERATE calls = %d", s.count(state.PhaseGenerate))
			}
			if s.count(state.PhaseRecap) != 0 {
				t.Fatal("RECAP should not run")
			}
		})
	}
}

func TestRun_EmptyTaskList(t *testing.T) {
	s := newScript()
	s.decompose = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return &state.Delta{Tasks: []state.Task{}}, nil
	}
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(context.Background(), "r", "do nothing", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPrecondition || f.Phase != state.PhaseGenerate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if s.count(state.PhaseGenerate) != 0 {
		t.Fatal("GENERATE should not run")
	}
}

func TestRun_EmptyInstruction(t *testing.T) {
	s := newScript()
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(context.Background(), "r", "   ", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPrecondition {
		t.Fatalf("kind = %s", f.Kind)
	}
	if len(f.Board.History) != 0 {
		t.Fatalf("history = %+v", f.Board.History)
	}
}

func TestRun_SetOnceViolation(t *testing.T) {
	s := newScript()
	s.recall = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return &state.Delta{Constraints: &state.Constraints{}}, nil
	}
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPrecondition || f.Phase != state.PhaseRecall {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if !errors.Is(err, state.ErrAlreadySet) {
		t.Fatal("expected ErrAlreadySet")
	}
}

func TestRun_RecapFailure(t *testing.T) {
	s := newScript()
	s.recap = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
		return nil, errors.New("summary unavailable")
	}
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPhaseFailed || f.Phase != state.PhaseRecap {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
}

func TestRun_GateTimeout(t *testing.T) {
	s := newScript()
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	_, err := newOrchestrator(s, &mockGate{block: true}, opts).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindTimeout || f.Phase != state.PhaseValidate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	last := f.Board.History[len(f.Board.History)-1]
	if last.Phase != state.PhaseValidate || last.Outcome != state.OutcomeTimeout {
		t.Fatalf("last history entry = %+v", last)
	}
}

func TestRun_GateOverrunIgnoringContext(t *testing.T) {
	s := newScript()
	opts := DefaultOptions()
	opts.PhaseTimeout = 20 * time.Millisecond
	g := &mockGate{verdicts: []*state.Verdict{pass()}, sleep: 80 * time.Millisecond}
	_, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindTimeout || f.Phase != state.PhaseValidate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
	if f.Board.Verdict != nil {
		t.Fatalf("late verdict was kept: %+v", f.Board.Verdict)
	}
	if s.count(state.PhaseRecap) != 0 {
		t.Fatal("RECAP should not run")
	}
}

func TestRun_GateError(t *testing.T) {
	s := newScript()
	_, err := newOrchestrator(s, &mockGate{err: errors.New("parser crashed")}, DefaultOptions()).
		Run(context.Background(), "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindPhaseFailed || f.Phase != state.PhaseValidate {
		t.Fatalf("got %s at %s", f.Kind, f.Phase)
	}
}

func TestRun_Canceled(t *testing.T) {
	s := newScript()
	ctx, cancel := context.WithCancel(context.Background())
	s.recall = func(c context.Context, b *state.Blackboard) (*state.Delta, error) {
		cancel()
		return nil, c.Err()
	}
	_, err := newOrchestrator(s, &mockGate{verdicts: []*state.Verdict{pass()}}, DefaultOptions()).
		Run(ctx, "r", "add agent", nil)
	f := asFailure(t, err)
	if f.Kind != state.KindCanceled {
		t.Fatalf("kind = %s", f.Kind)
	}
	if s.count(state.PhaseDecompose) != 0 {
		t.Fatal("DECOMPOSE should not run after cancel")
	}
}

func TestRun_NonDestructiveFlag(t *testing.T) {
	tests := []struct {
		name       string
		option     bool
		constraint bool
		want       bool
	}{
		{"both off", false, false, false},
		{"option on", true, false, true},
		{"instruction asks", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScript()
			s.extract = func(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
				return &state.Delta{Constraints: &state.Constraints{NonDestructive: tt.constraint}}, nil
			}
			g := &mockGate{verdicts: []*state.Verdict{pass()}}
			opts := DefaultOptions()
			opts.NonDestructive = tt.option
			if _, err := newOrchestrator(s, g, opts).Run(context.Background(), "r", "add agent", nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.inputs[0].NonDestructive != tt.want {
				t.Fatalf("gate saw nonDestructive = %v, want %v", g.inputs[0].NonDestructive, tt.want)
			}
		})
	}
}

func TestRun_HistoryCountsEveryCall(t *testing.T) {
	s := newScript()
	g := &mockGate{verdicts: []*state.Verdict{needsFix("a"), needsFix("b"), pass()}}
	res, err := newOrchestrator(s, g, DefaultOptions()).Run(context.Background(), "r", "add agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	phaseCalls := 0
	for _, n := range s.calls {
		phaseCalls += n
	}
	if got, want := len(res.Board.History), phaseCalls+len(g.inputs); got != want {
		t.Fatalf("history length = %d, want %d", got, want)
	}
	for _, h := range res.Board.History {
		if h.Attempt > res.Board.Attempt {
			t.Fatalf("entry attempt %d exceeds final attempt %d", h.Attempt, res.Board.Attempt)
		}
	}
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Kind: state.KindTimeout, Phase: state.PhaseExtract, Attempt: 0, Diagnostic: "timed out"}
	if got := f.Error(); got != "Timeout at EXTRACT (attempt 1): timed out" {
		t.Fatalf("Error() = %q", got)
	}
}
