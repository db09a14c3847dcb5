package doctor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/state"
)

func failedRecord() *audit.Record {
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &audit.Record{
		ID:           "run-9",
		Instruction:  "add a weather agent",
		Status:       audit.StatusFailed,
		FailureKind:  state.KindValidationExhausted,
		FailurePhase: state.PhaseValidate,
		Diagnostic:   "agents/weather.py: import requests is not declared",
		Attempt:      1,
		Generations:  2,
		Tasks: []state.Task{
			{Action: state.ActionCreate, Path: "agents/weather.py", Description: "add agent"},
			{Action: state.ActionCreate, Description: "wire it up"},
		},
		History: []state.HistoryEntry{
			{Phase: state.PhaseGenerate, Time: start, Duration: 90 * time.Second, Outcome: state.OutcomeOK},
			{Phase: state.PhaseValidate, Time: start, Duration: 20 * time.Millisecond, Outcome: state.NeedsFix, Detail: "missing requests\nmore"},
		},
		Diagnostics: []string{"missing requests", "still missing requests"},
		Verdict:     &state.Verdict{Status: state.NeedsFix, Suggestions: []string{"requests"}},
	}
}

func TestGatherDiff_Short(t *testing.T) {
	result := gatherDiff("line 1\nline 2\nline 3\n")
	if result != "line 1\nline 2\nline 3" {
		t.Errorf("expected full content, got %q", result)
	}
}

func TestGatherDiff_Long(t *testing.T) {
	var lines []string
	for i := 0; i < 300; i++ {
		lines = append(lines, "+line")
	}
	result := gatherDiff(strings.Join(lines, "\n"))
	if !strings.HasPrefix(result, "... (truncated to last 200 lines)") {
		t.Errorf("expected truncation prefix, got %q", result[:60])
	}
	if n := len(strings.Split(result, "\n")); n != 201 {
		t.Errorf("expected 201 lines, got %d", n)
	}
}

func TestGatherDiff_Empty(t *testing.T) {
	if result := gatherDiff(""); result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestGatherFailure(t *testing.T) {
	result := gatherFailure(failedRecord())
	for _, want := range []string{
		"Kind: ValidationExhausted",
		"Phase: VALIDATE",
		"Attempt: 2 (2 generations)",
		"Instruction: add a weather agent",
		"Diagnostic: agents/weather.py: import requests is not declared",
		"Suggested dependencies: requests",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in %q", want, result)
		}
	}
}

func TestGatherHistory(t *testing.T) {
	result := gatherHistory(failedRecord().History)
	if !strings.Contains(result, "1. GENERATE attempt 1: ok (1m 30s)") {
		t.Errorf("missing generate line in %q", result)
	}
	if !strings.Contains(result, "2. VALIDATE attempt 1: NEEDS_FIX (20ms) missing requests") {
		t.Errorf("missing validate line in %q", result)
	}
	if strings.Contains(result, "more") {
		t.Error("only the first detail line should be included")
	}
	if gatherHistory(nil) != "(no calls recorded)" {
		t.Error("expected placeholder for empty history")
	}
}

func TestGatherTasks(t *testing.T) {
	result := gatherTasks(failedRecord().Tasks)
	if !strings.Contains(result, "- [create agents/weather.py] add agent") {
		t.Errorf("missing path task in %q", result)
	}
	if !strings.Contains(result, "- [create] wire it up") {
		t.Errorf("missing pathless task in %q", result)
	}
}

func TestGatherFeedback_Files(t *testing.T) {
	dir := t.TempDir()
	fbDir := filepath.Join(dir, "feedback")
	os.MkdirAll(fbDir, 0755)
	os.WriteFile(filepath.Join(fbDir, "attempt-1.md"), []byte("syntax error"), 0644)
	os.WriteFile(filepath.Join(fbDir, "attempt-2.md"), []byte("import error"), 0644)

	result := gatherFeedback(failedRecord(), dir)
	for _, want := range []string{"attempt-1.md", "syntax error", "attempt-2.md", "import error"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in %q", want, result)
		}
	}
	if strings.Contains(result, "still missing requests") {
		t.Error("record diagnostics should not be used when feedback files exist")
	}
}

func TestGatherFeedback_FallsBackToRecord(t *testing.T) {
	result := gatherFeedback(failedRecord(), t.TempDir())
	if !strings.Contains(result, "--- attempt 2 ---\nstill missing requests") {
		t.Errorf("expected record diagnostics, got %q", result)
	}
}

func TestRun_NotFailed(t *testing.T) {
	var buf bytes.Buffer
	rec := &audit.Record{Status: audit.StatusSuccess}
	if err := Run(context.Background(), &buf, nil, rec, ""); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if !strings.Contains(buf.String(), "No failed run") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRun_NoClient(t *testing.T) {
	err := Run(context.Background(), &bytes.Buffer{}, nil, failedRecord(), "")
	if err == nil || !strings.Contains(err.Error(), "LLM provider") {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestRun_PrintsDiagnosis(t *testing.T) {
	var prompt string
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "  Add requests to requirements.txt.  \n", nil
	})
	var buf bytes.Buffer
	if err := Run(context.Background(), &buf, client, failedRecord(), ""); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"## Failure", "## Call History", "## Tasks", "## Gate Feedback"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "## Last Patch") {
		t.Error("no patch section expected without a diff")
	}
	out := buf.String()
	if !strings.Contains(out, "diagnosing run run-9 (ValidationExhausted at VALIDATE)") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, "Add requests to requirements.txt.\n") {
		t.Errorf("missing diagnosis in %q", out)
	}
	if !strings.Contains(out, "patchr status run-9") {
		t.Errorf("missing hint in %q", out)
	}
}

func TestRun_ClientError(t *testing.T) {
	client := llm.Func(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("quota")
	})
	err := Run(context.Background(), &bytes.Buffer{}, client, failedRecord(), "")
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("expected client error, got %v", err)
	}
}
