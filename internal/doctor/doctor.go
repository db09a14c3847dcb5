package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/state"
	"github.com/jorge-barreto/patchr/internal/ux"
)

const maxDiffLines = 200

const diagPrompt = `You are diagnosing a failed patchr run. patchr turns an instruction into a patch by running EXTRACT, RECALL, DECOMPOSE, then GENERATE and VALIDATE in a retry loop, and finally RECAP. Analyze the context below and provide a concise diagnosis.

## Failure
%s

## Call History
%s
%s%s%s
Instructions:
1. Identify what went wrong from the history and diagnostics.
2. Classify this as an INSTRUCTION problem (ambiguous or unsafe request, destructive overwrite), a PROJECT problem (missing dependency declarations, broken existing code) or a GENERATION problem (the model kept producing invalid code).
3. Suggest specific fixes.
4. Recommend the next command to run:
   - patchr run --max-attempts N ...  (allow more generation attempts)
   - patchr run --allow-destructive ...  (only if overwriting existing files is intended)
   - Rephrase the prompt or fix the project first, then rerun

Be direct and concise. Focus on actionable advice.`

// Run gathers failure context from a recorded run and asks client for a
// diagnosis, which is printed to w. runDir is the run's artifact directory for
// the file backend, or "".
func Run(ctx context.Context, w io.Writer, client llm.Client, rec *audit.Record, runDir string) error {
	if rec.Succeeded() {
		fmt.Fprintln(w, "No failed run to diagnose.")
		return nil
	}
	if client == nil {
		return errors.New("doctor needs an LLM provider (set llm.provider in .patchr/config.yaml)")
	}

	diagText := buildPrompt(
		gatherFailure(rec),
		gatherHistory(rec.History),
		gatherTasks(rec.Tasks),
		gatherFeedback(rec, runDir),
		gatherDiff(rec.Diff),
	)

	fmt.Fprintf(w, "\n%s%s══ Doctor: diagnosing run %s (%s at %s) ══%s\n\n",
		ux.Bold, ux.Cyan, rec.ID, rec.FailureKind, rec.FailurePhase, ux.Reset)

	reply, err := client.Complete(ctx, llm.Request{Prompt: diagText})
	if err != nil {
		return fmt.Errorf("failed to get diagnosis: %w", err)
	}
	fmt.Fprintln(w, strings.TrimSpace(reply))

	(&ux.Console{W: w}).InspectHint(rec.ID, false)
	return nil
}

func buildPrompt(failure, history, tasks, feedback, diff string) string {
	var tasksSection, feedbackSection, diffSection string
	if tasks != "" {
		tasksSection = fmt.Sprintf("\n## Tasks\n%s\n", tasks)
	}
	if feedback != "" {
		feedbackSection = fmt.Sprintf("\n## Gate Feedback\n%s\n", feedback)
	}
	if diff != "" {
		diffSection = fmt.Sprintf("\n## Last Patch\n%s\n", diff)
	}
	return fmt.Sprintf(diagPrompt, failure, history, tasksSection, feedbackSection, diffSection)
}

func gatherFailure(rec *audit.Record) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Kind: %s", rec.FailureKind))
	parts = append(parts, fmt.Sprintf("Phase: %s", rec.FailurePhase))
	parts = append(parts, fmt.Sprintf("Attempt: %d (%d generations)", rec.Attempt+1, rec.Generations))
	parts = append(parts, fmt.Sprintf("Instruction: %s", rec.Instruction))
	if rec.Diagnostic != "" {
		parts = append(parts, fmt.Sprintf("Diagnostic: %s", rec.Diagnostic))
	}
	if rec.Verdict != nil && len(rec.Verdict.Suggestions) > 0 {
		parts = append(parts, fmt.Sprintf("Suggested dependencies: %s", strings.Join(rec.Verdict.Suggestions, ", ")))
	}
	return strings.Join(parts, "\n")
}

func gatherHistory(history []state.HistoryEntry) string {
	if len(history) == 0 {
		return "(no calls recorded)"
	}
	timing := state.BuildTiming(history)
	var lines []string
	for i, h := range history {
		line := fmt.Sprintf("%d. %s attempt %d: %s (%s)", i+1, h.Phase, h.Attempt+1, h.Outcome, timing.Entries[i].Duration)
		if h.Detail != "" && h.Outcome != state.OutcomeOK && h.Outcome != state.Pass {
			line += " " + firstLine(h.Detail)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func gatherTasks(tasks []state.Task) string {
	var lines []string
	for _, t := range tasks {
		if t.Path != "" {
			lines = append(lines, fmt.Sprintf("- [%s %s] %s", t.Action, t.Path, t.Description))
		} else {
			lines = append(lines, fmt.Sprintf("- [%s] %s", t.Action, t.Description))
		}
	}
	return strings.Join(lines, "\n")
}

// gatherFeedback prefers the per-attempt feedback files of the file backend and
// falls back to the diagnostics stored in the record.
func gatherFeedback(rec *audit.Record, runDir string) string {
	if runDir != "" {
		dir := filepath.Join(runDir, "feedback")
		if entries, err := os.ReadDir(dir); err == nil {
			var parts []string
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				data, err := os.ReadFile(filepath.Join(dir, e.Name()))
				if err != nil {
					continue
				}
				parts = append(parts, fmt.Sprintf("--- %s ---\n%s", e.Name(), string(data)))
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
	}
	var parts []string
	for i, d := range rec.Diagnostics {
		parts = append(parts, fmt.Sprintf("--- attempt %d ---\n%s", i+1, d))
	}
	return strings.Join(parts, "\n")
}

func gatherDiff(diff string) string {
	if diff == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	if len(lines) > maxDiffLines {
		lines = lines[len(lines)-maxDiffLines:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", maxDiffLines, strings.Join(lines, "\n"))
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
