package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jorge-barreto/patchr/internal/pipeline"
	"github.com/jorge-barreto/patchr/internal/state"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

// phaseOrder numbers the pipeline positions for headers.
var phaseOrder = []string{
	state.PhaseExtract,
	state.PhaseRecall,
	state.PhaseDecompose,
	state.PhaseGenerate,
	state.PhaseValidate,
	state.PhaseRecap,
}

// Console prints pipeline progress to W. It implements pipeline.Observer.
type Console struct {
	W   io.Writer
	Now func() time.Time
}

var _ pipeline.Observer = (*Console)(nil)

// NewConsole returns a console printing to stdout.
func NewConsole() *Console {
	return &Console{W: os.Stdout}
}

func (c *Console) timestamp() string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Format("15:04:05")
}

func (c *Console) out() io.Writer {
	if c.W == nil {
		return os.Stdout
	}
	return c.W
}

// PhaseStart prints a timestamped phase header.
func (c *Console) PhaseStart(name string, attempt int) {
	w := c.out()
	idx := phaseIndex(name)
	label := fmt.Sprintf("Phase %d/%d: %s", idx+1, len(phaseOrder), name)
	if attempt > 0 && (name == state.PhaseGenerate || name == state.PhaseValidate) {
		label += fmt.Sprintf(" (attempt %d)", attempt+1)
	}
	fmt.Fprintf(w, "\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, c.timestamp(), Reset, Cyan, Reset)
	fmt.Fprintf(w, "%s[%s]%s  %s%s%s\n", Dim, c.timestamp(), Reset, Bold, label, Reset)
	fmt.Fprintf(w, "%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, c.timestamp(), Reset, Cyan, Reset)
}

// PhaseEnd prints the phase result. Gate calls report the verdict status.
func (c *Console) PhaseEnd(name, outcome string, d time.Duration, detail string) {
	w := c.out()
	switch outcome {
	case state.OutcomeOK, state.Pass:
		fmt.Fprintf(w, "%s[%s]%s  %s✓ %s %s (%s)%s\n",
			Dim, c.timestamp(), Reset, Green, name, strings.ToLower(outcome), state.FormatDuration(d), Reset)
	case state.NeedsFix:
		fmt.Fprintf(w, "%s[%s]%s  %s! %s needs fix (%s)%s\n",
			Dim, c.timestamp(), Reset, Yellow, name, state.FormatDuration(d), Reset)
		printDetail(w, detail)
	default:
		fmt.Fprintf(w, "%s[%s]%s  %s✗ %s %s: %s%s\n",
			Dim, c.timestamp(), Reset, Red, name, strings.ToLower(outcome), firstLine(detail), Reset)
	}
}

// LoopBack prints a loop-back message for a NEEDS_FIX retry.
func (c *Console) LoopBack(attempt, max int, diagnostic string) {
	fmt.Fprintf(c.out(), "%s[%s]%s  %s↺ Looping back to %s (attempt %d/%d)%s\n",
		Dim, c.timestamp(), Reset, Yellow, state.PhaseGenerate, attempt+1, max, Reset)
}

// Success prints the final success message.
func (c *Console) Success(attempt, generations int) {
	fmt.Fprintf(c.out(), "\n%s[%s]%s  %s%s══ Patch accepted on attempt %d (%d generation%s) ══%s\n\n",
		Dim, c.timestamp(), Reset, Bold, Green, attempt+1, generations, plural(generations), Reset)
}

// Failure prints a terminal failure.
func (c *Console) Failure(f *pipeline.Failure) {
	w := c.out()
	fmt.Fprintf(w, "\n%s[%s]%s  %s%s══ %s at %s (attempt %d) ══%s\n",
		Dim, c.timestamp(), Reset, Bold, Red, f.Kind, f.Phase, f.Attempt+1, Reset)
	printDetail(w, f.Diagnostic)
}

// InspectHint prints the commands that show a finished run.
func (c *Console) InspectHint(runID string, failed bool) {
	fmt.Fprintf(c.out(), "\n%sInspect:%s patchr status %s\n", Yellow, Reset, runID)
	if failed {
		fmt.Fprintf(c.out(), "%sDiagnose:%s patchr doctor %s\n", Yellow, Reset, runID)
	}
}

func printDetail(w io.Writer, detail string) {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return
	}
	for _, line := range strings.Split(detail, "\n") {
		fmt.Fprintf(w, "    %s%s%s\n", Dim, line, Reset)
	}
}

func phaseIndex(name string) int {
	for i, p := range phaseOrder {
		if p == name {
			return i
		}
	}
	return len(phaseOrder) - 1
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
