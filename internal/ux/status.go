package ux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/diff"
	"github.com/jorge-barreto/patchr/internal/state"
)

// RenderStatus prints the full status display for a recorded run. runDir is
// the run's artifact directory for the file backend, or "" when there is none.
func RenderStatus(w io.Writer, rec *audit.Record, runDir string) {
	timing := state.BuildTiming(rec.History)

	// Header
	fmt.Fprintf(w, "%sRun:%s       %s\n", Bold, Reset, rec.ID)
	fmt.Fprintf(w, "%sCreated:%s   %s\n", Bold, Reset, rec.Created.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%sPrompt:%s    %s\n", Bold, Reset, firstLine(rec.Instruction))
	if rec.Succeeded() {
		fmt.Fprintf(w, "%sState:%s     %s%ssuccess%s (attempt %d, %d generation%s)\n",
			Bold, Reset, Green, Bold, Reset, rec.Attempt+1, rec.Generations, plural(rec.Generations))
	} else {
		fmt.Fprintf(w, "%sState:%s     %s%s%s%s at %s (attempt %d)\n",
			Bold, Reset, Red, Bold, rec.FailureKind, Reset, rec.FailurePhase, rec.Attempt+1)
	}

	// Call history
	if len(rec.History) > 0 {
		fmt.Fprintf(w, "\n%sHistory:%s\n", Bold, Reset)
		for i, h := range rec.History {
			color := Green
			switch h.Outcome {
			case state.NeedsFix:
				color = Yellow
			case state.OutcomeOK, state.Pass:
			default:
				color = Red
			}
			fmt.Fprintf(w, "  %s%2d%s  %-10s %s#%d%s  %s%-10s%s %s\n",
				Dim, i+1, Reset, h.Phase, Dim, h.Attempt+1, Reset, color, h.Outcome, Reset, timing.Entries[i].Duration)
		}
		fmt.Fprintf(w, "  %stotal %s%s\n", Dim, timing.Total, Reset)
	}

	if len(rec.Tasks) > 0 {
		fmt.Fprintf(w, "\n%sTasks:%s\n", Bold, Reset)
		for _, t := range rec.Tasks {
			target := ""
			if t.Path != "" {
				target = " " + t.Path
			}
			fmt.Fprintf(w, "  %s[%s%s]%s %s\n", Dim, t.Action, target, Reset, t.Description)
		}
	}

	if rec.Verdict != nil && len(rec.Verdict.Suggestions) > 0 {
		fmt.Fprintf(w, "\n%sSuggested dependencies:%s\n", Bold, Reset)
		for _, s := range rec.Verdict.Suggestions {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}

	if rec.Diff != "" {
		if stats, err := diff.Summarize(rec.Diff); err == nil {
			fmt.Fprintf(w, "\n%sPatch:%s     %s\n", Bold, Reset, stats)
		}
	}

	if !rec.Succeeded() && rec.Diagnostic != "" {
		fmt.Fprintf(w, "\n%sLast diagnostic:%s\n", Bold, Reset)
		printDetail(w, rec.Diagnostic)
	}

	// Artifacts listing
	if runDir == "" {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "\n%sArtifacts:%s\n", Bold, Reset)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		fmt.Fprintf(w, "  %s(none)%s\n", Dim, Reset)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			subEntries, _ := os.ReadDir(filepath.Join(runDir, e.Name()))
			if len(subEntries) > 0 {
				first := subEntries[0].Name()
				last := subEntries[len(subEntries)-1].Name()
				if first == last {
					fmt.Fprintf(w, "  %s/%s/%s\n", runDir, e.Name(), first)
				} else {
					fmt.Fprintf(w, "  %s/%s/%s .. %s\n", runDir, e.Name(), first, last)
				}
			}
		} else {
			fmt.Fprintf(w, "  %s/%s\n", runDir, e.Name())
		}
	}
	fmt.Fprintln(w)
}
