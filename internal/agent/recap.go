package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/jorge-barreto/patchr/internal/diff"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// maxRecapDiff caps the diff sent for the optional summary.
const maxRecapDiff = 16 << 10

// Recapper renders a Markdown recap of the accepted patch. With an LLM it
// adds a short prose summary; a failed summary call leaves it out.
type Recapper struct {
	LLM llm.Client
}

func (r *Recapper) Recap(ctx context.Context, b *state.Blackboard) (string, error) {
	if b.Patch == nil {
		return "", fmt.Errorf("recap: no patch")
	}
	stats, err := diff.Summarize(b.Patch.Diff)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString("## Summary\n\n")
	out.WriteString(strings.TrimSpace(b.Instruction))
	out.WriteString("\n\n")
	if r.LLM != nil {
		if s := r.summary(ctx, b); s != "" {
			out.WriteString(s)
			out.WriteString("\n\n")
		}
	}
	gens := b.Generations()
	fmt.Fprintf(&out, "Accepted on attempt %d (%d generation%s).\n", b.Attempt+1, gens, plural(gens))

	out.WriteString("\n## Changes\n\n")
	out.WriteString("| file | status | + | - |\n|---|---|---|---|\n")
	for _, f := range stats.Files {
		status := "modified"
		if f.New {
			status = "created"
		}
		fmt.Fprintf(&out, "| %s | %s | %d | %d |\n", f.Path, status, f.Added, f.Removed)
	}
	fmt.Fprintf(&out, "\n%s\n", stats)

	if b.Verdict != nil && len(b.Verdict.Tests) > 0 {
		out.WriteString("\n## Tests\n\n")
		out.WriteString(bulletList(b.Verdict.Tests))
	}

	files := make(map[string][]byte, len(b.Patch.Files))
	for _, f := range b.Patch.Files {
		files[f.Path] = []byte(f.Content)
	}
	out.WriteString("\n## Updated tree\n\n```\n")
	out.WriteString(scan.Render(scan.Overlay(b.Tree, files)))
	out.WriteString("```\n")
	return out.String(), nil
}

func (r *Recapper) summary(ctx context.Context, b *state.Blackboard) string {
	d := b.Patch.Diff
	if len(d) > maxRecapDiff {
		d = d[:maxRecapDiff]
	}
	s, err := r.LLM.Complete(ctx, llm.Request{
		System: recapSystem,
		Prompt: ExpandVars(recapPrompt, map[string]string{
			"INSTRUCTION": b.Instruction,
			"DIFF":        d,
		}),
		MaxTokens: 512,
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
