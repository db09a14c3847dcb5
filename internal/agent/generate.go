package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jorge-barreto/patchr/internal/diff"
	"github.com/jorge-barreto/patchr/internal/fileblocks"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/phase"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// maxContextBytes caps how much existing file content goes into a prompt.
const maxContextBytes = 64 << 10

// Generator asks the model for whole files and turns them into a patch.
type Generator struct {
	LLM llm.Client
}

func (g *Generator) Generate(ctx context.Context, req phase.GenerateRequest) (*state.Patch, error) {
	if g.LLM == nil {
		return nil, errors.New("generate: no model configured")
	}
	reply, err := g.LLM.Complete(ctx, llm.Request{
		System: generateSystem,
		Prompt: BuildGeneratePrompt(req),
	})
	if err != nil {
		return nil, err
	}

	blocks := fileblocks.Latest(fileblocks.Parse(reply))
	if len(blocks) == 0 {
		return nil, phase.Retryable(errors.New("reply contained no file blocks"))
	}
	files := make([]state.File, 0, len(blocks))
	for _, b := range blocks {
		files = append(files, state.File{Path: b.Path, Content: b.Content})
	}
	return &state.Patch{Files: files, Diff: diff.Patch(req.Tree, files)}, nil
}

// BuildGeneratePrompt renders the generation prompt for one attempt.
func BuildGeneratePrompt(req phase.GenerateRequest) string {
	return ExpandVars(generatePrompt, map[string]string{
		"INSTRUCTION": req.Instruction,
		"TASKS":       taskList(req.Tasks),
		"TREE":        scan.Render(req.Tree),
		"NOTES":       section("Design notes", bulletList(req.Notes)),
		"FILES":       section("Current content of files to modify", currentFiles(req.Tasks, req.Tree)),
		"FEEDBACK":    section("Problems with previous attempts", feedback(req)),
	})
}

func currentFiles(tasks []state.Task, tree scan.Tree) string {
	var b strings.Builder
	seen := map[string]bool{}
	for _, t := range tasks {
		if t.Path == "" || seen[t.Path] {
			continue
		}
		seen[t.Path] = true
		e, ok := tree.Get(t.Path)
		if !ok || e.Content == nil {
			continue
		}
		if b.Len()+len(e.Content) > maxContextBytes {
			fmt.Fprintf(&b, "(%s omitted, context limit reached)\n", t.Path)
			continue
		}
		fmt.Fprintf(&b, "```file=%s\n%s", t.Path, e.Content)
		if len(e.Content) > 0 && e.Content[len(e.Content)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}
	return b.String()
}

func feedback(req phase.GenerateRequest) string {
	if len(req.Diagnostics) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This is attempt %d. Fix every problem below.\n", req.Attempt+1)
	for i, d := range req.Diagnostics {
		fmt.Fprintf(&b, "\nAttempt %d:\n%s\n", i+1, d)
	}
	if len(req.Suggestions) > 0 {
		fmt.Fprintf(&b, "\nDeclare these dependencies in the manifest: %s\n", strings.Join(req.Suggestions, ", "))
	}
	return b.String()
}
