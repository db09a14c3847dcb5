package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jorge-barreto/patchr/internal/fileblocks"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// MaxTasks bounds a plan; longer replies are treated as runaway output.
const MaxTasks = 25

var (
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*\S)\s*$`)
	taskPrefixRe = regexp.MustCompile(`(?i)^\[(create|modify)\s+([^\]\s]+)\]\s*(.*)$`)
)

// Decomposer asks the model for an ordered edit plan.
type Decomposer struct {
	LLM llm.Client
}

func (d *Decomposer) Decompose(ctx context.Context, c *state.Constraints, notes []string, tree scan.Tree) ([]state.Task, error) {
	if d.LLM == nil {
		return nil, errors.New("decompose: no model configured")
	}
	cj, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	reply, err := d.LLM.Complete(ctx, llm.Request{
		System: decomposeSystem,
		Prompt: ExpandVars(decomposePrompt, map[string]string{
			"TREE":        scan.Render(tree),
			"CONSTRAINTS": string(cj),
			"NOTES":       section("Relevant design notes", bulletList(notes)),
		}),
	})
	if err != nil {
		return nil, err
	}
	tasks := ParseTasks(reply)
	if len(tasks) > MaxTasks {
		return nil, fmt.Errorf("plan has %d tasks (max %d)", len(tasks), MaxTasks)
	}
	return tasks, nil
}

// ParseTasks reads bullet lines from reply. A bullet may start with
// [create PATH] or [modify PATH].
func ParseTasks(reply string) []state.Task {
	tasks := []state.Task{}
	for _, line := range strings.Split(reply, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t := state.Task{Description: m[1]}
		if p := taskPrefixRe.FindStringSubmatch(m[1]); p != nil {
			t.Action = strings.ToLower(p[1])
			t.Path = fileblocks.CleanPath(p[2])
			t.Description = strings.TrimSpace(p[3])
		}
		tasks = append(tasks, t)
	}
	return tasks
}
