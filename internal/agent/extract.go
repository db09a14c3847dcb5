package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Extractor turns the instruction into constraints. Without an LLM it falls
// back to keyword heuristics.
type Extractor struct {
	LLM llm.Client
}

func (e *Extractor) Extract(ctx context.Context, instruction string, tree scan.Tree) (*state.Constraints, error) {
	if e.LLM == nil {
		return Heuristic(instruction, tree), nil
	}
	reply, err := e.LLM.Complete(ctx, llm.Request{
		System: extractSystem,
		Prompt: ExpandVars(extractPrompt, map[string]string{
			"INSTRUCTION": instruction,
			"TREE":        scan.Render(tree),
		}),
	})
	if err != nil {
		return nil, err
	}
	return ParseConstraints(reply)
}

// ParseConstraints decodes the first JSON object in reply and checks the
// required keys and their types.
func ParseConstraints(reply string) (*state.Constraints, error) {
	m := jsonObjectRe.FindString(reply)
	if m == "" {
		return nil, fmt.Errorf("no JSON object found in reply")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(m), &raw); err != nil {
		return nil, fmt.Errorf("invalid constraints JSON: %w", err)
	}

	c := &state.Constraints{}
	var ok bool
	if c.ProjectName, ok = raw["projectName"].(string); !ok {
		return nil, typeError(raw, "projectName", "string")
	}
	if c.NonDestructive, ok = raw["nonDestructive"].(bool); !ok {
		return nil, typeError(raw, "nonDestructive", "boolean")
	}
	if c.WantsNewAgent, ok = raw["wantsNewAgent"].(bool); !ok {
		return nil, typeError(raw, "wantsNewAgent", "boolean")
	}
	if v, present := raw["brief"]; present && v != nil {
		if c.Brief, ok = v.(string); !ok {
			return nil, typeError(raw, "brief", "string")
		}
	}
	return c, nil
}

func typeError(raw map[string]any, key, want string) error {
	v, present := raw[key]
	if !present {
		return fmt.Errorf("constraints: missing required key %q", key)
	}
	return fmt.Errorf("constraints: key %q expected %s, got %T", key, want, v)
}

var (
	agentWordRe   = regexp.MustCompile(`(?i)\b(new|add|create)\b.*\bagents?\b`)
	overwriteRe   = regexp.MustCompile(`(?i)\b(overwrite|replace|rewrite|delete)\b`)
	sentenceEndRe = regexp.MustCompile(`[.!?\n]`)
)

const briefMax = 120

// Heuristic reads constraints from the instruction without a model.
func Heuristic(instruction string, tree scan.Tree) *state.Constraints {
	brief := strings.TrimSpace(instruction)
	if loc := sentenceEndRe.FindStringIndex(brief); loc != nil {
		brief = brief[:loc[0]]
	}
	if r := []rune(brief); len(r) > briefMax {
		brief = string(r[:briefMax])
	}
	return &state.Constraints{
		ProjectName:    projectName(tree),
		NonDestructive: !overwriteRe.MatchString(instruction),
		WantsNewAgent:  agentWordRe.MatchString(instruction),
		Brief:          brief,
	}
}

// projectName picks the most common top-level directory, or "project".
func projectName(tree scan.Tree) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, e := range tree {
		top, _, nested := strings.Cut(e.Path, "/")
		if !nested || strings.HasPrefix(top, ".") {
			continue
		}
		counts[top]++
		if n := counts[top]; n > bestN || (n == bestN && top < best) {
			best, bestN = top, n
		}
	}
	if best == "" || best == "src" {
		if e, ok := tree.Get("go.mod"); ok {
			if mod := strings.TrimPrefix(e.Preview, "module "); mod != e.Preview {
				return path.Base(strings.TrimSpace(mod))
			}
		}
	}
	if best == "" {
		return "project"
	}
	return best
}
