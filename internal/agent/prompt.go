// Package agent holds the concrete phase agents: constraint extraction,
// architecture recall, task decomposition, code generation and recap.
package agent

import (
	"os"
	"strconv"
	"strings"

	"github.com/jorge-barreto/patchr/internal/state"
)

// ExpandVars substitutes $VAR and ${VAR} in template using vars, falling
// back to environment variables.
func ExpandVars(template string, vars map[string]string) string {
	return os.Expand(template, func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

const extractSystem = `You are a JSON-only extraction engine. Never add commentary. Return a single JSON object and nothing else.`

const extractPrompt = `## User instruction
${INSTRUCTION}

## Directory tree
${TREE}
----
Extract a JSON object with these keys:
  - "projectName"    (string)
  - "nonDestructive" (boolean, true unless the user explicitly allows overwriting files)
  - "wantsNewAgent"  (boolean)
  - "brief"          (short one-line string)
Return ONLY the JSON; do not wrap it in backticks.`

const decomposeSystem = `You are a senior software architect. Given a codebase tree and user constraints, list the minimal ordered steps needed to apply the change without breaking the existing architecture. Return ONLY the bullet list.`

const decomposePrompt = `## Directory tree
${TREE}

## Constraints
${CONSTRAINTS}
${NOTES}
---
Produce an ordered bullet list (use "-" or "1." prefixes) of the edits required.
Start each bullet with [create PATH] for a new file or [modify PATH] for an
existing file, followed by a one-line description. At most 25 bullets.`

const generateSystem = `You are a careful software engineer. You write complete files, never fragments. Module-level code must not run side effects: no network, filesystem or subprocess calls outside function bodies.`

const generatePrompt = `## Instruction
${INSTRUCTION}

## Tasks
${TASKS}

## Directory tree
${TREE}
${NOTES}${FILES}${FEEDBACK}
---
Reply with the full content of every file you create or change, each in its own
fenced block annotated with the path, for example:

` + "```python file=agents/weather.py" + `
...
` + "```" + `

Only the annotated blocks are applied. If you add a third-party import, also
emit the updated dependency manifest (requirements.txt, pyproject.toml or go.mod).`

const recapSystem = `You summarize code changes for a reviewer in two or three plain sentences. No lists, no headings.`

const recapPrompt = `Instruction: ${INSTRUCTION}

Diff:
${DIFF}`

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return b.String()
}

func taskList(tasks []state.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		if t.Action != "" {
			b.WriteString("[" + t.Action + " " + t.Path + "] ")
		}
		b.WriteString(t.Description)
		b.WriteByte('\n')
	}
	return b.String()
}

func section(title, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return "\n## " + title + "\n" + body
}
