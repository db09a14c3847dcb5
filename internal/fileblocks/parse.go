// Package fileblocks extracts whole-file proposals from model output.
package fileblocks

import (
	"path"
	"regexp"
	"strings"
)

// FileBlock is a single file proposed by a model reply.
type FileBlock struct {
	Path    string // slash-separated, relative to the project root
	Lang    string // fence info string, may be empty
	Content string // content between the fences, newline-terminated
}

var fenceOpenRe = regexp.MustCompile("^```([\\w+-]*)\\s*(?:file|path)=\"?([^\\s\"]+)\"?")

// Parse extracts fenced code blocks annotated with file= from text.
// It recognizes opening fences like:
//
//	```python file=agents/weather.py
//	```file=go.mod
//	```yaml path="config/agents.yaml"
//
// Blocks come back in order of appearance. An unterminated block at the end
// of the text is dropped.
func Parse(text string) []FileBlock {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var blocks []FileBlock
	var current *FileBlock
	var buf strings.Builder

	for _, line := range lines {
		if current != nil {
			if strings.TrimSpace(line) == "```" {
				current.Content = buf.String()
				blocks = append(blocks, *current)
				current = nil
				buf.Reset()
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		m := fenceOpenRe.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil {
			current = &FileBlock{Lang: m[1], Path: CleanPath(m[2])}
			buf.Reset()
		}
	}

	return blocks
}

// CleanPath normalizes a model-supplied path: forward slashes, no leading
// "./" or "/". It returns "" for paths that escape the root.
func CleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

// Latest keeps the last block for each path, preserving first-seen order.
// Blocks with an empty path are dropped.
func Latest(blocks []FileBlock) []FileBlock {
	idx := make(map[string]int, len(blocks))
	var out []FileBlock
	for _, b := range blocks {
		if b.Path == "" {
			continue
		}
		if i, ok := idx[b.Path]; ok {
			out[i] = b
			continue
		}
		idx[b.Path] = len(out)
		out = append(out, b)
	}
	return out
}
