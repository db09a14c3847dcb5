// Package diff renders whole-file proposals as unified diffs against the
// project snapshot and summarizes them.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// File returns the unified diff turning before into after. An empty before
// renders as a new file. Identical content yields "".
func File(path, before, after string, isNew bool) string {
	if before == after && !isNew {
		return ""
	}
	from := "a/" + path
	if isNew {
		from = "/dev/null"
	}
	edits := myers.ComputeEdits(span.URIFromPath(path), before, after)
	return fmt.Sprint(gotextdiff.ToUnified(from, "b/"+path, before, edits))
}

// Patch renders every file in files against tree, in path order.
func Patch(tree scan.Tree, files []state.File) string {
	sorted := make([]state.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for _, f := range sorted {
		e, ok := tree.Get(f.Path)
		b.WriteString(File(f.Path, string(e.Content), f.Content, !ok))
	}
	return b.String()
}

// FileStat is the per-file line count of a patch.
type FileStat struct {
	Path    string
	Added   int
	Removed int
	New     bool
}

// Stats summarizes a unified diff.
type Stats struct {
	Files   []FileStat
	Added   int
	Removed int
}

// Summarize parses a multi-file unified diff.
func Summarize(patch string) (*Stats, error) {
	fds, err := godiff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	st := &Stats{}
	for _, fd := range fds {
		fs := FileStat{
			Path: strings.TrimPrefix(fd.NewName, "b/"),
			New:  fd.OrigName == "/dev/null",
		}
		for _, h := range fd.Hunks {
			for _, line := range strings.Split(string(h.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					fs.Added++
				case strings.HasPrefix(line, "-"):
					fs.Removed++
				}
			}
		}
		st.Added += fs.Added
		st.Removed += fs.Removed
		st.Files = append(st.Files, fs)
	}
	return st, nil
}

// String renders the stats like "3 files changed, +40 -2".
func (s *Stats) String() string {
	noun := "files"
	if len(s.Files) == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d %s changed, +%d -%d", len(s.Files), noun, s.Added, s.Removed)
}
