package scan

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxFileSize  = 32 * 1024 // content kept per file
	previewBytes = 120
	previewChars = 100
)

// ErrUnsafePath is returned for archive entries that are absolute or escape the root.
var ErrUnsafePath = errors.New("unsafe path in archive")

// skipDirs are directories excluded from the snapshot.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	".patchr":      true,
}

// Entry is one file of the project snapshot.
type Entry struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Preview string `json:"preview"`
	Content []byte `json:"-"`
}

// Tree is an ordered snapshot of a project. It is never modified after a run starts.
type Tree []Entry

// Get returns the entry for a slash-separated path.
func (t Tree) Get(p string) (Entry, bool) {
	i := sort.Search(len(t), func(i int) bool { return t[i].Path >= p })
	if i < len(t) && t[i].Path == p {
		return t[i], true
	}
	return Entry{}, false
}

// Has reports whether the snapshot contains p.
func (t Tree) Has(p string) bool {
	_, ok := t.Get(p)
	return ok
}

// HasDir reports whether any file in the snapshot lives under dir.
func (t Tree) HasDir(dir string) bool {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	i := sort.Search(len(t), func(i int) bool { return t[i].Path >= prefix })
	return i < len(t) && strings.HasPrefix(t[i].Path, prefix)
}

// Paths returns every path in order.
func (t Tree) Paths() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Path
	}
	return out
}

// Overlay returns a sorted copy of t with files added or replaced.
func Overlay(t Tree, files map[string][]byte) Tree {
	out := make(Tree, 0, len(t)+len(files))
	for _, e := range t {
		if _, ok := files[e.Path]; !ok {
			out = append(out, e)
		}
	}
	for p, data := range files {
		e, _ := newEntry(p, int64(len(data)), bytes.NewReader(data))
		out = append(out, e)
	}
	sortTree(out)
	return out
}

// FromDir walks root and returns a sorted snapshot.
func FromDir(root string) (Tree, error) {
	var tree Tree
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		e, err := newEntry(filepath.ToSlash(rel), info.Size(), f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		tree = append(tree, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTree(tree)
	return tree, nil
}

// FromZip opens a zip archive on disk.
func FromZip(name string) (Tree, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return FromZipBytes(data)
}

// FromZipBytes reads a zip archive held in memory, as received by the HTTP facade.
func FromZipBytes(data []byte) (Tree, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	var tree Tree
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name, err := cleanArchivePath(zf.Name)
		if err != nil {
			return nil, err
		}
		if skipped(name) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		e, err := newEntry(name, int64(zf.UncompressedSize64), rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		tree = append(tree, e)
	}
	sortTree(tree)
	return tree, nil
}

// Render prints the snapshot as an indented tree with file sizes.
func Render(t Tree) string {
	var buf strings.Builder
	var prev []string
	for _, e := range t {
		parts := strings.Split(e.Path, "/")
		dirs := parts[:len(parts)-1]
		common := 0
		for common < len(dirs) && common < len(prev) && dirs[common] == prev[common] {
			common++
		}
		for d := common; d < len(dirs); d++ {
			fmt.Fprintf(&buf, "%s├── %s/\n", strings.Repeat("│   ", d), dirs[d])
		}
		fmt.Fprintf(&buf, "%s├── %s  (%d B)\n", strings.Repeat("│   ", len(dirs)), parts[len(parts)-1], e.Size)
		prev = dirs
	}
	return buf.String()
}

func newEntry(p string, size int64, r io.Reader) (Entry, error) {
	e := Entry{Path: p, Size: size}
	limit := int64(maxFileSize)
	if size > limit {
		limit = previewBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return Entry{}, err
	}
	e.Preview = preview(data)
	if size <= maxFileSize {
		e.Content = data
	}
	return e, nil
}

func preview(data []byte) string {
	if len(data) > previewBytes {
		data = data[:previewBytes]
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > previewChars {
		line = string(r[:previewChars])
	}
	return line
}

func cleanArchivePath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return clean, nil
}

func skipped(p string) bool {
	for _, part := range strings.Split(path.Dir(p), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func sortTree(t Tree) {
	sort.Slice(t, func(i, j int) bool { return t[i].Path < t[j].Path })
}
