package gate

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

// Python import names whose distribution is published under another name.
var pyDistributions = map[string]string{
	"yaml":     "pyyaml",
	"cv2":      "opencv-python",
	"PIL":      "pillow",
	"sklearn":  "scikit-learn",
	"bs4":      "beautifulsoup4",
	"dateutil": "python-dateutil",
	"dotenv":   "python-dotenv",
	"jwt":      "pyjwt",
	"google":   "protobuf",
}

var requirementNameRe = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._\-]*)`)

// resolver answers import questions against the snapshot overlaid with the patch.
type resolver struct {
	tree      scan.Tree
	patch     map[string]string
	patchDirs map[string]bool
	modPath   string
	requires  []string
	pyDeps    map[string]bool
}

func newResolver(tree scan.Tree, files []state.File) *resolver {
	r := &resolver{
		tree:      tree,
		patch:     make(map[string]string, len(files)),
		patchDirs: make(map[string]bool),
		pyDeps:    make(map[string]bool),
	}
	for _, f := range files {
		r.patch[f.Path] = f.Content
		for d := path.Dir(f.Path); d != "." && d != "/"; d = path.Dir(d) {
			r.patchDirs[d] = true
		}
	}
	if src, ok := r.content("go.mod"); ok {
		if mf, err := modfile.Parse("go.mod", []byte(src), nil); err == nil {
			if mf.Module != nil {
				r.modPath = mf.Module.Mod.Path
			}
			for _, req := range mf.Require {
				r.requires = append(r.requires, req.Mod.Path)
			}
		}
	}
	if src, ok := r.content("requirements.txt"); ok {
		r.addRequirements(src)
	}
	if src, ok := r.content("pyproject.toml"); ok {
		r.addPyproject(src)
	}
	return r
}

// content returns a file's text, preferring the patched version.
func (r *resolver) content(p string) (string, bool) {
	if c, ok := r.patch[p]; ok {
		return c, true
	}
	if e, ok := r.tree.Get(p); ok && e.Content != nil {
		return string(e.Content), true
	}
	return "", false
}

func (r *resolver) exists(p string) bool {
	_, ok := r.patch[p]
	return ok || r.tree.Has(p)
}

func (r *resolver) hasDir(d string) bool {
	return r.patchDirs[d] || r.tree.HasDir(d)
}

// resolve returns a diagnostic for an unresolved import and, when known, a dependency to add.
func (r *resolver) resolve(lang, file string, imp importRef) (string, string) {
	switch lang {
	case langGo:
		return r.resolveGo(file, imp)
	case langPython:
		return r.resolvePython(file, imp)
	}
	return "", ""
}

func (r *resolver) resolveGo(file string, imp importRef) (string, string) {
	p := imp.path
	first, _, _ := strings.Cut(p, "/")
	if !strings.Contains(first, ".") {
		return "", ""
	}
	if err := module.CheckImportPath(p); err != nil {
		return fmt.Sprintf("%s:%d: invalid import path %q: %v", file, imp.line, p, err), ""
	}
	if r.modPath != "" && (p == r.modPath || strings.HasPrefix(p, r.modPath+"/")) {
		rel := strings.TrimPrefix(strings.TrimPrefix(p, r.modPath), "/")
		if rel == "" || r.hasDir(rel) {
			return "", ""
		}
		return fmt.Sprintf("%s:%d: package %q not found in module %s", file, imp.line, p, r.modPath), ""
	}
	for _, req := range r.requires {
		if p == req || strings.HasPrefix(p, req+"/") {
			return "", ""
		}
	}
	return fmt.Sprintf("%s:%d: unresolved import %q: no requirement in go.mod provides it", file, imp.line, p),
		goModuleGuess(p)
}

// goModuleGuess trims an import path to its likely module root.
func goModuleGuess(p string) string {
	parts := strings.Split(p, "/")
	switch parts[0] {
	case "github.com", "gitlab.com", "bitbucket.org":
		if len(parts) > 3 {
			return strings.Join(parts[:3], "/")
		}
	}
	return p
}

func (r *resolver) resolvePython(file string, imp importRef) (string, string) {
	top, _, _ := strings.Cut(imp.path, ".")
	if pyStdlib[top] {
		return "", ""
	}
	for _, dir := range []string{path.Dir(file), ".", "src"} {
		base := top
		if dir != "." {
			base = dir + "/" + top
		}
		if r.exists(base+".py") || r.hasDir(base) {
			return "", ""
		}
	}
	dist := top
	if d, ok := pyDistributions[top]; ok {
		dist = d
	}
	if r.pyDeps[normalizeDist(dist)] || r.pyDeps[normalizeDist(top)] {
		return "", ""
	}
	return fmt.Sprintf("%s:%d: unresolved import %q: not in the standard library, the project, or its requirements",
		file, imp.line, imp.path), dist
}

func (r *resolver) addRequirements(src string) {
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if m := requirementNameRe.FindStringSubmatch(line); m != nil {
			r.pyDeps[normalizeDist(m[1])] = true
		}
	}
}

// addPyproject reads the quoted entries of any dependencies = [...] array.
func (r *resolver) addPyproject(src string) {
	in := false
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !in {
			key, rest, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(key) != "dependencies" {
				continue
			}
			line = strings.TrimSpace(rest)
			if !strings.HasPrefix(line, "[") {
				continue
			}
			in = true
		}
		for _, q := range quoted(line) {
			if m := requirementNameRe.FindStringSubmatch(q); m != nil {
				r.pyDeps[normalizeDist(m[1])] = true
			}
		}
		if strings.Contains(line, "]") {
			in = false
		}
	}
}

func quoted(s string) []string {
	var out []string
	for {
		i := strings.IndexAny(s, `"'`)
		if i < 0 {
			return out
		}
		q := s[i]
		j := strings.IndexByte(s[i+1:], q)
		if j < 0 {
			return out
		}
		out = append(out, s[i+1:i+1+j])
		s = s[i+j+2:]
	}
}

func normalizeDist(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(name))
}

// packageClauseProblems reports directories touched by the patch whose Go files
// disagree on the package name.
func packageClauseProblems(reports []*report, tree scan.Tree, files []state.File) []string {
	type member struct{ file, pkg string }
	byDir := make(map[string][]member)
	patched := make(map[string]bool, len(files))
	for _, r := range reports {
		if r.lang != langGo || r.pkg == "" {
			continue
		}
		patched[r.path] = true
		byDir[path.Dir(r.path)] = append(byDir[path.Dir(r.path)], member{r.path, basePackage(r.path, r.pkg)})
	}
	for _, e := range tree {
		d := path.Dir(e.Path)
		if _, touched := byDir[d]; !touched || patched[e.Path] || path.Ext(e.Path) != ".go" || e.Content == nil {
			continue
		}
		if pkg := packageName(e.Path, string(e.Content)); pkg != "" {
			byDir[d] = append(byDir[d], member{e.Path, basePackage(e.Path, pkg)})
		}
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var problems []string
	for _, d := range dirs {
		members := byDir[d]
		sort.Slice(members, func(i, j int) bool { return members[i].file < members[j].file })
		first := members[0]
		for _, m := range members[1:] {
			if m.pkg != first.pkg {
				problems = append(problems, fmt.Sprintf("%s: package %s conflicts with package %s in %s",
					m.file, m.pkg, first.pkg, first.file))
			}
		}
	}
	return problems
}

func basePackage(file, pkg string) string {
	if strings.HasSuffix(file, "_test.go") {
		return strings.TrimSuffix(pkg, "_test")
	}
	return pkg
}
