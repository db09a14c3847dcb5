// Package gate classifies a generated patch as PASS, NEEDS_FIX or FATAL using
// static analysis only. Nothing in the patch is executed.
package gate

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

var tracer = otel.Tracer("github.com/jorge-barreto/patchr/internal/gate")

// Input is everything the gate looks at.
type Input struct {
	Files          []state.File
	Tree           scan.Tree
	Tasks          []state.Task
	NonDestructive bool
}

// Gate runs the checks in a fixed order and stops at the first hard violation.
type Gate struct {
	// Workers bounds concurrent file parsing. Zero means GOMAXPROCS.
	Workers int
}

// New returns a gate with default settings.
func New() *Gate {
	return &Gate{}
}

// Check evaluates a patch. It returns an error only when ctx ends first.
func (g *Gate) Check(ctx context.Context, in Input) (*state.Verdict, error) {
	ctx, span := tracer.Start(ctx, "gate.Check", trace.WithAttributes(
		attribute.Int("files", len(in.Files)),
		attribute.Bool("non_destructive", in.NonDestructive),
	))
	defer span.End()

	if len(in.Files) == 0 {
		return &state.Verdict{Status: state.NeedsFix, Diagnostic: "patch contains no files"}, nil
	}

	// Path safety comes before any parsing.
	for _, f := range in.Files {
		if reason := unsafePath(f.Path); reason != "" {
			return fatal(state.KindUnsafeConstruct, fmt.Sprintf("%s: %s", f.Path, reason)), nil
		}
	}

	reports, err := g.analyze(ctx, in.Files)
	if err != nil {
		return nil, err
	}
	span.AddEvent("analyzed")

	// 1. structural safety
	for _, r := range reports {
		if len(r.unsafe) > 0 {
			return fatal(state.KindUnsafeConstruct, strings.Join(r.unsafe, "\n")), nil
		}
	}

	// 2. destructive write
	if in.NonDestructive {
		for _, f := range in.Files {
			if in.Tree.Has(f.Path) && !state.HasModifyTask(in.Tasks, f.Path) {
				return fatal(state.KindDestructiveWrite,
					fmt.Sprintf("%s: overwrites an existing file without a modify task", f.Path)), nil
			}
		}
	}

	// 3. syntax
	var syntax []string
	for _, r := range reports {
		if r.syntax != "" {
			syntax = append(syntax, r.syntax)
		}
	}
	if len(syntax) > 0 {
		return &state.Verdict{Status: state.NeedsFix, Diagnostic: strings.Join(syntax, "\n")}, nil
	}

	// 4. imports and test collection
	res := newResolver(in.Tree, in.Files)
	var problems, suggestions, tests []string
	for _, r := range reports {
		for _, imp := range r.imports {
			if msg, suggest := res.resolve(r.lang, r.path, imp); msg != "" {
				problems = append(problems, msg)
				if suggest != "" {
					suggestions = append(suggestions, suggest)
				}
			}
		}
		problems = append(problems, r.testProblems...)
		tests = append(tests, r.tests...)
	}
	problems = append(problems, packageClauseProblems(reports, in.Tree, in.Files)...)
	if len(problems) > 0 {
		return &state.Verdict{
			Status:      state.NeedsFix,
			Diagnostic:  strings.Join(problems, "\n"),
			Suggestions: dedupe(suggestions),
		}, nil
	}
	return &state.Verdict{Status: state.Pass, Tests: tests}, nil
}

// analyze parses every file concurrently. Reports keep input order.
func (g *Gate) analyze(ctx context.Context, files []state.File) ([]*report, error) {
	reports := make([]*report, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg.SetLimit(workers)
	for i, f := range files {
		eg.Go(func() error {
			r, err := analyzeFile(ctx, f)
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", f.Path, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// report is the per-file result of parsing.
type report struct {
	path         string
	lang         string
	syntax       string   // first syntax error, "" when the file parsed
	unsafe       []string // banned top-level constructs
	imports      []importRef
	pkg          string // Go package clause
	tests        []string
	testProblems []string
}

type importRef struct {
	path string
	line int
}

const (
	langGo     = "go"
	langPython = "python"
	langYAML   = "yaml"
	langJSON   = "json"
	langGoMod  = "gomod"
)

func detectLanguage(p string) string {
	if path.Base(p) == "go.mod" {
		return langGoMod
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return langGo
	case ".py":
		return langPython
	case ".yaml", ".yml":
		return langYAML
	case ".json":
		return langJSON
	}
	return ""
}

func analyzeFile(ctx context.Context, f state.File) (*report, error) {
	r := &report{path: f.Path, lang: detectLanguage(f.Path)}
	switch r.lang {
	case langGo:
		analyzeGo(r, f.Content)
	case langPython:
		if err := analyzePython(ctx, r, f.Content); err != nil {
			return nil, err
		}
	case langYAML:
		r.syntax = checkYAML(f.Path, f.Content)
	case langJSON:
		r.syntax = checkJSON(f.Path, f.Content)
	case langGoMod:
		r.syntax = checkGoMod(f.Path, f.Content)
	}
	return r, nil
}

func unsafePath(p string) string {
	switch {
	case p == "":
		return "empty path"
	case strings.HasPrefix(p, "/") || strings.Contains(p, "\\"):
		return "absolute or non-slash path"
	}
	clean := path.Clean(p)
	if clean != p {
		return "path is not clean"
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "path escapes the project root"
	}
	return ""
}

func fatal(kind state.Kind, diag string) *state.Verdict {
	return &state.Verdict{Status: state.Fatal, Kind: kind, Diagnostic: diag}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
