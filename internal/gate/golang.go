package gate

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Packages whose calls may not run from a package-level initializer.
var bannedInitPackages = map[string]bool{
	"os":        true,
	"os/exec":   true,
	"syscall":   true,
	"net":       true,
	"net/http":  true,
	"io/ioutil": true,
	"plugin":    true,
}

// Pure calls into banned packages that stay allowed at package level.
var allowedInitCalls = map[string]bool{
	"os.Getenv":           true,
	"os.LookupEnv":        true,
	"net.ParseIP":         true,
	"net.IPv4":            true,
	"net.IPv4Mask":        true,
	"net.CIDRMask":        true,
	"net/http.StatusText": true,
}

func analyzeGo(r *report, src string) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, r.path, src, parser.AllErrors|parser.SkipObjectResolution)
	if err != nil {
		r.syntax = goSyntaxError(r.path, err)
		return
	}
	r.pkg = file.Name.Name

	names := make(map[string]string) // local name -> import path
	testingName := ""
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		r.imports = append(r.imports, importRef{path: p, line: fset.Position(spec.Pos()).Line})
		local := path.Base(p)
		if spec.Name != nil {
			local = spec.Name.Name
		}
		names[local] = p
		if p == "testing" && testingName == "" {
			testingName = local
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.Name == "init" {
				r.unsafe = append(r.unsafe, fmt.Sprintf("%s: func init runs on import",
					fset.Position(d.Pos())))
			}
		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				vs := spec.(*ast.ValueSpec)
				for _, v := range vs.Values {
					if call := bannedCall(v, names); call != "" {
						r.unsafe = append(r.unsafe, fmt.Sprintf("%s: package-level initializer calls %s",
							fset.Position(v.Pos()), call))
					}
				}
			}
		}
	}

	if strings.HasSuffix(r.path, "_test.go") {
		collectGoTests(r, fset, file, testingName)
	}
}

// bannedCall returns the first pkg.Func call in expr that targets a banned package.
// Function literals are skipped unless they are invoked in place, since only
// then does their body run at init.
func bannedCall(expr ast.Expr, names map[string]string) string {
	var found string
	invoked := make(map[*ast.FuncLit]bool)
	ast.Inspect(expr, func(n ast.Node) bool {
		if found != "" {
			return false
		}
		switch n := n.(type) {
		case *ast.FuncLit:
			return invoked[n]
		case *ast.CallExpr:
			if lit, ok := ast.Unparen(n.Fun).(*ast.FuncLit); ok {
				invoked[lit] = true
			}
			sel, ok := n.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			id, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			if p, ok := names[id.Name]; ok && bannedInitPackages[p] {
				call := p + "." + sel.Sel.Name
				if !allowedInitCalls[call] {
					found = call
					return false
				}
			}
		}
		return true
	})
	return found
}

func collectGoTests(r *report, fset *token.FileSet, file *ast.File, testingName string) {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		name := fn.Name.Name
		var want string
		switch {
		case name == "TestMain":
			continue
		case isTestName(name, "Test"):
			want = "T"
		case isTestName(name, "Benchmark"):
			want = "B"
		default:
			continue
		}
		if !hasTestingParam(fn, testingName, want) {
			r.testProblems = append(r.testProblems, fmt.Sprintf("%s: %s has malformed signature, want func(*testing.%s)",
				fset.Position(fn.Pos()), name, want))
			continue
		}
		if want == "T" {
			r.tests = append(r.tests, r.path+":"+name)
		}
	}
}

// isTestName mirrors go test: the prefix must be followed by end of name or a non-lowercase rune.
func isTestName(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return !unicode.IsLower(r)
}

func hasTestingParam(fn *ast.FuncDecl, testingName, want string) bool {
	if testingName == "" || fn.Type.Results != nil || fn.Type.TypeParams != nil {
		return false
	}
	params := fn.Type.Params.List
	if len(params) != 1 || len(params[0].Names) > 1 {
		return false
	}
	star, ok := params[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	id, ok := sel.X.(*ast.Ident)
	return ok && id.Name == testingName && sel.Sel.Name == want
}

func goSyntaxError(p string, err error) string {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		msg := list[0].Error()
		if len(list) > 1 {
			msg += fmt.Sprintf(" (and %d more)", len(list)-1)
		}
		return msg
	}
	return fmt.Sprintf("%s: %v", p, err)
}

// packageName reads only the package clause of a Go source file.
func packageName(p, src string) string {
	f, err := parser.ParseFile(token.NewFileSet(), p, src, parser.PackageClauseOnly)
	if err != nil {
		return ""
	}
	return f.Name.Name
}
