package gate

import (
	"context"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Calls that may not run at module import time, even inside an assignment.
var pyBannedCalls = map[string]bool{
	"eval":                    true,
	"exec":                    true,
	"__import__":              true,
	"os.system":               true,
	"os.popen":                true,
	"os.remove":               true,
	"os.unlink":               true,
	"os.rmdir":                true,
	"os.removedirs":           true,
	"shutil.rmtree":           true,
	"subprocess.run":          true,
	"subprocess.call":         true,
	"subprocess.Popen":        true,
	"subprocess.check_call":   true,
	"subprocess.check_output": true,
}

// Top-level calls allowed as bare statements. They configure the process
// without touching files, processes or the network.
var pyConfigCalls = map[string]bool{
	"logging.basicConfig":     true,
	"logging.captureWarnings": true,
	"warnings.filterwarnings": true,
	"warnings.simplefilter":   true,
}

func analyzePython(ctx context.Context, r *report, src string) error {
	code := []byte(src)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		r.syntax = pySyntaxError(r.path, root, code)
		return nil
	}

	isTest := isPyTestFile(r.path)
	seenTests := make(map[string]bool)
	aliases := make(map[string]string) // local name -> qualified name
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		pos := nodePos(r.path, n)
		switch n.Type() {
		case "import_statement", "import_from_statement":
			r.imports = append(r.imports, pyImports(n, code)...)
			pyBindImports(n, code, aliases)
		case "future_import_statement", "class_definition", "function_definition",
			"decorated_definition", "comment":
		case "expression_statement":
			if reason := pyExpressionStatement(n, code, aliases); reason != "" {
				r.unsafe = append(r.unsafe, fmt.Sprintf("%s: %s", pos, reason))
			}
		case "if_statement":
			switch {
			case isMainGuard(n, code):
			case isTypeCheckingGuard(n, code):
				if reason := pyGuardedBlock(n.ChildByFieldName("consequence"), code, aliases); reason != "" {
					r.unsafe = append(r.unsafe, fmt.Sprintf("%s: TYPE_CHECKING block %s", pos, reason))
				}
			default:
				r.unsafe = append(r.unsafe, fmt.Sprintf("%s: top-level if statement outside a __main__ guard", pos))
			}
		case "try_statement":
			if reason := pyImportGuard(n, code, aliases); reason != "" {
				r.unsafe = append(r.unsafe, fmt.Sprintf("%s: top-level try statement %s", pos, reason))
			}
		default:
			r.unsafe = append(r.unsafe, fmt.Sprintf("%s: top-level %s executes on import", pos, n.Type()))
		}
		if isTest {
			collectPyTests(r, n, code, seenTests)
		}
	}
	return nil
}

// pyExpressionStatement allows docstrings, assignments and configuration
// calls, as long as nothing in them reaches a banned call.
func pyExpressionStatement(n *sitter.Node, code []byte, aliases map[string]string) string {
	if n.NamedChildCount() != 1 {
		return "top-level expression executes on import"
	}
	child := n.NamedChild(0)
	switch child.Type() {
	case "string", "concatenated_string":
		return ""
	case "assignment":
		if call := pyBannedCall(child, code, aliases); call != "" {
			return fmt.Sprintf("module-level assignment calls %s", call)
		}
		return ""
	case "augmented_assignment":
		left := child.ChildByFieldName("left")
		if left == nil || left.Content(code) != "__all__" {
			break
		}
		if call := pyBannedCall(child, code, aliases); call != "" {
			return fmt.Sprintf("module-level assignment calls %s", call)
		}
		return ""
	case "call":
		fn := child.ChildByFieldName("function")
		if fn == nil || !pyConfigCalls[pyResolve(fn, code, aliases)] {
			break
		}
		if call := pyBannedCall(child, code, aliases); call != "" {
			return fmt.Sprintf("module-level call passes %s", call)
		}
		return ""
	}
	return fmt.Sprintf("top-level %s executes on import", child.Type())
}

// pyBannedCall returns the first banned call under n, with import aliases
// resolved. Lambdas are skipped unless they are invoked in place.
func pyBannedCall(n *sitter.Node, code []byte, aliases map[string]string) string {
	if n.Type() == "lambda" {
		return ""
	}
	if n.Type() == "call" {
		if fn := n.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "lambda", "parenthesized_expression":
				return "an immediately invoked expression"
			}
			if name := pyResolve(fn, code, aliases); pyBannedCalls[name] {
				return name
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if call := pyBannedCall(n.NamedChild(i), code, aliases); call != "" {
			return call
		}
	}
	return ""
}

// pyResolve qualifies a callee through the module's imports, so that
// "sp.run" after "import subprocess as sp" reads "subprocess.run".
func pyResolve(fn *sitter.Node, code []byte, aliases map[string]string) string {
	name := strings.Join(strings.Fields(fn.Content(code)), "")
	head, rest, dotted := strings.Cut(name, ".")
	q, ok := aliases[head]
	switch {
	case !ok:
		return name
	case dotted:
		return q + "." + rest
	}
	return q
}

// pyBindImports records the local names an import statement introduces.
func pyBindImports(n *sitter.Node, code []byte, aliases map[string]string) {
	if n.Type() == "import_statement" {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				head, _, _ := strings.Cut(c.Content(code), ".")
				aliases[head] = head
			case "aliased_import":
				name, alias := c.ChildByFieldName("name"), c.ChildByFieldName("alias")
				if name != nil && alias != nil {
					aliases[alias.Content(code)] = name.Content(code)
				}
			}
		}
		return
	}

	mod := n.ChildByFieldName("module_name")
	if mod == nil || mod.Type() == "relative_import" {
		return
	}
	module := mod.Content(code)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.StartByte() == mod.StartByte() {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			aliases[c.Content(code)] = module + "." + c.Content(code)
		case "aliased_import":
			name, alias := c.ChildByFieldName("name"), c.ChildByFieldName("alias")
			if name != nil && alias != nil {
				aliases[alias.Content(code)] = module + "." + name.Content(code)
			}
		case "wildcard_import":
			for call := range pyBannedCalls {
				if local, ok := strings.CutPrefix(call, module+"."); ok && !strings.Contains(local, ".") {
					aliases[local] = call
				}
			}
		}
	}
}

// pyImportGuard accepts a try statement whose every branch only imports,
// assigns or passes, the usual optional-dependency fallback.
func pyImportGuard(n *sitter.Node, code []byte, aliases map[string]string) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "block":
			if reason := pyGuardedBlock(c, code, aliases); reason != "" {
				return reason
			}
		case "except_clause", "else_clause", "finally_clause":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if b := c.NamedChild(j); b.Type() == "block" {
					if reason := pyGuardedBlock(b, code, aliases); reason != "" {
						return reason
					}
				}
			}
		}
	}
	return ""
}

// pyGuardedBlock checks the body of an import guard. Imports inside a guard
// are optional by construction, so they bind names but are not resolved
// against the manifests.
func pyGuardedBlock(b *sitter.Node, code []byte, aliases map[string]string) string {
	if b == nil {
		return "has no body"
	}
	for i := 0; i < int(b.NamedChildCount()); i++ {
		s := b.NamedChild(i)
		switch s.Type() {
		case "import_statement", "import_from_statement":
			pyBindImports(s, code, aliases)
		case "pass_statement", "comment":
		case "expression_statement":
			if reason := pyExpressionStatement(s, code, aliases); reason != "" {
				return reason
			}
		default:
			return fmt.Sprintf("may only import, assign or pass, found %s", s.Type())
		}
	}
	return ""
}

func isTypeCheckingGuard(n *sitter.Node, code []byte) bool {
	if n.ChildByFieldName("alternative") != nil {
		return false
	}
	cond := n.ChildByFieldName("condition")
	if cond == nil {
		return false
	}
	switch strings.TrimSpace(cond.Content(code)) {
	case "TYPE_CHECKING", "typing.TYPE_CHECKING":
		return true
	}
	return false
}

func isMainGuard(n *sitter.Node, code []byte) bool {
	if n.ChildByFieldName("alternative") != nil {
		return false
	}
	cond := n.ChildByFieldName("condition")
	if cond == nil {
		return false
	}
	c := strings.Join(strings.Fields(cond.Content(code)), "")
	switch c {
	case `__name__=="__main__"`, `__name__=='__main__'`, `"__main__"==__name__`, `'__main__'==__name__`:
		return true
	}
	return false
}

func pyImports(n *sitter.Node, code []byte) []importRef {
	line := int(n.StartPoint().Row) + 1
	var refs []importRef
	if n.Type() == "import_from_statement" {
		mod := n.ChildByFieldName("module_name")
		if mod == nil || mod.Type() == "relative_import" {
			return nil
		}
		return []importRef{{path: mod.Content(code), line: line}}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			refs = append(refs, importRef{path: c.Content(code), line: line})
		case "aliased_import":
			if name := c.ChildByFieldName("name"); name != nil {
				refs = append(refs, importRef{path: name.Content(code), line: line})
			}
		}
	}
	return refs
}

func isPyTestFile(p string) bool {
	base := path.Base(p)
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py")
}

func collectPyTests(r *report, n *sitter.Node, code []byte, seen map[string]bool) {
	if n.Type() == "decorated_definition" {
		if def := n.ChildByFieldName("definition"); def != nil {
			n = def
		}
	}
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nameNode.Content(code)
	switch {
	case n.Type() == "function_definition" && strings.HasPrefix(name, "test"):
		addPyTest(r, n, name, seen)
	case n.Type() == "class_definition" && strings.HasPrefix(name, "Test"):
		body := n.ChildByFieldName("body")
		if body == nil {
			return
		}
		for i := 0; i < int(body.NamedChildCount()); i++ {
			m := body.NamedChild(i)
			if m.Type() == "decorated_definition" {
				if def := m.ChildByFieldName("definition"); def != nil {
					m = def
				}
			}
			if m.Type() != "function_definition" {
				continue
			}
			if mn := m.ChildByFieldName("name"); mn != nil && strings.HasPrefix(mn.Content(code), "test") {
				addPyTest(r, m, name+"::"+mn.Content(code), seen)
			}
		}
	}
}

func addPyTest(r *report, n *sitter.Node, name string, seen map[string]bool) {
	if seen[name] {
		r.testProblems = append(r.testProblems,
			fmt.Sprintf("%s: %s is redefined and only the last definition is collected", nodePos(r.path, n), name))
		return
	}
	seen[name] = true
	r.tests = append(r.tests, r.path+"::"+name)
}

func pySyntaxError(p string, root *sitter.Node, code []byte) string {
	n := firstErrorNode(root, 0)
	if n == nil {
		return fmt.Sprintf("%s: invalid syntax", p)
	}
	if n.IsMissing() {
		return fmt.Sprintf("%s: missing %q", nodePos(p, n), n.Type())
	}
	near := strings.TrimSpace(n.Content(code))
	if len(near) > 40 {
		near = near[:40] + "..."
	}
	if near == "" {
		return fmt.Sprintf("%s: invalid syntax", nodePos(p, n))
	}
	return fmt.Sprintf("%s: invalid syntax near %q", nodePos(p, n), near)
}

func firstErrorNode(n *sitter.Node, depth int) *sitter.Node {
	if depth > 1000 {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}

func nodePos(p string, n *sitter.Node) string {
	pt := n.StartPoint()
	return fmt.Sprintf("%s:%d:%d", p, pt.Row+1, pt.Column+1)
}
