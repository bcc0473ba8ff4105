package synth

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// forbiddenImports are packages generated modules may never import. The
// smoke evaluator has no sandbox boundary beyond this list, so it is a
// hard reject, not a warning.
var forbiddenImports = []string{
	"os",
	"os/exec",
	"net",
	"net/http",
	"syscall",
	"unsafe",
	"plugin",
	"runtime/cgo",
	"io/ioutil",
}

// validationResult carries the findings of one AST pass.
type validationResult struct {
	PackageName string
	Imports     []string
	HasRun      bool
}

// validateSource parses src and enforces the module contract: a package
// declaration, a Run(input string) (string, error) entry function, and no
// forbidden imports. Returns a descriptive error on the first violation.
func validateSource(src string) (*validationResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "module.go", src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}

	result := &validationResult{PackageName: file.Name.Name}

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		result.Imports = append(result.Imports, path)
		for _, bad := range forbiddenImports {
			if path == bad || strings.HasPrefix(path, bad+"/") {
				return nil, fmt.Errorf("forbidden import %q", path)
			}
		}
		if strings.Contains(path, ".") {
			return nil, fmt.Errorf("non-stdlib import %q not allowed", path)
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Name.Name != "Run" || fn.Recv != nil {
			return true
		}
		if hasRunSignature(fn) {
			result.HasRun = true
		}
		return true
	})

	if !result.HasRun {
		return nil, fmt.Errorf("missing entry function Run(input string) (string, error)")
	}
	return result, nil
}

// hasRunSignature checks for exactly func Run(string) (string, error).
func hasRunSignature(fn *ast.FuncDecl) bool {
	params := fn.Type.Params
	if params == nil || len(params.List) != 1 || countNames(params.List[0]) > 1 {
		return false
	}
	if !isIdent(params.List[0].Type, "string") {
		return false
	}

	results := fn.Type.Results
	if results == nil || len(results.List) != 2 {
		return false
	}
	return isIdent(results.List[0].Type, "string") && isIdent(results.List[1].Type, "error")
}

func countNames(f *ast.Field) int {
	if len(f.Names) == 0 {
		return 1
	}
	return len(f.Names)
}

func isIdent(expr ast.Expr, name string) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == name
}
