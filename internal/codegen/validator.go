// Package codegen produces and gates LLM-generated extraction code. The
// validator is the last safety gate before code reaches an execution backend
// or the parser-code cache; it never runs the code.
package codegen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"moneywright/internal/sandbox"
)

// SyntaxError reports that candidate code is not parseable Go.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("syntax error: %v", e.Err) }
func (e *SyntaxError) Unwrap() error { return e.Err }

// ViolationType categorizes a rejected capability.
type ViolationType string

const (
	ViolationForbiddenImport ViolationType = "forbidden_import"
	ViolationDangerousCall   ViolationType = "dangerous_call"
	ViolationMissingEntry    ViolationType = "missing_entry_point"
	ViolationBadSignature    ViolationType = "bad_signature"
)

// Violation is one rejected capability reference.
type Violation struct {
	Type        ViolationType
	Description string
}

// ValidationError reports that candidate code references capabilities outside
// the allow-list. Code failing this gate is discarded: never cached, never
// executed.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	descriptions := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		descriptions[i] = fmt.Sprintf("%s: %s", v.Type, v.Description)
	}
	return "code validation failed: " + strings.Join(descriptions, "; ")
}

// dangerousSelectors are package-qualified calls rejected even when the
// import gate is somehow bypassed (dot imports, aliasing is caught by path).
var dangerousSelectors = map[string]string{
	"os":      "filesystem/process access",
	"exec":    "process execution",
	"net":     "network access",
	"http":    "network access",
	"syscall": "system calls",
	"plugin":  "dynamic code loading",
	"reflect": "reflection",
	"unsafe":  "unsafe memory access",
}

// CheckSyntax confirms the candidate program parses in isolation, without
// executing it.
func CheckSyntax(code string) error {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "generated.go", sandbox.WrapProgram(code), parser.ParseComments); err != nil {
		return &SyntaxError{Err: err}
	}
	return nil
}

// ValidateCode statically rejects code referencing disallowed capabilities:
// network, filesystem, process control, dynamic imports, or construction of
// further executable code. It also requires the ParseDocument entry point
// with the expected signature, so cached code is always invocable.
func ValidateCode(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", sandbox.WrapProgram(code), parser.ParseComments)
	if err != nil {
		return &SyntaxError{Err: err}
	}

	var violations []Violation

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !sandbox.AllowedImport(path) {
			violations = append(violations, Violation{
				Type:        ViolationForbiddenImport,
				Description: fmt.Sprintf("import %q is not on the allow-list", path),
			})
		}
	}

	entry := findEntryPoint(file)
	if entry == nil {
		violations = append(violations, Violation{
			Type:        ViolationMissingEntry,
			Description: fmt.Sprintf("function %s not defined", sandbox.EntryPoint),
		})
	} else if !entrySignatureOK(entry) {
		violations = append(violations, Violation{
			Type:        ViolationBadSignature,
			Description: fmt.Sprintf("%s must be func(string) (string, error)", sandbox.EntryPoint),
		})
	}

	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		// Only flag bare package identifiers, not fields of local values.
		if ident.Obj != nil {
			return true
		}
		if capability, bad := dangerousSelectors[ident.Name]; bad {
			violations = append(violations, Violation{
				Type:        ViolationDangerousCall,
				Description: fmt.Sprintf("%s.%s (%s)", ident.Name, sel.Sel.Name, capability),
			})
		}
		return true
	})

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func findEntryPoint(file *ast.File) *ast.FuncDecl {
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == sandbox.EntryPoint && fn.Recv == nil {
			return fn
		}
	}
	return nil
}

func entrySignatureOK(fn *ast.FuncDecl) bool {
	params := fn.Type.Params
	results := fn.Type.Results
	if params == nil || results == nil {
		return false
	}
	if countFields(params) != 1 || countFields(results) != 2 {
		return false
	}
	return isIdent(params.List[0].Type, "string") &&
		isIdent(results.List[0].Type, "string") &&
		isIdent(results.List[len(results.List)-1].Type, "error")
}

func countFields(list *ast.FieldList) int {
	n := 0
	for _, f := range list.List {
		if len(f.Names) == 0 {
			n++
			continue
		}
		n += len(f.Names)
	}
	return n
}

func isIdent(expr ast.Expr, name string) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == name
}
