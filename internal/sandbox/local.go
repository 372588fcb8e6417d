package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"moneywright/internal/logging"
	"moneywright/internal/records"
)

// allowedPackages is the stdlib import allow-list for extraction code.
// Everything that reaches the OS, the network, or further code loading is
// absent: os, os/exec, net, net/http, syscall, unsafe, plugin, reflect. The
// static validator and the local interpreter share this list.
var allowedPackages = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"errors":          true,
	"math":            true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/csv":    true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"bufio":           true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// LocalExecutor interprets extraction code in-process with yaegi. Only
// allow-listed stdlib symbols are injected, and execution runs under a hard
// wall-clock budget. This backend offers materially weaker isolation than the
// remote micro-VM and exists only as a fallback when that is not configured.
type LocalExecutor struct {
	symbols interp.Exports
	budget  time.Duration
}

// NewLocal creates the constrained local backend.
func NewLocal(budget time.Duration) *LocalExecutor {
	logging.Get(logging.CategorySandbox).Warn(
		"Remote sandbox not configured; falling back to in-process interpreter with weaker isolation")
	return &LocalExecutor{
		symbols: restrictedSymbols(),
		budget:  budget,
	}
}

// Name identifies the backend.
func (l *LocalExecutor) Name() string { return "local" }

// restrictedSymbols filters yaegi's stdlib symbol table down to the
// allow-listed packages, so even code that slips an import past the static
// gate finds no os/net/syscall symbols to bind against.
func restrictedSymbols() interp.Exports {
	filtered := make(interp.Exports, len(allowedPackages))
	for path, symbols := range stdlib.Symbols {
		// yaegi keys symbols as "path/name", e.g. "encoding/json/json".
		importPath := path
		if idx := strings.LastIndex(path, "/"); idx > 0 {
			importPath = path[:idx]
		}
		if allowedPackages[importPath] {
			filtered[path] = symbols
		}
	}
	return filtered
}

// Execute interprets code and invokes its ParseDocument entry point.
func (l *LocalExecutor) Execute(ctx context.Context, code, documentText string, mode records.ParsingMode) (records.Set, error) {
	ctx, cancel := deadlineFor(ctx, l.budget)
	defer cancel()

	if err := l.validateImports(code); err != nil {
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "disallowed import", Err: err}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(l.symbols); err != nil {
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "failed to load symbols", Err: err}
	}

	if _, err := i.Eval(WrapProgram(code)); err != nil {
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "code evaluation failed", Err: err}
	}

	entry, err := i.Eval("main." + EntryPoint)
	if err != nil {
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: EntryPoint + " not found", Err: err}
	}
	parse, ok := entry.Interface().(func(string) (string, error))
	if !ok {
		return records.Set{}, &ExecutionError{
			Backend: l.Name(),
			Reason:  fmt.Sprintf("%s has wrong signature (want func(string) (string, error))", EntryPoint),
		}
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic in extraction code: %v", r)
			}
		}()
		out, err := parse(documentText)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		set, err := records.DecodeSet(mode, out)
		if err != nil {
			return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "malformed output", Err: err}
		}
		return set, nil
	case err := <-errCh:
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "runtime error", Err: err}
	case <-ctx.Done():
		// The interpreter goroutine cannot be preempted; it is abandoned and
		// its eventual result discarded via the buffered channels.
		return records.Set{}, &ExecutionError{Backend: l.Name(), Reason: "execution timed out", Timeout: true, Err: ctx.Err()}
	}
}

// validateImports rejects code importing anything off the allow-list. The
// static validator performs the authoritative check before code is cached;
// this re-check keeps the interpreter safe even for code loaded from an old
// cache row.
func (l *LocalExecutor) validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			if pkg := importPathOf(trimmed); pkg != "" && !allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			if pkg := importPathOf(strings.TrimPrefix(trimmed, "import ")); pkg != "" && !allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// importPathOf extracts the quoted import path from an import line, ignoring
// aliases.
func importPathOf(line string) string {
	start := strings.Index(line, `"`)
	if start == -1 {
		return ""
	}
	end := strings.Index(line[start+1:], `"`)
	if end == -1 {
		return ""
	}
	return line[start+1 : start+1+end]
}

// WrapProgram ensures the code carries a package clause; generated programs
// usually contain just imports and the entry point.
func WrapProgram(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// AllowedImport reports whether extraction code may import pkg.
func AllowedImport(pkg string) bool { return allowedPackages[pkg] }

// AllowedImports returns the allow-list, sorted, for prompts and error
// messages.
func AllowedImports() []string {
	pkgs := make([]string, 0, len(allowedPackages))
	for pkg := range allowedPackages {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}
