// Package sandbox runs candidate extraction programs against raw document
// text. Two interchangeable backends implement the same contract: a remote
// isolated micro-VM, preferred whenever its connection credential is
// configured, and a constrained in-process interpreter used as a fallback.
// Generated programs must define:
//
//	func ParseDocument(documentText string) (string, error)
//
// returning a JSON array of records, which the engine decodes and
// shape-checks against the parsing mode before declaring success.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"moneywright/internal/config"
	"moneywright/internal/logging"
	"moneywright/internal/records"
)

// EntryPoint is the function every extraction program must define.
const EntryPoint = "ParseDocument"

// Executor is the single execution contract shared by both backends.
type Executor interface {
	// Execute runs code against documentText and returns the decoded,
	// shape-validated record set. Any runtime failure, timeout, or malformed
	// output comes back as an *ExecutionError.
	Execute(ctx context.Context, code, documentText string, mode records.ParsingMode) (records.Set, error)

	// Name identifies the backend in logs and telemetry.
	Name() string
}

// ExecutionError wraps a runtime exception, timeout, or malformed output from
// either backend. At version-trial granularity these are soft failures.
type ExecutionError struct {
	Backend string
	Reason  string
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed on %s backend: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution failed on %s backend: %s", e.Backend, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

var (
	selectOnce sync.Once
	selected   Executor
)

// Select picks the process-wide execution backend: remote when the sandbox
// URL and token are configured, the constrained local interpreter otherwise.
// The predicate is evaluated once per process, not per call.
func Select(cfg *config.Config) Executor {
	selectOnce.Do(func() {
		execTimeout := config.Duration(cfg.Sandbox.ExecTimeout, 15*time.Second)
		if cfg.RemoteSandboxConfigured() {
			httpTimeout := config.Duration(cfg.Sandbox.Timeout, 45*time.Second)
			selected = NewRemote(cfg.Sandbox.URL, cfg.Sandbox.Token, httpTimeout, execTimeout)
			logging.Sandbox("Using remote isolated sandbox at %s (exec budget %s)", cfg.Sandbox.URL, execTimeout)
			return
		}
		selected = NewLocal(execTimeout)
	})
	return selected
}

// deadlineFor applies the backend's execution budget when the caller supplied
// no deadline of its own.
func deadlineFor(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}
