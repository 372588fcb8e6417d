// Package trials runs cached parser-code versions against a document, newest
// first, until one produces validated output. Per-version failures are soft:
// execution errors, timeouts, and expected-summary mismatches all record a
// failure and move on to the next version. Only exhaustion is terminal at
// this layer; the caller then decides whether to regenerate.
package trials

import (
	"context"

	"moneywright/internal/logging"
	"moneywright/internal/parsercache"
	"moneywright/internal/records"
	"moneywright/internal/sandbox"
)

// VersionStore is the slice of the parser-code cache the orchestrator needs.
// It reads versions and writes telemetry counters; it never mutates code.
type VersionStore interface {
	ListVersions(key string) ([]parsercache.Entry, error)
	RecordSuccess(key string, version int) error
	RecordFailure(key string, version int) error
}

// Result reports the outcome of a version trial run.
type Result struct {
	Success          bool        `json:"success"`
	Set              records.Set `json:"records"`
	UsedVersion      int         `json:"usedVersion,omitempty"`
	TriedVersions    []int       `json:"triedVersions"`
	ValidationPassed *bool       `json:"validationPassed,omitempty"`
}

// Orchestrator tries cached versions through an execution backend.
type Orchestrator struct {
	store    VersionStore
	executor sandbox.Executor
}

// New wires an orchestrator.
func New(store VersionStore, executor sandbox.Executor) *Orchestrator {
	return &Orchestrator{store: store, executor: executor}
}

// TryVersions executes every cached version for key in descending order and
// stops at the first one whose output is non-empty and passes the optional
// expected-summary validation. Newest versions go first on the assumption
// that they are the most refined. Execution is strictly sequential: a later
// version is only attempted once the earlier one's outcome is known.
//
// Storage I/O errors propagate; per-version failures do not.
func (o *Orchestrator) TryVersions(
	ctx context.Context,
	key, documentText string,
	mode records.ParsingMode,
	expected *records.ExpectedSummary,
) (Result, error) {
	result := Result{TriedVersions: []int{}}

	versions, err := o.store.ListVersions(key)
	if err != nil {
		return result, err
	}
	logging.Trials("Trying %d cached versions for %s (mode=%s)", len(versions), key, mode)

	for _, entry := range versions {
		result.TriedVersions = append(result.TriedVersions, entry.Version)

		set, execErr := o.executor.Execute(ctx, entry.Code, documentText, mode)
		if execErr != nil {
			logging.TrialsDebug("v%d of %s failed: %v", entry.Version, key, execErr)
			if err := o.store.RecordFailure(key, entry.Version); err != nil {
				return result, err
			}
			continue
		}
		if set.Empty() {
			logging.TrialsDebug("v%d of %s extracted no records", entry.Version, key)
			if err := o.store.RecordFailure(key, entry.Version); err != nil {
				return result, err
			}
			continue
		}

		if expected != nil {
			if mismatch := expected.Validate(set); mismatch != nil {
				logging.TrialsDebug("v%d of %s failed validation: %v", entry.Version, key, mismatch)
				passed := false
				result.ValidationPassed = &passed
				if err := o.store.RecordFailure(key, entry.Version); err != nil {
					return result, err
				}
				continue
			}
			passed := true
			result.ValidationPassed = &passed
		}

		if err := o.store.RecordSuccess(key, entry.Version); err != nil {
			return result, err
		}
		result.Success = true
		result.Set = set
		result.UsedVersion = entry.Version
		logging.Trials("v%d of %s succeeded with %d records (tried %v)",
			entry.Version, key, set.Count(), result.TriedVersions)
		return result, nil
	}

	logging.Trials("All %d cached versions exhausted for %s", len(versions), key)
	return result, nil
}
