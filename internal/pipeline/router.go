package pipeline

import (
	"context"

	"moneywright/internal/records"
	"moneywright/internal/trials"
)

// Router dispatches trial and generation calls to the collaborators bound to
// the namespace matching the job's parsing mode. Statement and investment
// parsers live in separate cache namespaces, so each mode gets its own
// orchestrator and generator.
type Router struct {
	statementTrier  Trier
	investmentTrier Trier
	statementGen    Generator
	investmentGen   Generator
}

// NewRouter wires per-mode collaborators.
func NewRouter(statementTrier, investmentTrier Trier, statementGen, investmentGen Generator) *Router {
	return &Router{
		statementTrier:  statementTrier,
		investmentTrier: investmentTrier,
		statementGen:    statementGen,
		investmentGen:   investmentGen,
	}
}

func (r *Router) TryVersions(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary) (trials.Result, error) {
	if mode == records.ModeHolding {
		return r.investmentTrier.TryVersions(ctx, key, documentText, mode, expected)
	}
	return r.statementTrier.TryVersions(ctx, key, documentText, mode, expected)
}

func (r *Router) Generate(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary, priorFailures []string) (records.Set, int, error) {
	if mode == records.ModeHolding {
		return r.investmentGen.Generate(ctx, key, documentText, mode, expected, priorFailures)
	}
	return r.statementGen.Generate(ctx, key, documentText, mode, expected, priorFailures)
}
