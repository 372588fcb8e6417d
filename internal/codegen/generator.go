package codegen

import (
	"context"
	"encoding/json"
	"fmt"

	"moneywright/internal/logging"
	"moneywright/internal/parsercache"
	"moneywright/internal/records"
	"moneywright/internal/sandbox"
)

// LLMClient is the minimal generation collaborator contract. Declared here so
// the bridge can be tested with fakes and does not depend on a provider.
type LLMClient interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenerationError reports that a fresh generation attempt failed to produce
// valid, executable code. Terminal for the attempt; nothing is cached.
type GenerationError struct {
	Stage string // llm, decode, syntax, validate, execute, summary
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("code generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// generationResponse is the expected LLM reply shape.
type generationResponse struct {
	Code           string  `json:"code"`
	DetectedFormat string  `json:"detectedFormat"`
	Confidence     float64 `json:"confidence"`
}

// Generator is the bridge from exhausted version trials to fresh code. It is
// invoked by the caller, never by the trial orchestrator itself.
type Generator struct {
	client   LLMClient
	executor sandbox.Executor
	cache    *parsercache.Cache
}

// NewGenerator wires the bridge.
func NewGenerator(client LLMClient, executor sandbox.Executor, cache *parsercache.Cache) *Generator {
	return &Generator{client: client, executor: executor, cache: cache}
}

// Generate synthesizes extraction code for the current document, gates it
// through the static validator, proves it against the document in the
// sandbox, persists it as the next cached version, and returns the records it
// produced. Validation of the generated code is terminal for this attempt;
// the generator is not retried within one call. Storage I/O failures
// propagate as-is rather than as GenerationError.
func (g *Generator) Generate(
	ctx context.Context,
	key, documentText string,
	mode records.ParsingMode,
	expected *records.ExpectedSummary,
	priorFailures []string,
) (records.Set, int, error) {
	logging.Codegen("Generating parser code for %s (mode=%s, prior failures=%d)", key, mode, len(priorFailures))

	reply, err := g.client.CompleteWithSystem(ctx, systemPrompt(mode), userPrompt(documentText, mode, priorFailures))
	if err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "llm", Err: err}
	}

	var resp generationResponse
	if err := json.Unmarshal([]byte(extractJSON(reply)), &resp); err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "decode", Err: err}
	}
	if resp.Code == "" {
		return records.Set{}, 0, &GenerationError{Stage: "decode", Err: fmt.Errorf("response contained no code")}
	}
	logging.CodegenDebug("Generated %d bytes (format=%q, confidence=%.2f)",
		len(resp.Code), resp.DetectedFormat, resp.Confidence)

	if err := CheckSyntax(resp.Code); err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "syntax", Err: err}
	}
	if err := ValidateCode(resp.Code); err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "validate", Err: err}
	}

	set, err := g.executor.Execute(ctx, resp.Code, documentText, mode)
	if err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "execute", Err: err}
	}
	if set.Empty() {
		return records.Set{}, 0, &GenerationError{Stage: "execute", Err: fmt.Errorf("generated parser extracted no records")}
	}
	if err := expected.Validate(set); err != nil {
		return records.Set{}, 0, &GenerationError{Stage: "summary", Err: err}
	}

	version, err := g.cache.SaveVersion(key, resp.Code, parsercache.Meta{
		DetectedFormat: resp.DetectedFormat,
		Confidence:     resp.Confidence,
	})
	if err != nil {
		return records.Set{}, 0, err
	}

	logging.Codegen("Cached generated parser for %s as v%d (%d records extracted)", key, version, set.Count())
	return set, version, nil
}
