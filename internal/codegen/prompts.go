package codegen

import (
	"fmt"
	"strings"

	"moneywright/internal/records"
	"moneywright/internal/sandbox"
)

// maxExcerptBytes bounds the document excerpt shipped to the generator. Head
// and tail are both included: statements carry the column layout up top and
// totals at the bottom.
const maxExcerptBytes = 12000

const generationSystemPrompt = `You are a financial statement parser generator.
You write small Go programs that extract structured records from raw statement text.

Rules:
- Define exactly: func ParseDocument(documentText string) (string, error)
- Return a JSON array of records as a string. Return "[]" when nothing matches.
- Do not define package main or a main function; the runner wraps your code.
- Only these imports are available: %s
- No network, filesystem, process, or reflection access. Code using them is rejected.
- Be tolerant of noise lines (headers, footers, page numbers).

Respond with JSON only:
{
  "code": "the Go source",
  "detectedFormat": "short description of the statement layout you detected",
  "confidence": 0.0-1.0
}`

const transactionSchema = `Each record: {"date": "YYYY-MM-DD or as printed", "description": string, "type": "DEBIT"|"CREDIT", "amount": positive number, "balance": number (optional)}`

const holdingSchema = `Each record: {"symbol": string (optional), "name": string (optional, at least one of symbol/name), "quantity": number, "averagePrice": number (optional), "currentPrice": number (optional), "currentValue": number}`

// systemPrompt renders the generation system prompt for a mode.
func systemPrompt(mode records.ParsingMode) string {
	prompt := fmt.Sprintf(generationSystemPrompt, strings.Join(sandbox.AllowedImports(), ", "))
	if mode == records.ModeHolding {
		return prompt + "\n\nOutput shape: investment holdings. " + holdingSchema
	}
	return prompt + "\n\nOutput shape: statement transactions. " + transactionSchema
}

// userPrompt renders the generation request: a representative excerpt of the
// document plus notes about prior failed attempts, when any.
func userPrompt(documentText string, mode records.ParsingMode, priorFailures []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Parsing mode: %s\n\n", mode)

	if len(priorFailures) > 0 {
		b.WriteString("Previously generated parsers failed against this document:\n")
		for _, failure := range priorFailures {
			fmt.Fprintf(&b, "- %s\n", failure)
		}
		b.WriteString("Generate a different approach.\n\n")
	}

	b.WriteString("Document text excerpt:\n---\n")
	b.WriteString(excerpt(documentText, maxExcerptBytes))
	b.WriteString("\n---\n\nJSON only:")
	return b.String()
}

// excerpt returns up to max bytes of text, keeping both head and tail when
// truncation is needed.
func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	head := max * 2 / 3
	tail := max - head
	return text[:head] + "\n[... truncated ...]\n" + text[len(text)-tail:]
}

// extractJSON pulls the first balanced JSON object out of an LLM response,
// tolerating markdown fences and prose around it.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			text = rest[:end]
		}
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "{}"
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return "{}"
}
