package parsercache

import "strings"

// NormalizeKey derives the canonical cache key for an issuer and document
// type: the source identifier is lower-cased, every maximal run of
// non-alphanumeric characters collapses to a single underscore, leading and
// trailing underscores are trimmed, and the document type is appended after a
// colon. "HDFC Bank" + "pdf" and "hdfc-bank" + "pdf" both normalize to
// "hdfc_bank:pdf". An empty source normalizes to "_" so the function is total.
func NormalizeKey(sourceIdentifier, documentType string) string {
	var b strings.Builder
	b.Grow(len(sourceIdentifier))

	pendingSep := false
	for _, r := range strings.ToLower(sourceIdentifier) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pendingSep = true
			}
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	source := b.String()
	if source == "" {
		source = "_"
	}
	return source + ":" + strings.ToLower(strings.TrimSpace(documentType))
}
