package main

import (
	"bytes"
	"regexp"
	"strings"
)

var (
	// Uppercase alphanumeric runs of 6+ in the patient field are
	// treated as probable secondary identifiers (MRNs, accession
	// numbers) even when they are not in the name position.
	secondaryIDPattern = regexp.MustCompile(`\b[A-Z0-9]{6,}\b`)
	nameHintSplitter   = regexp.MustCompile(`[;,\-\s]+`)
)

type redactionPattern struct {
	Pattern     []byte
	Replacement []byte
}

// RedactionSession owns the substitution list for one file and the
// counters the report is built from. It replaces the module-level
// pattern cache of older tooling: each file gets its own session, so
// batches can fan out without shared state.
type RedactionSession struct {
	patterns []redactionPattern
	seen     map[string]struct{}

	Redactions int
	Truncated  int
	Malformed  int
}

func newRedactionSession() *RedactionSession {
	return &RedactionSession{seen: make(map[string]struct{})}
}

func (s *RedactionSession) Patterns() []redactionPattern {
	return s.patterns
}

// add registers one substitution. Duplicate patterns keep the first
// replacement added; header-derived patterns are added before external
// name hints, so the header-derived replacement wins conflicts.
func (s *RedactionSession) add(pattern, replacement string) {
	if _, dup := s.seen[pattern]; dup {
		return
	}
	s.seen[pattern] = struct{}{}
	s.patterns = append(s.patterns, redactionPattern{
		Pattern:     []byte(pattern),
		Replacement: []byte(replacement),
	})
}

// addHeaderPatterns derives substitutions from the patient field, whose
// EDF+ sub-fields are "hospitalId sex birthdate name...". Short tokens
// (<= 2 chars, typically the sex code or initials) are left alone.
func (s *RedactionSession) addHeaderPatterns(h *Header) {
	parts := strings.Fields(h.Patient)
	if len(parts) > 0 && len(parts[0]) > 2 {
		s.add(parts[0], "X-XXXXXXX")
	}
	if len(parts) > 3 {
		nameParts := parts[3:]
		for _, name := range nameParts {
			if len(name) > 2 {
				s.add(name, "XXXX")
			}
		}
		if full := strings.Join(nameParts, " "); len(nameParts) > 1 && len(full) > 2 {
			s.add(full, "XXXX")
		}
	}
	for _, id := range secondaryIDPattern.FindAllString(h.Patient, -1) {
		if len(id) > 3 {
			s.add(id, "XXXXXXX")
		}
	}
}

// addNameHints seeds the session with externally-known patient names
// (e.g. from the Natus metadata sidecar), split on the separators those
// sources use.
func (s *RedactionSession) addNameHints(names []string) {
	for _, name := range names {
		for _, part := range nameHintSplitter.Split(name, -1) {
			if len(part) > 2 {
				s.add(part, "XXXX")
			}
		}
	}
}

// apply runs every substitution over text and returns the result, which
// may differ in length from the input. Callers that must preserve
// length fit the result back themselves (see TAL.reencode).
func (s *RedactionSession) apply(text []byte) []byte {
	out := text
	for _, p := range s.patterns {
		out = bytes.ReplaceAll(out, p.Pattern, p.Replacement)
	}
	return out
}

// anonymousPatient is the unconditional replacement for the patient
// identification field: four blanked EDF+ sub-fields.
const anonymousPatient = "X X X X"

// redactHeader returns a copy of h with the patient field wiped. The
// wipe is wholesale and independent of the pattern list, which only
// drives annotation-text redaction.
func redactHeader(h *Header) *Header {
	out := *h
	out.Signals = append([]Signal(nil), h.Signals...)
	out.Patient = anonymousPatient
	return &out
}

// redactChunk rewrites the annotation spans of every whole record in a
// record-aligned chunk, in place. Bytes of non-annotation signals, and
// any trailing partial record, pass through untouched.
func (s *RedactionSession) redactChunk(chunk []byte, layout RecordLayout) {
	if len(s.patterns) == 0 || !layout.HasAnnotations() {
		return
	}
	for base := 0; base+layout.BytesPerRecord <= len(chunk); base += layout.BytesPerRecord {
		for _, span := range layout.Signals {
			if !span.Annotation {
				continue
			}
			region := chunk[base+span.Offset : base+span.Offset+span.Size]
			if allZero(region) {
				continue
			}
			redactAnnotationSpan(region, s)
		}
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
