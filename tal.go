package main

import "bytes"

// TAL delimiter bytes per the EDF+ spec: 0x15 separates onset from
// duration, 0x14 terminates onset/duration and each annotation text,
// 0x00 terminates the whole list.
const (
	talTextSep     = 0x14
	talDurationSep = 0x15
)

// TAL is one decoded Time-stamped Annotation List. start and raw
// reference the containing annotation span so the list can be
// re-encoded in place without changing its length.
type TAL struct {
	Onset       string
	Duration    string
	Annotations []string

	start int
	raw   []byte
}

// Len is the TAL's on-disk byte length, terminator included.
func (t TAL) Len() int {
	return len(t.raw)
}

// decodeTALs scans one record's annotation-signal bytes for TALs. A TAL
// begins at '+' or '-' and runs through the next 0x00 (or the end of the
// span when the terminator is missing; such a TAL is still returned so
// the caller can pass it through untouched). Null padding between TALs
// is not represented.
func decodeTALs(span []byte) []TAL {
	var tals []TAL
	for pos := 0; pos < len(span); {
		if span[pos] != '+' && span[pos] != '-' {
			pos++
			continue
		}
		end := bytes.IndexByte(span[pos:], 0x00)
		if end < 0 {
			end = len(span) - pos
		} else {
			end++ // include the terminator
		}
		raw := span[pos : pos+end]
		tals = append(tals, parseTAL(raw, pos))
		pos += end
	}
	return tals
}

func parseTAL(raw []byte, start int) TAL {
	t := TAL{start: start, raw: raw}
	onsetEnd := bytes.IndexByte(raw, talTextSep)
	if onsetEnd < 0 {
		// Not a well-formed TAL; keep the raw bytes only.
		return t
	}
	timestamp := raw[:onsetEnd]
	if durSep := bytes.IndexByte(timestamp, talDurationSep); durSep >= 0 {
		t.Onset = string(timestamp[:durSep])
		t.Duration = string(timestamp[durSep+1:])
	} else {
		t.Onset = string(timestamp)
	}
	for pos := onsetEnd + 1; pos < len(raw); {
		next := bytes.IndexByte(raw[pos:], talTextSep)
		if next < 0 {
			break
		}
		if next > 0 {
			t.Annotations = append(t.Annotations, string(raw[pos:pos+next]))
		}
		pos += next + 1
		if pos < len(raw) && raw[pos] == 0x00 {
			break
		}
	}
	return t
}

// reencode rewrites the TAL with the session's substitutions applied to
// annotation text only; onset, duration and all delimiter bytes are
// copied verbatim. The result is always exactly Len() bytes: shortened
// text is space-padded within its span, lengthened text is truncated to
// the span (counted on the session for reporting).
func (t TAL) reencode(session *RedactionSession) []byte {
	out := append([]byte(nil), t.raw...)
	onsetEnd := bytes.IndexByte(out, talTextSep)
	if onsetEnd < 0 {
		// Malformed TAL: pass it through unmodified rather than risk
		// corrupting bytes we do not understand.
		session.Malformed++
		return out
	}
	for pos := onsetEnd + 1; pos < len(out); {
		next := bytes.IndexByte(out[pos:], talTextSep)
		if next < 0 {
			break
		}
		if next > 0 {
			span := out[pos : pos+next]
			redacted := session.apply(span)
			if !bytes.Equal(redacted, span) {
				if len(redacted) > len(span) {
					redacted = redacted[:len(span)]
					session.Truncated++
				}
				copy(span, redacted)
				for i := len(redacted); i < len(span); i++ {
					span[i] = ' '
				}
				session.Redactions++
			}
		}
		pos += next + 1
		if pos < len(out) && out[pos] == 0x00 {
			break
		}
	}
	return out
}

// redactAnnotationSpan rewrites every TAL found in one record's
// annotation-signal bytes, in place. Bytes outside recognized TALs
// (normally null padding) are untouched.
func redactAnnotationSpan(span []byte, session *RedactionSession) {
	for _, tal := range decodeTALs(span) {
		copy(span[tal.start:tal.start+tal.Len()], tal.reencode(session))
	}
}
