package main

// SignalSpan is one channel's byte region inside every data record.
type SignalSpan struct {
	Offset     int
	Size       int
	Annotation bool
}

// RecordLayout is the derived byte geometry of a file: where each
// signal's bytes sit inside a record, and how many records there are.
// Immutable after computeLayout; safe to share across goroutines.
type RecordLayout struct {
	HeaderBytes    int
	BytesPerRecord int
	RecordCount    int
	Signals        []SignalSpan
}

// HasAnnotations reports whether any channel carries TALs.
func (l RecordLayout) HasAnnotations() bool {
	for _, s := range l.Signals {
		if s.Annotation {
			return true
		}
	}
	return false
}

// computeLayout derives the record geometry from a parsed header and the
// actual file size. A declared record count of -1 is resolved from the
// file size; trailing bytes short of a whole record are ignored.
func computeLayout(h *Header, fileSize int64) RecordLayout {
	l := RecordLayout{
		HeaderBytes:    h.HeaderBytes,
		BytesPerRecord: h.BytesPerRecord(),
		RecordCount:    h.EffectiveRecordCount(fileSize),
		Signals:        make([]SignalSpan, len(h.Signals)),
	}
	bps := h.BytesPerSample()
	offset := 0
	for i, s := range h.Signals {
		size := s.SamplesPerRecord * bps
		l.Signals[i] = SignalSpan{
			Offset:     offset,
			Size:       size,
			Annotation: s.IsAnnotation(),
		}
		offset += size
	}
	return l
}
