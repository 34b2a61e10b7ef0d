package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

// EDF/BDF header layout. The fixed header is 256 bytes, followed by one
// 256-byte block per signal stored field-major (all labels, then all
// transducer types, and so on). See edfplus.info for the field table.
const (
	fixedHeaderSize  = 256
	signalHeaderSize = 256
)

const (
	edfAnnotationLabel = "EDF Annotations"
	bdfAnnotationLabel = "BDF Annotations"
)

// HeaderFormatError means the buffer cannot possibly contain a valid
// EDF/BDF header. Field-level corruption is tolerated with defaults;
// this error is reserved for structural impossibilities.
type HeaderFormatError struct {
	Reason string
}

func (e HeaderFormatError) Error() string {
	return "invalid EDF header: " + e.Reason
}

// Signal is one channel's header entry. The text fields keep their
// trimmed on-disk values; they are preserved verbatim on write.
type Signal struct {
	Label            string
	TransducerType   string
	PhysicalDim      string
	PhysicalMin      string
	PhysicalMax      string
	DigitalMin       string
	DigitalMax       string
	Prefiltering     string
	SamplesPerRecord int
	Reserved         string
}

// IsAnnotation reports whether this channel carries TALs instead of
// samples. The match is exact, per the EDF+/BDF+ specs.
func (s Signal) IsAnnotation() bool {
	return s.Label == edfAnnotationLabel || s.Label == bdfAnnotationLabel
}

// Header is the parsed fixed + signal header of one EDF/BDF file.
// It is a value object: parse creates it, redactHeader copies it, and
// encode serializes it exactly once per output file.
type Header struct {
	Version        string
	Patient        string
	Recording      string
	StartDate      string
	StartTime      string
	HeaderBytes    int
	Reserved       string
	DataRecords    int // -1 means unknown, compute from file size
	RecordDuration float64
	Signals        []Signal

	// raw holds the original header bytes so that unredacted fields
	// round-trip bit-exactly regardless of the file's padding quirks.
	// Empty for synthesized headers.
	raw []byte
}

func (h *Header) IsBDF() bool {
	return strings.Contains(h.Reserved, "BDF") || strings.HasPrefix(h.Version, "\xffBIOSEMI")
}

func (h *Header) IsEDFPlus() bool {
	return strings.HasPrefix(h.Reserved, "EDF+C") || strings.HasPrefix(h.Reserved, "EDF+D")
}

func (h *Header) BytesPerSample() int {
	if h.IsBDF() {
		return 3
	}
	return 2
}

func (h *Header) BytesPerRecord() int {
	samples := 0
	for _, s := range h.Signals {
		samples += s.SamplesPerRecord
	}
	return samples * h.BytesPerSample()
}

// EffectiveRecordCount returns the declared record count, or computes it
// from the file size when the header declares -1 (EDF+ streaming files).
// Trailing bytes that do not fill a whole record are ignored.
func (h *Header) EffectiveRecordCount(fileSize int64) int {
	if h.DataRecords >= 0 {
		return h.DataRecords
	}
	bpr := h.BytesPerRecord()
	if bpr <= 0 {
		return 0
	}
	return int((fileSize - int64(h.HeaderBytes)) / int64(bpr))
}

func (h *Header) TotalDuration(fileSize int64) float64 {
	return float64(h.EffectiveRecordCount(fileSize)) * h.RecordDuration
}

// parseHeader decodes a full header buffer (fixed block plus all signal
// blocks). Malformed numeric fields fall back to 0 (or -1 for the record
// count) with a logged note; only a structurally impossible buffer fails.
func parseHeader(b []byte) (*Header, error) {
	if len(b) < fixedHeaderSize {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("buffer is %d bytes, need at least %d", len(b), fixedHeaderSize)}
	}
	ns := parseIntField(b[252:256], 0)
	if ns <= 0 {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("signal count %d", ns)}
	}
	total := fixedHeaderSize + ns*signalHeaderSize
	if total > len(b) {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("%d signals need %d header bytes, buffer has %d", ns, total, len(b))}
	}

	h := &Header{
		Version:        trimField(b[0:8]),
		Patient:        trimField(b[8:88]),
		Recording:      trimField(b[88:168]),
		StartDate:      trimField(b[168:176]),
		StartTime:      trimField(b[176:184]),
		HeaderBytes:    parseIntField(b[184:192], 0),
		Reserved:       trimField(b[192:236]),
		DataRecords:    parseIntField(b[236:244], -1),
		RecordDuration: parseFloatField(b[244:252], 0),
	}
	if h.HeaderBytes != total {
		log.Printf("header declares %d header bytes, recomputed as %d from %d signals", h.HeaderBytes, total, ns)
		h.HeaderBytes = total
	}

	// Signal fields are field-major: signalCount values of each field
	// in turn, at the widths below (summing to 256 per signal).
	h.Signals = make([]Signal, ns)
	sb := b[fixedHeaderSize:total]
	pos := 0
	next := func(width int) func(i int) []byte {
		start := pos
		pos += ns * width
		return func(i int) []byte { return sb[start+i*width : start+(i+1)*width] }
	}
	label := next(16)
	transducer := next(80)
	physDim := next(8)
	physMin := next(8)
	physMax := next(8)
	digMin := next(8)
	digMax := next(8)
	prefilter := next(80)
	samples := next(8)
	reserved := next(32)
	for i := 0; i < ns; i++ {
		h.Signals[i] = Signal{
			Label:            trimField(label(i)),
			TransducerType:   trimField(transducer(i)),
			PhysicalDim:      trimField(physDim(i)),
			PhysicalMin:      trimField(physMin(i)),
			PhysicalMax:      trimField(physMax(i)),
			DigitalMin:       trimField(digMin(i)),
			DigitalMax:       trimField(digMax(i)),
			Prefiltering:     trimField(prefilter(i)),
			SamplesPerRecord: parseIntField(samples(i), 0),
			Reserved:         trimField(reserved(i)),
		}
	}

	h.raw = append([]byte(nil), b[:total]...)
	return h, nil
}

// readHeader reads and parses the header from the start of f, leaving
// the read offset at the first data record.
func readHeader(f io.ReadSeeker) (*Header, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("reading fixed header: %v", err)}
	}
	ns := parseIntField(fixed[252:256], 0)
	if ns <= 0 {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("signal count %d", ns)}
	}
	full := make([]byte, fixedHeaderSize+ns*signalHeaderSize)
	copy(full, fixed)
	if _, err := io.ReadFull(f, full[fixedHeaderSize:]); err != nil {
		return nil, HeaderFormatError{Reason: fmt.Sprintf("reading %d signal headers: %v", ns, err)}
	}
	return parseHeader(full)
}

// encode serializes the header back to its on-disk form. Headers that
// came from parseHeader reproduce their original bytes exactly, with
// only a changed patient field re-serialized over the original.
func (h *Header) encode() []byte {
	if h.raw != nil {
		out := append([]byte(nil), h.raw...)
		if trimField(out[8:88]) != h.Patient {
			copy(out[8:88], padField(h.Patient, 80))
		}
		return out
	}
	out := make([]byte, fixedHeaderSize+len(h.Signals)*signalHeaderSize)
	copy(out[0:8], padField(h.Version, 8))
	copy(out[8:88], padField(h.Patient, 80))
	copy(out[88:168], padField(h.Recording, 80))
	copy(out[168:176], padField(h.StartDate, 8))
	copy(out[176:184], padField(h.StartTime, 8))
	copy(out[184:192], padField(strconv.Itoa(fixedHeaderSize+len(h.Signals)*signalHeaderSize), 8))
	copy(out[192:236], padField(h.Reserved, 44))
	copy(out[236:244], padField(strconv.Itoa(h.DataRecords), 8))
	copy(out[244:252], padField(strconv.FormatFloat(h.RecordDuration, 'g', -1, 64), 8))
	copy(out[252:256], padField(strconv.Itoa(len(h.Signals)), 4))

	sb := out[fixedHeaderSize:]
	ns := len(h.Signals)
	pos := 0
	put := func(width int, get func(Signal) string) {
		for i, s := range h.Signals {
			copy(sb[pos+i*width:pos+(i+1)*width], padField(get(s), width))
		}
		pos += ns * width
	}
	put(16, func(s Signal) string { return s.Label })
	put(80, func(s Signal) string { return s.TransducerType })
	put(8, func(s Signal) string { return s.PhysicalDim })
	put(8, func(s Signal) string { return s.PhysicalMin })
	put(8, func(s Signal) string { return s.PhysicalMax })
	put(8, func(s Signal) string { return s.DigitalMin })
	put(8, func(s Signal) string { return s.DigitalMax })
	put(80, func(s Signal) string { return s.Prefiltering })
	put(8, func(s Signal) string { return strconv.Itoa(s.SamplesPerRecord) })
	put(32, func(s Signal) string { return s.Reserved })
	return out
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), " ")
}

// padField left-justifies s in a space-filled field of the given width,
// truncating if it is too long. This is the EDF text-field convention.
func padField(s string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	if len(s) > width {
		s = s[:width]
	}
	copy(b, s)
	return b
}

func parseIntField(b []byte, def int) int {
	i, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return def
	}
	return i
}

func parseFloatField(b []byte, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return def
	}
	return f
}

// fileSize is a small convenience used by the rewriter and validator.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
