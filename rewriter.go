package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// AnonymizeReport is what one successful (or validated-but-suspect) run
// returns to the caller: enough to build batch summaries and to ship to
// the optional metrics sink.
type AnonymizeReport struct {
	Input      string
	Output     string
	Bytes      int64
	Records    int
	Redactions int
	Truncated  int
	Elapsed    time.Duration
	Validated  bool
}

// SizeMismatchError means size reconciliation could not repair the
// output to match the input size. It indicates a logic defect rather
// than a bad input file.
type SizeMismatchError struct {
	InputSize  int64
	OutputSize int64
}

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("output size %d does not match input size %d after reconciliation", e.OutputSize, e.InputSize)
}

// anonymize streams inputPath to outputPath with the patient field
// wiped and annotation text redacted, preserving the byte size and
// record structure of the original.
//
// The pipeline runs Init -> HeaderRead -> HeaderWritten ->
// StreamingRecords -> SizeReconciled -> Done; a failure at any stage
// aborts that file, leaving any partial output on disk for inspection.
func anonymize(inputPath, outputPath string, bufferBytes int, nameHints []string) (AnonymizeReport, error) {
	start := time.Now()
	report := AnonymizeReport{Input: inputPath, Output: outputPath}

	// Init -> HeaderRead
	in, err := os.Open(inputPath)
	if err != nil {
		return report, err
	}
	defer in.Close()
	inputSize, err := fileSize(inputPath)
	if err != nil {
		return report, err
	}
	hdr, err := readHeader(in)
	if err != nil {
		return report, fmt.Errorf("reading header of %s: %w", inputPath, err)
	}
	layout := computeLayout(hdr, inputSize)
	if layout.BytesPerRecord <= 0 {
		return report, HeaderFormatError{Reason: fmt.Sprintf("record size %d bytes", layout.BytesPerRecord)}
	}
	session := newRedactionSession()
	session.addHeaderPatterns(hdr)
	session.addNameHints(nameHints)

	// HeaderRead -> HeaderWritten
	out, err := os.Create(outputPath)
	if err != nil {
		return report, err
	}
	defer out.Close()
	if _, err := out.Write(redactHeader(hdr).encode()); err != nil {
		return report, fmt.Errorf("writing header to %s: %w", outputPath, err)
	}

	// HeaderWritten -> StreamingRecords. Chunks are an integer multiple
	// of the record size (at least one record, however large), so every
	// chunk except a trailing partial record is record-aligned.
	recordsPerChunk := bufferBytes / layout.BytesPerRecord
	if recordsPerChunk < 1 {
		recordsPerChunk = 1
	}
	chunk := make([]byte, recordsPerChunk*layout.BytesPerRecord)
	remaining := inputSize - int64(layout.HeaderBytes)
	for remaining > 0 {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(in, chunk[:n]); err != nil {
			return report, fmt.Errorf("reading records from %s: %w", inputPath, err)
		}
		session.redactChunk(chunk[:n], layout)
		if _, err := out.Write(chunk[:n]); err != nil {
			return report, fmt.Errorf("writing records to %s: %w", outputPath, err)
		}
		report.Records += int(n) / layout.BytesPerRecord
		remaining -= n
	}
	if err := out.Close(); err != nil {
		return report, err
	}

	// StreamingRecords -> SizeReconciled
	if err := reconcileSize(outputPath, inputSize, layout); err != nil {
		return report, err
	}

	report.Bytes = inputSize
	report.Redactions = session.Redactions
	report.Truncated = session.Truncated
	report.Elapsed = time.Since(start)
	report.Validated = validateAnonymized(inputPath, outputPath)
	if session.Truncated > 0 {
		log.Printf("%s: %d redacted annotation(s) were longer than their span and were truncated", outputPath, session.Truncated)
	}
	if session.Malformed > 0 {
		log.Printf("%s: %d malformed TAL(s) passed through unmodified", outputPath, session.Malformed)
	}
	log.Printf("Anonymized %s: %s in %d records, %d annotation redactions, %s",
		inputPath, humanize.Bytes(uint64(report.Bytes)), report.Records, report.Redactions, report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// reconcileSize makes the output size match the input size exactly.
// Small differences (under one header's worth) are treated as a
// record-count discrepancy and fixed by patching the 8-byte count field
// in place; anything larger is padded with zeros or truncated.
// Downstream tooling assumes anonymized output size equals the original.
func reconcileSize(outputPath string, inputSize int64, layout RecordLayout) error {
	outputSize, err := fileSize(outputPath)
	if err != nil {
		return err
	}
	diff := inputSize - outputSize
	if diff == 0 {
		return nil
	}
	log.Printf("%s: adjusting %d byte size difference", outputPath, diff)
	f, err := os.OpenFile(outputPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if abs64(diff) < int64(layout.HeaderBytes) {
		actualRecords := int((outputSize - int64(layout.HeaderBytes) + int64(layout.BytesPerRecord)/2) / int64(layout.BytesPerRecord))
		if actualRecords != layout.RecordCount {
			log.Printf("%s: patching record count %d -> %d", outputPath, layout.RecordCount, actualRecords)
			if _, err := f.WriteAt(padField(fmt.Sprintf("%d", actualRecords), 8), 236); err != nil {
				return err
			}
		}
		return nil
	}
	if diff > 0 {
		log.Printf("%s: padding with %d zero bytes", outputPath, diff)
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		if _, err := f.Write(make([]byte, diff)); err != nil {
			return err
		}
	} else {
		log.Printf("%s: truncating %d excess bytes", outputPath, -diff)
		if err := f.Truncate(inputSize); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	outputSize, err = fileSize(outputPath)
	if err != nil {
		return err
	}
	if outputSize != inputSize {
		return SizeMismatchError{InputSize: inputSize, OutputSize: outputSize}
	}
	return nil
}

// validateAnonymized is the post-hoc structural check: equal sizes,
// same version, a changed patient field, identical technical header
// bytes, and matching lengths for the first few data records. Any
// mismatch logs its reason and returns false.
func validateAnonymized(inputPath, outputPath string) bool {
	inputSize, err := fileSize(inputPath)
	if err != nil {
		log.Printf("validate: %v", err)
		return false
	}
	outputSize, err := fileSize(outputPath)
	if err != nil {
		log.Printf("validate: %v", err)
		return false
	}
	if inputSize != outputSize {
		log.Printf("validate: size mismatch, input=%d output=%d", inputSize, outputSize)
		return false
	}

	in, err := os.Open(inputPath)
	if err != nil {
		log.Printf("validate: %v", err)
		return false
	}
	defer in.Close()
	out, err := os.Open(outputPath)
	if err != nil {
		log.Printf("validate: %v", err)
		return false
	}
	defer out.Close()

	inHdr, err := readHeader(in)
	if err != nil {
		log.Printf("validate: input header: %v", err)
		return false
	}
	outHdr, err := readHeader(out)
	if err != nil {
		log.Printf("validate: output header: %v", err)
		return false
	}
	if !bytes.Equal(inHdr.raw[0:8], outHdr.raw[0:8]) {
		log.Printf("validate: version field mismatch")
		return false
	}
	if bytes.Equal(inHdr.raw[8:88], outHdr.raw[8:88]) {
		log.Printf("validate: patient field was not redacted")
		return false
	}
	if !bytes.Equal(inHdr.raw[184:], outHdr.raw[184:]) {
		log.Printf("validate: technical header bytes differ")
		return false
	}

	// Sample the first few records for matching lengths.
	inBuf := make([]byte, 1024)
	outBuf := make([]byte, 1024)
	for i := 0; i < 3; i++ {
		n, _ := in.Read(inBuf)
		m, _ := out.Read(outBuf)
		if n != m {
			log.Printf("validate: data record length mismatch at sample %d", i)
			return false
		}
		if n == 0 {
			break
		}
	}
	return true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
