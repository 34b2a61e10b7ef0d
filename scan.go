package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Patterns that make a patient field look identifying: word pairs that
// read like names, long uppercase-alnum identifiers, and date-like
// strings that could be birthdates.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z]+\s+[A-Za-z]+`),
	regexp.MustCompile(`[A-Z0-9]{6,}`),
	regexp.MustCompile(`\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}`),
	regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}`),
}

var blankPatientPattern = regexp.MustCompile(`^[X\s]*$`)

// ScanResult is one file's anonymization check outcome.
type ScanResult struct {
	Path       string
	Anonymized bool
	Reason     string
	Patient    string
	Size       int64
	Err        string
}

// checkAnonymization reads only the fixed header and decides whether
// the patient field still carries identifying content.
func checkAnonymization(path string) ScanResult {
	result := ScanResult{Path: path}
	size, err := fileSize(path)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.Size = size

	f, err := os.Open(path)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	defer f.Close()
	header := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		result.Err = fmt.Sprintf("reading header: %v", err)
		return result
	}

	patient := trimField(header[8:88])
	result.Patient = patient
	switch patient {
	case "", "X", anonymousPatient, "Anonymized", "XXXX":
		result.Anonymized = true
		return result
	}
	for _, pattern := range suspiciousPatterns {
		if match := pattern.FindString(patient); match != "" {
			result.Reason = fmt.Sprintf("patient field contains possible identifiable info: %q", match)
			return result
		}
	}
	if blankPatientPattern.MatchString(patient) {
		result.Anonymized = true
		return result
	}
	result.Reason = fmt.Sprintf("patient field contains non-standard content: %q", patient)
	return result
}

// scanDirectory checks every recording under dir and writes the files
// that are not anonymized (or errored) to a CSV report.
func scanDirectory(dir, reportPath string, workers int) ([]ScanResult, error) {
	start := time.Now()
	files, err := findEDFFiles(dir, time.UnixMilli(0))
	if err != nil {
		return nil, err
	}
	log.Printf("Found %s EDF files to check", humanize.Comma(int64(len(files))))

	results := make([]ScanResult, len(files))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = checkAnonymization(files[i])
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report, err := os.Create(reportPath)
	if err != nil {
		return results, err
	}
	defer report.Close()
	w := csv.NewWriter(report)
	if err := w.Write([]string{"file_path", "anonymized", "reason", "patient_info", "file_size", "error"}); err != nil {
		return results, err
	}
	anonymized, flagged, errored := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Err != "":
			errored++
		case r.Anonymized:
			anonymized++
			continue
		default:
			flagged++
			log.Printf("Non-anonymized file: %s - %s", r.Path, r.Reason)
		}
		row := []string{r.Path, strconv.FormatBool(r.Anonymized), r.Reason, r.Patient, strconv.FormatInt(r.Size, 10), r.Err}
		if err := w.Write(row); err != nil {
			return results, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return results, err
	}

	log.Printf("Checked %s files in %s: %d anonymized, %d not anonymized, %d errors",
		humanize.Comma(int64(len(files))), time.Since(start).Round(time.Millisecond), anonymized, flagged, errored)
	fmt.Printf("Report of %d files needing attention saved to: %s\n", flagged+errored, reportPath)
	return results, nil
}
