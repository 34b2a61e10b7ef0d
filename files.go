package main

import (
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the between-runs watermark: files modified before LastRun
// were handled by an earlier batch and are skipped.
type State struct {
	LastRun time.Time
}

func readState(file string) State {
	def := func() State {
		return State{
			LastRun: time.UnixMilli(0),
		}
	}
	f, err := os.ReadFile(file)
	if err != nil {
		return def()
	}
	var state State
	err = yaml.Unmarshal(f, &state)
	if err != nil {
		return def()
	}
	return state
}

func writeState(state State, file string) {
	f, err := os.Create(file)
	if err != nil {
		fmt.Printf("failed to open state file for writing: %s\n", file)
		return
	}
	defer f.Close()
	bytes, err := yaml.Marshal(state)
	if err != nil {
		fmt.Println("failed to marshal state")
		return
	}
	_, err = f.Write(bytes)
	if err != nil {
		fmt.Printf("failed to write state to: %s\n", file)
	}
}

// isEDFFile matches the recording extensions the toolchain produces.
func isEDFFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".edf", ".bdf", ".rec":
		return true
	}
	return false
}

// anonSuffix marks our own outputs so a rescan does not anonymize them
// again into *_anon_anon files.
const anonSuffix = "_anon"

// findEDFFiles walks dir recursively for EDF/BDF recordings modified
// since lastRun, skipping empty files and previously-produced outputs.
func findEDFFiles(dir string, lastRun time.Time) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isEDFFile(d.Name()) {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if strings.HasSuffix(stem, anonSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.ModTime().Before(lastRun) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	return found, err
}

// outputPathFor maps an input recording to its anonymized output path.
// With outDir empty the output sits next to the input.
func outputPathFor(input, outDir string) string {
	dir, name := filepath.Split(input)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if outDir != "" {
		dir = outDir
	}
	return filepath.Join(dir, stem+anonSuffix+ext)
}

// writeMD5Sidecar writes "<hex-digest>  <filename>\n" to path+".md5",
// the format the archival tooling checks before moving files.
func writeMD5Sidecar(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	line := fmt.Sprintf("%x  %s\n", h.Sum(nil), filepath.Base(path))
	return os.WriteFile(path+".md5", []byte(line), 0644)
}
