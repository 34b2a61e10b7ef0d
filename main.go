package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

var (
	version   = "development"
	goVersion = "unknown"
	buildDate = "unknown"
)

// Config carries the knobs that rarely change between runs; flags
// override the non-zero ones.
type Config struct {
	BufferSizeMB int           `yaml:"buffer_size_mb"`
	Workers      int           `yaml:"workers"`
	OutputDir    string        `yaml:"output_dir"`
	NameHints    []string      `yaml:"name_hints"`
	Influx       *InfluxConfig `yaml:"influx"`
}

func main() {
	configFile := flag.String("config", "edf-anonymize.yaml", "Config file")
	stateFile := flag.String("state-file", "edf-anonymize.state.yaml", "State file for batch runs")
	scanDir := flag.String("scan-dir", "", "Anonymize every EDF/BDF file under this directory")
	checkDir := flag.String("check", "", "Only check anonymization status of files under this directory")
	checkReport := flag.String("check-report", "non_anonymized_edf_files.csv", "CSV report path for -check mode")
	outDir := flag.String("out-dir", "", "Directory for anonymized outputs (default: next to input)")
	bufferMB := flag.Int("buffer-mb", 0, "Streaming buffer size in MB (default 64)")
	workers := flag.Int("workers", 0, "Parallel files in batch mode (default 4)")
	noSidecar := flag.Bool("no-md5", false, "Skip writing .md5 sidecar files")
	versionFlag := flag.Bool("v", false, "Show version and exit")
	flag.Parse()
	fmt.Printf("edf-anonymize version %s built on %s with %s\n", version, buildDate, goVersion)
	if *versionFlag {
		os.Exit(0)
	}

	config := readConfig(*configFile)
	if *bufferMB > 0 {
		config.BufferSizeMB = *bufferMB
	}
	if *workers > 0 {
		config.Workers = *workers
	}
	if *outDir != "" {
		config.OutputDir = *outDir
	}

	switch {
	case *checkDir != "":
		if _, err := scanDirectory(*checkDir, *checkReport, config.Workers); err != nil {
			log.Fatalf("check scan failed: %v", err)
		}
	case *scanDir != "":
		runBatch(*scanDir, *stateFile, config, !*noSidecar)
	case flag.NArg() == 2:
		report, err := anonymize(flag.Arg(0), flag.Arg(1), config.BufferSizeMB*1024*1024, config.NameHints)
		if err != nil {
			log.Fatalf("anonymization failed: %v", err)
		}
		if !*noSidecar {
			if err := writeMD5Sidecar(report.Output); err != nil {
				log.Printf("failed to write md5 sidecar: %v", err)
			}
		}
		if report.Validated {
			fmt.Println("Anonymization successful and validated")
		} else {
			fmt.Println("Anonymization completed but validation failed")
			os.Exit(1)
		}
	default:
		fmt.Println("Usage: edf-anonymize [flags] <input.edf> <output.edf>")
		fmt.Println("       edf-anonymize [flags] -scan-dir <dir>")
		fmt.Println("       edf-anonymize [flags] -check <dir>")
		flag.PrintDefaults()
		os.Exit(2)
	}
}

// runBatch anonymizes every new recording under dir, fanning out across
// a bounded worker pool. Files are independent, so failures are counted
// and logged without stopping the batch.
func runBatch(dir, stateFile string, config Config, sidecars bool) {
	state := readState(stateFile)
	files, err := findEDFFiles(dir, state.LastRun)
	if err != nil {
		log.Fatalf("scanning %s: %v", dir, err)
	}
	log.Printf("Found %s files to anonymize", humanize.Comma(int64(len(files))))

	var influx *InfluxWriter
	if config.Influx != nil && config.Influx.Host != "" {
		w := NewInfluxWriter(*config.Influx)
		influx = &w
		defer influx.Close()
	}
	if config.OutputDir != "" {
		// Race-tolerant: workers may also hit this concurrently.
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			log.Fatalf("creating output directory: %v", err)
		}
	}

	runStart := time.Now()
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		okCount    int
		failCount  int
		totalBytes int64
		records    int
		redactions int
	)
	jobs := make(chan string)
	for w := 0; w < config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for input := range jobs {
				output := outputPathFor(input, config.OutputDir)
				report, err := anonymize(input, output, config.BufferSizeMB*1024*1024, config.NameHints)
				if err == nil && sidecars {
					if serr := writeMD5Sidecar(output); serr != nil {
						log.Printf("failed to write md5 sidecar for %s: %v", output, serr)
					}
				}
				if influx != nil {
					influx.WriteReport(report, err)
				}
				mu.Lock()
				if err != nil {
					failCount++
					log.Printf("failed to anonymize %s: %v", input, err)
				} else {
					okCount++
					totalBytes += report.Bytes
					records += report.Records
					redactions += report.Redactions
				}
				mu.Unlock()
			}
		}()
	}
	for _, file := range files {
		jobs <- file
	}
	close(jobs)
	wg.Wait()

	state.LastRun = runStart
	writeState(state, stateFile)
	fmt.Printf("\nAnonymized %d files (%s, %s records, %s annotation redactions) in %s; %d failed.\n",
		okCount, humanize.Bytes(uint64(totalBytes)), humanize.Comma(int64(records)),
		humanize.Comma(int64(redactions)), time.Since(runStart).Round(time.Second), failCount)
}

func readConfig(configFile string) Config {
	def := Config{
		BufferSizeMB: 64,
		Workers:      4,
	}
	cf, err := os.ReadFile(configFile)
	if err != nil {
		return def
	}
	config := def
	err = yaml.Unmarshal(cf, &config)
	if err != nil {
		panic(fmt.Sprintf("Error loading config from %s: %s", configFile, err))
	}
	if config.BufferSizeMB <= 0 {
		config.BufferSizeMB = def.BufferSizeMB
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	return config
}
