package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/internal/validation"
	"github.com/inferloop/mwem/internal/workload"
)

type BenchmarkConfig struct {
	Name        string       `json:"name" yaml:"name"`
	Repetitions int          `json:"repetitions" yaml:"repetitions"`
	Seed        uint64       `json:"seed" yaml:"seed"`
	Cases       []CaseConfig `json:"cases" yaml:"cases"`
	Report      ReportConfig `json:"report" yaml:"report"`
}

type CaseConfig struct {
	Name         string  `json:"name" yaml:"name"`
	DomainSize   int     `json:"domain_size" yaml:"domain_size"`
	Records      int     `json:"records" yaml:"records"`
	WorkloadSize int     `json:"workload_size" yaml:"workload_size"`
	Iterations   int     `json:"iterations" yaml:"iterations"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon"`
	Workers      int     `json:"workers" yaml:"workers"`
}

type ReportConfig struct {
	Format     string `json:"format" yaml:"format"` // json, table
	OutputFile string `json:"output_file" yaml:"output_file"`
}

type Benchmark struct {
	config *BenchmarkConfig
	logger *logrus.Logger
}

type CaseResult struct {
	Name         string        `json:"name"`
	Runs         int           `json:"runs"`
	MeanDuration time.Duration `json:"mean_duration"`
	P50Duration  time.Duration `json:"p50_duration"`
	P95Duration  time.Duration `json:"p95_duration"`
	MeanMaxError float64       `json:"mean_max_abs_error"`
	MeanAbsError float64       `json:"mean_abs_error"`
}

type BenchmarkResult struct {
	Name      string        `json:"name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	GoVersion string        `json:"go_version"`
	NumCPU    int           `json:"num_cpu"`
	Cases     []CaseResult  `json:"cases"`
}

func main() {
	var (
		configFile = flag.String("config", "", "Benchmark configuration file (YAML or JSON)")
		output     = flag.String("output", "", "Report file (stdout when empty)")
		format     = flag.String("format", "", "Report format (json, table)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	config := getDefaultConfig()
	if *configFile != "" {
		var err error
		config, err = loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *output != "" {
		config.Report.OutputFile = *output
	}
	if *format != "" {
		config.Report.Format = *format
	}

	result, err := NewBenchmark(config, logger).Run(context.Background())
	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}

	if err := writeReport(result, config.Report); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
}

func NewBenchmark(config *BenchmarkConfig, logger *logrus.Logger) *Benchmark {
	if logger == nil {
		logger = logrus.New()
	}
	return &Benchmark{config: config, logger: logger}
}

// Run executes every case Repetitions times with fresh data and workloads
func (b *Benchmark) Run(ctx context.Context) (*BenchmarkResult, error) {
	if b.config.Repetitions <= 0 {
		return nil, fmt.Errorf("repetitions must be positive, got %d", b.config.Repetitions)
	}

	result := &BenchmarkResult{
		Name:      b.config.Name,
		StartTime: time.Now(),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}

	for i, c := range b.config.Cases {
		caseResult, err := b.runCase(ctx, c, b.config.Seed+uint64(i)*1000)
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", c.Name, err)
		}
		result.Cases = append(result.Cases, *caseResult)
	}

	result.Duration = time.Since(result.StartTime)
	return result, nil
}

func (b *Benchmark) runCase(ctx context.Context, c CaseConfig, seed uint64) (*CaseResult, error) {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	validator := validation.NewAccuracyValidator(nil, quiet)
	durations := make([]float64, 0, b.config.Repetitions)
	maxErrors := make([]float64, 0, b.config.Repetitions)
	meanErrors := make([]float64, 0, b.config.Repetitions)

	for rep := 0; rep < b.config.Repetitions; rep++ {
		repSeed := seed + uint64(rep)
		data, err := syntheticDataset(c.DomainSize, c.Records, repSeed)
		if err != nil {
			return nil, err
		}
		queries, err := workload.RandomIntervals(c.DomainSize, c.WorkloadSize, rand.NewPCG(repSeed, ^repSeed))
		if err != nil {
			return nil, err
		}

		generator := mwem.NewGenerator(&mwem.Config{Workers: c.Workers}, privacy.NewSeededNoise(repSeed), quiet)
		run, err := generator.Run(ctx, data, queries, c.Iterations, c.Epsilon)
		if err != nil {
			return nil, err
		}

		report, err := validator.Validate(ctx, run.Distribution, data, queries)
		if err != nil {
			return nil, err
		}

		durations = append(durations, run.Duration.Seconds())
		maxErrors = append(maxErrors, report.MaxAbsError)
		meanErrors = append(meanErrors, report.MeanAbsError)

		b.logger.WithFields(logrus.Fields{
			"case":       c.Name,
			"repetition": rep,
			"duration":   run.Duration,
		}).Debug("Benchmark run completed")
	}

	sort.Float64s(durations)
	seconds := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

	return &CaseResult{
		Name:         c.Name,
		Runs:         len(durations),
		MeanDuration: seconds(stat.Mean(durations, nil)),
		P50Duration:  seconds(stat.Quantile(0.5, stat.Empirical, durations, nil)),
		P95Duration:  seconds(stat.Quantile(0.95, stat.Empirical, durations, nil)),
		MeanMaxError: stat.Mean(maxErrors, nil),
		MeanAbsError: stat.Mean(meanErrors, nil),
	}, nil
}

// syntheticDataset draws records from a bell around the middle of the domain
func syntheticDataset(domainSize, records int, seed uint64) (*mwem.Dataset, error) {
	domain, err := mwem.NewDomain(domainSize)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	values := make([]int, records)
	for i := range values {
		v := int(rng.NormFloat64()*float64(domainSize)/8 + float64(domainSize)/2)
		values[i] = max(0, min(domainSize-1, v))
	}
	return mwem.NewDataset(domain, values)
}

func writeReport(result *BenchmarkResult, config ReportConfig) error {
	w := io.Writer(os.Stdout)
	if config.OutputFile != "" {
		file, err := os.Create(config.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		w = file
	}

	if config.Format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s, %d CPU)\n\n", result.Name, result.GoVersion, result.NumCPU)
	fmt.Fprintln(tw, "CASE\tRUNS\tMEAN\tP50\tP95\tMEAN MAX ERR\tMEAN ABS ERR")
	for _, c := range result.Cases {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%.2f\t%.2f\n",
			c.Name, c.Runs, c.MeanDuration, c.P50Duration, c.P95Duration, c.MeanMaxError, c.MeanAbsError)
	}
	return tw.Flush()
}

func loadConfig(filename string) (*BenchmarkConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := getDefaultConfig()
	config.Cases = nil
	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

func getDefaultConfig() *BenchmarkConfig {
	return &BenchmarkConfig{
		Name:        "mwem",
		Repetitions: 5,
		Seed:        1,
		Cases: []CaseConfig{
			{Name: "small", DomainSize: 64, Records: 1000, WorkloadSize: 100, Iterations: 10, Epsilon: 1},
			{Name: "medium", DomainSize: 1024, Records: 10000, WorkloadSize: 500, Iterations: 25, Epsilon: 1},
			{Name: "large", DomainSize: 16384, Records: 100000, WorkloadSize: 2000, Iterations: 50, Epsilon: 1},
		},
		Report: ReportConfig{Format: "table"},
	}
}
