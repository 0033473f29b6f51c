package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

type Config struct {
	Records    int         `json:"records"`
	DomainSize int         `json:"domain_size"`
	Seed       uint64      `json:"seed"`
	Header     bool        `json:"header"`
	OutputFile string      `json:"output_file"`
	Components []Component `json:"components"`
}

// Component is one mode of a mixture. Weight is relative to the other components.
type Component struct {
	Type   string  `json:"type"` // normal, uniform, exponential
	Weight float64 `json:"weight"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Rate   float64 `json:"rate"`
}

type Generator struct {
	config *Config
	logger *logrus.Logger
	rng    *rand.Rand
	dists  []distuv.Rander
	pick   distuv.Categorical
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		records    = flag.Int("records", 1000, "Number of records to generate")
		domainSize = flag.Int("domain-size", 100, "Values are clamped to [0, domain-size)")
		seed       = flag.Uint64("seed", 1, "Random seed")
		output     = flag.String("output", "-", "Output file (- for stdout)")
		header     = flag.Bool("header", false, "Write a 'value' header line")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var config *Config
	if *configFile != "" {
		var err error
		config, err = loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = getDefaultConfig(*domainSize)
		config.Records = *records
		config.Seed = *seed
		config.OutputFile = *output
		config.Header = *header
	}

	generator, err := NewGenerator(config, logger)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"records":     config.Records,
		"domain_size": config.DomainSize,
		"components":  len(config.Components),
		"output_file": config.OutputFile,
	}).Info("Starting test data generation")

	if err := generator.SaveToFile(generator.Generate(), config.OutputFile); err != nil {
		log.Fatalf("Failed to save data: %v", err)
	}

	logger.WithField("output_file", config.OutputFile).Info("Test data generation completed")
}

func NewGenerator(config *Config, logger *logrus.Logger) (*Generator, error) {
	if config.Records < 0 {
		return nil, fmt.Errorf("records must be non-negative, got %d", config.Records)
	}
	if config.DomainSize <= 0 {
		return nil, fmt.Errorf("domain size must be positive, got %d", config.DomainSize)
	}
	if len(config.Components) == 0 {
		return nil, fmt.Errorf("at least one mixture component is required")
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed))

	weights := make([]float64, len(config.Components))
	dists := make([]distuv.Rander, len(config.Components))
	for i, c := range config.Components {
		if !(c.Weight > 0) {
			return nil, fmt.Errorf("component %d: weight must be positive", i)
		}
		weights[i] = c.Weight

		switch c.Type {
		case "normal":
			dists[i] = distuv.Normal{Mu: c.Mean, Sigma: c.StdDev, Src: rng}
		case "uniform":
			dists[i] = distuv.Uniform{Min: 0, Max: float64(config.DomainSize), Src: rng}
		case "exponential":
			dists[i] = distuv.Exponential{Rate: c.Rate, Src: rng}
		default:
			return nil, fmt.Errorf("component %d: unsupported type %q", i, c.Type)
		}
	}

	return &Generator{
		config: config,
		logger: logger,
		rng:    rng,
		dists:  dists,
		pick:   distuv.NewCategorical(weights, rng),
	}, nil
}

// Generate draws the configured number of records, clamped into the domain
func (g *Generator) Generate() []int {
	values := make([]int, g.config.Records)
	upper := float64(g.config.DomainSize - 1)
	for i := range values {
		v := g.dists[int(g.pick.Rand())].Rand()
		values[i] = int(math.Max(0, math.Min(upper, math.Floor(v))))
	}
	return values
}

func (g *Generator) SaveToFile(values []int, filename string) error {
	if filename == "" || filename == "-" {
		return g.write(os.Stdout, values)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return g.write(file, values)
}

func (g *Generator) write(w io.Writer, values []int) error {
	buf := bufio.NewWriter(w)
	if g.config.Header {
		if _, err := buf.WriteString("value\n"); err != nil {
			return err
		}
	}
	for _, v := range values {
		if _, err := buf.WriteString(strconv.Itoa(v) + "\n"); err != nil {
			return err
		}
	}
	return buf.Flush()
}

func loadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// getDefaultConfig is a two-mode mixture with a long right tail, roughly the shape
// of an age or income column
func getDefaultConfig(domainSize int) *Config {
	d := float64(domainSize)
	return &Config{
		Records:    1000,
		DomainSize: domainSize,
		Seed:       1,
		OutputFile: "-",
		Components: []Component{
			{Type: "normal", Weight: 0.6, Mean: 0.3 * d, StdDev: 0.08 * d},
			{Type: "normal", Weight: 0.3, Mean: 0.65 * d, StdDev: 0.1 * d},
			{Type: "exponential", Weight: 0.1, Rate: 10 / d},
		},
	}
}
