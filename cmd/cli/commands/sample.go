package commands

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
)

type SampleOptions struct {
	Source     releaseSource
	Count      int
	Seed       uint64
	Format     string
	OutputFile string
}

func NewSampleCmd(globals *Globals) *cobra.Command {
	opts := &SampleOptions{}

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw synthetic records from a release",
		Example: `  mwem-cli sample --release release.json --count 1000 --format csv --output synthetic.csv
  mwem-cli sample --release release.json --count 10 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(cmd.Context(), globals, opts, cmd.Flags().Changed("seed"))
		},
	}

	opts.Source.addFlags(cmd)
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100, "Number of records to draw")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Seed for reproducible sampling")
	cmd.Flags().StringVar(&opts.Format, "format", "csv", "Output format (csv, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runSample(ctx context.Context, globals *Globals, opts *SampleOptions, seeded bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Count < 0 || opts.Count > constants.MaxSampleCount {
		return errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("count must be in [0, %d], got %d", constants.MaxSampleCount, opts.Count))
	}
	if opts.Format != "csv" && opts.Format != "json" {
		return errors.NewValidationError(errors.CodeUnsupportedFormat, fmt.Sprintf("unsupported format %q", opts.Format))
	}

	_, distribution, err := opts.Source.distribution(ctx, globals)
	if err != nil {
		return err
	}

	seed := opts.Seed
	if !seeded {
		seed = rand.Uint64()
	}
	records, err := distribution.Sample(opts.Count, rand.NewPCG(seed, seed))
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return globals.writeJSON(opts.OutputFile, records)
	}

	w, closeFn, err := globals.output(opts.OutputFile)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	writer.Write([]string{"value"})
	for _, v := range records {
		writer.Write([]string{strconv.Itoa(v)})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}
