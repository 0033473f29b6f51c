package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/internal/dataset"
	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/internal/validation"
	"github.com/inferloop/mwem/internal/workload"
)

type EvaluateOptions struct {
	ReleaseFile      string
	DataFile         string
	Column           int
	Header           bool
	WorkloadFile     string
	MaxErrorFraction float64
	PerQuery         bool
	OutputFile       string
}

func NewEvaluateCmd(globals *Globals) *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure release error against the true data",
		Long: `Compare the answers of a release with the true range counts of the dataset it
was built from. The report is computed from private data: keep it with the data
owner and do not publish it alongside the release.`,
		Example: `  mwem-cli evaluate --release release.json --data ages.csv --header
  mwem-cli evaluate --release release.json --data ages.csv --workload holdout.json --max-error 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), globals, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ReleaseFile, "release", "r", "", "Release JSON file written by the release command")
	cmd.Flags().StringVarP(&opts.DataFile, "data", "d", "", "CSV or newline-separated file of integer values")
	cmd.Flags().IntVar(&opts.Column, "column", 0, "Zero-based CSV column holding the value")
	cmd.Flags().BoolVar(&opts.Header, "header", false, "Skip the first record of the data file")
	cmd.Flags().StringVarP(&opts.WorkloadFile, "workload", "w", "", "Workload to evaluate (defaults to the release workload)")
	cmd.Flags().Float64Var(&opts.MaxErrorFraction, "max-error", 0, "Fail when the largest error exceeds this fraction of the record count")
	cmd.Flags().BoolVar(&opts.PerQuery, "per-query", false, "Include the error of every query")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("release")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runEvaluate(ctx context.Context, globals *Globals, opts *EvaluateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	release, err := globals.loadRelease(opts.ReleaseFile)
	if err != nil {
		return err
	}
	released, err := service.DistributionOf(release)
	if err != nil {
		return err
	}

	values, err := dataset.ReadFile(globals.Fs, opts.DataFile, dataset.Options{Column: opts.Column, Header: opts.Header})
	if err != nil {
		return err
	}
	data, err := mwem.NewDataset(released.Domain(), values)
	if err != nil {
		return err
	}

	queries := release.Workload
	if opts.WorkloadFile != "" {
		if queries, err = workload.LoadFile(globals.Fs, opts.WorkloadFile); err != nil {
			return err
		}
	}

	report, err := validation.NewAccuracyValidator(&validation.AccuracyValidatorConfig{
		MaxErrorFraction: opts.MaxErrorFraction,
		IncludeQueries:   opts.PerQuery,
	}, globals.Logger()).Validate(ctx, released, data, queries)
	if err != nil {
		return err
	}

	if err := globals.writeJSON(opts.OutputFile, report); err != nil {
		return err
	}
	if !report.Passed {
		return errAccuracyThreshold
	}
	return nil
}
