package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/internal/dataset"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/internal/workload"
	"github.com/inferloop/mwem/pkg/errors"
)

type ReleaseOptions struct {
	DataFile     string
	Column       int
	Header       bool
	WorkloadFile string
	DomainSize   int
	Epsilon      float64
	Iterations   int
	Name         string
	Labels       []string
	OutputFile   string
	Save         bool
}

func NewReleaseCmd(globals *Globals) *cobra.Command {
	opts := &ReleaseOptions{}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Publish an MWEM release of an integer dataset",
		Long: `Run MWEM over a dataset of integers in [0, domain-size) and a workload of
half-open range queries, and write the resulting release. The release holds only
differentially private outputs and can be shared.`,
		Example: `  # Release ages with a random workload
  mwem-cli workload --domain-size 120 --count 200 --output workload.json
  mwem-cli release --data ages.csv --header --domain-size 120 --workload workload.json --epsilon 1 --iterations 20 --output release.json

  # Persist the release to the configured store instead
  mwem-cli release --config mwem.yaml --data ages.csv --domain-size 120 --workload workload.json --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), globals, opts, cmd.Flags().Changed("epsilon"), cmd.Flags().Changed("iterations"))
		},
	}

	cmd.Flags().StringVarP(&opts.DataFile, "data", "d", "", "CSV or newline-separated file of integer values")
	cmd.Flags().IntVar(&opts.Column, "column", 0, "Zero-based CSV column holding the value")
	cmd.Flags().BoolVar(&opts.Header, "header", false, "Skip the first record of the data file")
	cmd.Flags().StringVarP(&opts.WorkloadFile, "workload", "w", "", "JSON workload file of [lower, upper] pairs")
	cmd.Flags().IntVar(&opts.DomainSize, "domain-size", 0, "Number of points in the integer domain")
	cmd.Flags().Float64VarP(&opts.Epsilon, "epsilon", "e", 0, "Total privacy budget (config default when unset)")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "t", 0, "Number of MWEM iterations (config default when unset)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Release name")
	cmd.Flags().StringSliceVar(&opts.Labels, "label", nil, "Release label as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Persist the release to the configured storage backend")

	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("workload")
	cmd.MarkFlagRequired("domain-size")

	return cmd
}

func runRelease(ctx context.Context, globals *Globals, opts *ReleaseOptions, epsilonSet, iterationsSet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	values, err := dataset.ReadFile(globals.Fs, opts.DataFile, dataset.Options{Column: opts.Column, Header: opts.Header})
	if err != nil {
		return err
	}
	queries, err := workload.LoadFile(globals.Fs, opts.WorkloadFile)
	if err != nil {
		return err
	}
	labels, err := parseLabels(opts.Labels)
	if err != nil {
		return err
	}

	req := &service.ReleaseRequest{
		Name:       opts.Name,
		DomainSize: opts.DomainSize,
		Values:     values,
		Workload:   queries,
		Labels:     labels,
	}
	if epsilonSet {
		req.Epsilon = &opts.Epsilon
	}
	if iterationsSet {
		req.Iterations = &opts.Iterations
	}

	application, err := globals.App(ctx, opts.Save)
	if err != nil {
		return err
	}
	defer application.Close()

	release, err := application.Service.CreateRelease(ctx, req)
	if err != nil {
		return err
	}

	if opts.Save {
		globals.Logger().WithField("release_id", release.ID).Info("Release saved")
	}
	return globals.writeJSON(opts.OutputFile, release)
}

func parseLabels(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(raw))
	for _, label := range raw {
		key, value, ok := strings.Cut(label, "=")
		if !ok || key == "" {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, fmt.Sprintf("label %q must be key=value", label))
		}
		labels[key] = value
	}
	return labels, nil
}
