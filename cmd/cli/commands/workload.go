package commands

import (
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/internal/workload"
	"github.com/inferloop/mwem/pkg/models"
)

type WorkloadOptions struct {
	DomainSize int
	Count      int
	Seed       uint64
	Prefixes   bool
	OutputFile string
}

func NewWorkloadCmd(globals *Globals) *cobra.Command {
	opts := &WorkloadOptions{}

	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Generate a workload of range queries",
		Long: `Generate random half-open intervals over [0, domain-size), or every prefix
[0, k) with --prefixes, and write them as a JSON array of [lower, upper] pairs.`,
		Example: `  mwem-cli workload --domain-size 100 --count 50 --seed 1 --output workload.json
  mwem-cli workload --domain-size 64 --prefixes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(globals, opts, cmd.Flags().Changed("seed"))
		},
	}

	cmd.Flags().IntVar(&opts.DomainSize, "domain-size", 0, "Number of points in the integer domain")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100, "Number of random intervals")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Seed for reproducible workloads")
	cmd.Flags().BoolVar(&opts.Prefixes, "prefixes", false, "Emit every prefix interval instead of random ones")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("domain-size")

	return cmd
}

func runWorkload(globals *Globals, opts *WorkloadOptions, seeded bool) error {
	var (
		queries []models.Query
		err     error
	)

	if opts.Prefixes {
		queries, err = workload.AllPrefixes(opts.DomainSize)
	} else {
		seed := opts.Seed
		if !seeded {
			seed = rand.Uint64()
		}
		queries, err = workload.RandomIntervals(opts.DomainSize, opts.Count, rand.NewPCG(seed, seed))
	}
	if err != nil {
		return err
	}

	w, closeFn, err := globals.output(opts.OutputFile)
	if err != nil {
		return err
	}
	if err := workload.Encode(w, queries); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}
