package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/pkg/models"
)

type AnswerOptions struct {
	Source     releaseSource
	Lower      int
	Upper      int
	OutputFile string
}

type answerOutput struct {
	ReleaseID string       `json:"release_id"`
	Query     models.Query `json:"query"`
	Answer    float64      `json:"answer"`
}

func NewAnswerCmd(globals *Globals) *cobra.Command {
	opts := &AnswerOptions{}

	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Estimate a range count from a release",
		Long: `Answer the half-open range query [lower, upper) from a published release.
Answering is post-processing and spends no privacy budget.`,
		Example: `  mwem-cli answer --release release.json --lower 18 --upper 65
  mwem-cli answer --config mwem.yaml --id 1f0c... --lower 0 --upper 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd.Context(), globals, opts)
		},
	}

	opts.Source.addFlags(cmd)
	cmd.Flags().IntVar(&opts.Lower, "lower", 0, "Inclusive lower bound")
	cmd.Flags().IntVar(&opts.Upper, "upper", 0, "Exclusive upper bound")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("lower")
	cmd.MarkFlagRequired("upper")

	return cmd
}

func runAnswer(ctx context.Context, globals *Globals, opts *AnswerOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id, distribution, err := opts.Source.distribution(ctx, globals)
	if err != nil {
		return err
	}

	q := models.Query{Lower: opts.Lower, Upper: opts.Upper}
	answer, err := distribution.Answer(q)
	if err != nil {
		return err
	}

	return globals.writeJSON(opts.OutputFile, answerOutput{ReleaseID: id, Query: q, Answer: answer})
}
