package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/interfaces"
)

type ListOptions struct {
	Limit  int
	Offset int
	Labels []string
	JSON   bool
}

func NewListCmd(globals *Globals) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases in the configured storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), globals, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", constants.DefaultPageSize, "Maximum number of releases")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of releases to skip")
	cmd.Flags().StringSliceVar(&opts.Labels, "label", nil, "Label filter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func runList(ctx context.Context, globals *Globals, opts *ListOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	labels, err := parseLabels(opts.Labels)
	if err != nil {
		return err
	}

	application, err := globals.App(ctx, true)
	if err != nil {
		return err
	}
	defer application.Close()

	summaries, err := application.Service.ListReleases(ctx, &interfaces.ReleaseFilter{
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Labels: labels,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		return globals.writeJSON("-", summaries)
	}

	tw := tabwriter.NewWriter(globals.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tDOMAIN\tEPSILON\tITERATIONS")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%g\t%d\n",
			s.ID, s.Name, s.CreatedAt.Format("2006-01-02 15:04:05"), s.DomainSize, s.Epsilon, s.Iterations)
	}
	return tw.Flush()
}
