package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/cmd/cli/commands"
)

func main() {
	globals := &commands.Globals{
		Fs:  afero.NewOsFs(),
		Out: os.Stdout,
	}

	if err := newRootCmd(globals).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(globals *commands.Globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mwem-cli",
		Short: "Differentially private range-query releases",
		Long: `A command-line interface for publishing MWEM releases of integer data
and answering range queries or drawing synthetic records from them.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globals.ConfigFile, "config", "", "config file (defaults and MWEM_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewReleaseCmd(globals))
	rootCmd.AddCommand(commands.NewAnswerCmd(globals))
	rootCmd.AddCommand(commands.NewSampleCmd(globals))
	rootCmd.AddCommand(commands.NewWorkloadCmd(globals))
	rootCmd.AddCommand(commands.NewEvaluateCmd(globals))
	rootCmd.AddCommand(commands.NewListCmd(globals))

	return rootCmd
}
