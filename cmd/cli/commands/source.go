package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/pkg/errors"
)

// releaseSource names a release either by file or by ID in the configured store
type releaseSource struct {
	File string
	ID   string
}

func (s *releaseSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.File, "release", "r", "", "Release JSON file written by the release command")
	cmd.Flags().StringVar(&s.ID, "id", "", "Release ID in the configured storage backend")
	cmd.MarkFlagsMutuallyExclusive("release", "id")
}

// distribution loads the released distribution and returns the release ID
func (s *releaseSource) distribution(ctx context.Context, globals *Globals) (string, mwem.Distribution, error) {
	switch {
	case s.File != "":
		release, err := globals.loadRelease(s.File)
		if err != nil {
			return "", mwem.Distribution{}, err
		}
		distribution, err := service.DistributionOf(release)
		return release.ID, distribution, err

	case s.ID != "":
		application, err := globals.App(ctx, true)
		if err != nil {
			return "", mwem.Distribution{}, err
		}
		defer application.Close()

		release, err := application.Service.GetRelease(ctx, s.ID)
		if err != nil {
			return "", mwem.Distribution{}, err
		}
		distribution, err := service.DistributionOf(release)
		return release.ID, distribution, err

	default:
		return "", mwem.Distribution{}, errors.NewValidationError(errors.CodeMissingField, "one of --release or --id is required")
	}
}
