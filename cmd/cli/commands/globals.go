// Package commands implements the mwem-cli subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/inferloop/mwem/internal/app"
	"github.com/inferloop/mwem/internal/config"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

var errAccuracyThreshold = errors.NewValidationError(errors.CodeOutOfRange, "release error exceeds the requested threshold")

// Globals carries the persistent flags and the I/O every command shares
type Globals struct {
	ConfigFile string
	Verbose    bool

	Fs  afero.Fs
	Out io.Writer
}

// Config loads the configuration named by --config
func (g *Globals) Config() (*config.Config, error) {
	return config.Load(g.ConfigFile)
}

// Logger returns a text logger on stderr; --verbose enables debug output
func (g *Globals) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if g.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// App builds the release service. When persist is false releases are kept in
// memory for the duration of the command.
func (g *Globals) App(ctx context.Context, persist bool) (*app.App, error) {
	cfg, err := g.Config()
	if err != nil {
		return nil, err
	}
	if !persist {
		cfg.Storage.Type = constants.StorageTypeMemory
	}
	return app.New(ctx, cfg, g.Logger())
}

// output opens path for writing; "-" or "" is stdout
func (g *Globals) output(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return g.Out, func() error { return nil }, nil
	}
	f, err := g.Fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func (g *Globals) writeJSON(path string, v interface{}) error {
	w, closeFn, err := g.output(path)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

// loadRelease reads a release JSON document written by the release command
func (g *Globals) loadRelease(path string) (*models.Release, error) {
	data, err := afero.ReadFile(g.Fs, path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeReadFailed, "Failed to read release file").
			WithContext("path", path)
	}

	var release models.Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "Failed to decode release file").
			WithContext("path", path)
	}
	return &release, nil
}
