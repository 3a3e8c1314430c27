package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/bitemporal-master-go/config"
)

// loadConfig reads the configuration named by the global flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "loading configuration failed", err)
	}

	return cfg, nil
}

// openRuntime builds the master described by cfg. Logs go to stderr in verbose mode only.
func openRuntime(ctx context.Context, cmd *cobra.Command, opts *RootOptions, cfg config.Config) (*config.Runtime, error) {
	logOutput := io.Discard
	if opts.Verbose {
		logOutput = cmd.ErrOrStderr()
	}

	rt, err := config.Build(ctx, cfg, logOutput)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "building the master failed", err)
	}

	return rt, nil
}
