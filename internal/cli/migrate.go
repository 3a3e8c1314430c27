package cli

import (
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/bitemporal-master-go/config"
)

// MigrateResult is the JSON data of the migrate command.
type MigrateResult struct {
	Engine      string `json:"engine"`
	TablePrefix string `json:"tablePrefix,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Creates the tables of the configured SQL engine. Running it again changes nothing.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			cfg.Storage.Migrate = false

			rt, err := openRuntime(cmd.Context(), cmd, opts, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			out := newFormatter(cmd, opts)
			out.VerboseLog("migrating %s storage", cfg.Storage.Engine)

			if err := rt.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}

			result := MigrateResult{Engine: cfg.Storage.Engine}
			if cfg.Storage.Engine != config.EngineMemory {
				result.TablePrefix = cfg.Storage.TablePrefix
			}

			return out.Success(result, "schema of "+cfg.Storage.Engine+" storage is up to date")
		},
	}
}
