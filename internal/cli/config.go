package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AntonStoeckl/bitemporal-master-go/config"
)

// ConfigResult is the JSON data of the config command.
type ConfigResult struct {
	Config  config.Config `json:"config"`
	EnvVars []string      `json:"envVars"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Prints the configuration after applying the file and the environment, as YAML or JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			text, err := yaml.Marshal(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "encoding configuration failed", err)
			}

			return newFormatter(cmd, opts).Success(ConfigResult{Config: cfg, EnvVars: config.EnvVars()}, string(text))
		},
	}
}
