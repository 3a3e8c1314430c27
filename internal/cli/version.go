package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// VersionResult is the JSON data of the version command.
type VersionResult struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newFormatter(cmd, opts).Success(
				VersionResult{Version: Version, GoVersion: runtime.Version()},
				"htsmaster "+Version+" ("+runtime.Version()+")")
		},
	}
}
