package cli

import (
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// CheckResult is the JSON data of the check command.
type CheckResult struct {
	Objects    int      `json:"objects"`
	Violations []string `json:"violations"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the bitemporal invariants of every stored time series",
		Long: "Scans every time series and reports overlapping versions or corrections, gaps, " +
			"and other broken invariants. Exits with 1 when violations were found.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), cmd, opts, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			return runCheck(cmd, opts, rt.Master)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *RootOptions, m *hts.Master) error {
	out := newFormatter(cmd, opts)

	oids, err := m.Documents.ObjectIDs(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "listing time series failed", err)
	}

	out.VerboseLog("checking %d time series", len(oids))

	result := CheckResult{Objects: len(oids), Violations: []string{}}

	err = m.CheckAll(cmd.Context())
	if err != nil && !errors.Is(err, master.ErrInvariantViolation) {
		return WrapExitError(ExitCommandError, "checking time series failed", err)
	}

	if err == nil {
		return out.Success(result, "checked "+strconv.Itoa(result.Objects)+" time series, no violations")
	}

	result.Violations = strings.Split(err.Error(), "\n")

	if writeErr := out.Error("invariant_violation", strconv.Itoa(len(result.Violations))+" violations found", result); writeErr != nil {
		return writeErr
	}

	return WrapExitError(ExitFailure, "invariant violations found", err)
}
