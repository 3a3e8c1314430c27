package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/bitemporal-master-go/internal/fixtures"
)

// SeedResult is the JSON data of the seed command.
type SeedResult struct {
	Series     int     `json:"series"`
	Points     int     `json:"points"`
	DurationMS float64 `json:"durationMs"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	plan := fixtures.DefaultPlan(100)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store synthetic time series for load tests and demos",
		Long:  "Adds generated time series documents with business-day points to the configured master.",
		Args:  cobra.NoArgs,
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

			out := newFormatter(cmd, opts)
			out.VerboseLog("seeding %d time series with %d points each", plan.Series, plan.Points)

			start := time.Now()

			result, err := fixtures.Generate(cmd.Context(), rt.Master, plan)
			if err != nil {
				return WrapExitError(ExitCommandError, "seeding failed", err)
			}

			elapsed := time.Since(start)

			return out.Success(
				SeedResult{Series: len(result.ObjectIDs), Points: result.Points, DurationMS: float64(elapsed.Microseconds()) / 1000},
				fmt.Sprintf("stored %d time series with %d points in %s", len(result.ObjectIDs), result.Points, elapsed.Round(time.Millisecond)))
		},
	}

	cmd.Flags().IntVar(&plan.Series, "series", plan.Series, "number of time series")
	cmd.Flags().IntVar(&plan.Points, "points", plan.Points, "data points per time series")
	cmd.Flags().StringVar(&plan.NamePrefix, "prefix", "fixture", "name prefix of the generated series")
	cmd.Flags().Uint64Var(&plan.Seed, "seed", plan.Seed, "random seed of the point values")
	cmd.Flags().IntVar(&plan.Concurrency, "concurrency", 8, "time series stored in parallel")

	return cmd
}
