package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/util"
)

func newRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <experiment-id> <variant-id> <metric> <value> <sample-size>",
		Short: "Record the aggregate result of a variant",
		Long: `Record the current value of a metric for a variant, replacing any earlier
value for the same variant and metric. Value is a proportion in [0,1].

If the experiment is RUNNING with a winner threshold, a winner check runs
afterwards and may complete the experiment.

Examples:
  mvariant record 6f1c... 9a2e... open_rate 0.31 1200`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := parseMetric(args[2])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[3], err)
			}
			sampleSize, err := parseInt64("sample size", args[4])
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				res, err := app.Service.RecordResult(ctx, args[0], args[1], metric, value, sampleSize)
				if err != nil {
					return err
				}
				return printRecorded(ctx, cmd.OutOrStdout(), app, res)
			})
		},
	}
}

func newObserveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observe <experiment-id> <variant-id> <metric> <successes> <trials>",
		Short: "Add observations to the result of a variant",
		Long: `Add successes out of trials to the stored result for a variant and metric.
Concurrent observations are merged without loss.

Examples:
  mvariant observe 6f1c... 9a2e... click_rate 12 300`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := parseMetric(args[2])
			if err != nil {
				return err
			}
			successes, err := parseInt64("successes", args[3])
			if err != nil {
				return err
			}
			trials, err := parseInt64("trials", args[4])
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				res, err := app.Service.RecordObservation(ctx, args[0], args[1], metric, successes, trials)
				if err != nil {
					return err
				}
				return printRecorded(ctx, cmd.OutOrStdout(), app, res)
			})
		},
	}
}

func printRecorded(ctx context.Context, out io.Writer, app *AppContext, res *domain.MetricResult) error {
	fmt.Fprintf(out, "Recorded %s = %s over %s samples\n",
		res.Metric, util.FormatPercent(res.Value), util.FormatNumber(res.SampleSize))

	d, err := app.Service.Get(ctx, res.ExperimentID)
	if err != nil {
		return err
	}
	if e := d.Experiment; e.Status == domain.StatusCompleted && e.WinnerVariantID != nil {
		name := *e.WinnerVariantID
		if v := d.Variant(name); v != nil {
			name = v.Name
		}
		fmt.Fprintf(out, "Experiment %s completed, winner: %s\n", e.ID, name)
	}
	return nil
}
