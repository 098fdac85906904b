package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/significance"
	"github.com/emiliopalmerini/mvariant/internal/util"
)

func newExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Manage experiments",
		Long:    `Create, start, stop, inspect and delete experiments.`,
	}

	cmd.AddCommand(newExperimentCreateCmd())
	cmd.AddCommand(newExperimentListCmd())
	cmd.AddCommand(newExperimentShowCmd())
	cmd.AddCommand(newExperimentTransitionCmd("start", "Start a DRAFT experiment", "started", "was not started (missing or not DRAFT)"))
	cmd.AddCommand(newExperimentTransitionCmd("stop", "Complete a RUNNING experiment without a winner", "completed", "was not stopped (missing or not RUNNING)"))
	cmd.AddCommand(newExperimentTransitionCmd("abort", "Cancel a DRAFT or RUNNING experiment", "stopped", "was not aborted (missing or already finished)"))
	cmd.AddCommand(newExperimentUpdateCmd())
	cmd.AddCommand(newExperimentRemoveVariantCmd())
	cmd.AddCommand(newExperimentWinnerCmd())
	cmd.AddCommand(newExperimentDeleteCmd())
	cmd.AddCommand(newExperimentSignificanceCmd())
	return cmd
}

func newExperimentCreateCmd() *cobra.Command {
	var file, createdBy string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an experiment from a YAML definition",
		Long: `Create an experiment in DRAFT from a YAML definition.

Example definition:
  name: spring subject line
  entity_type: campaign
  entity_id: cmp-1
  test_elements: [subject]
  winner_metric: open_rate
  winner_threshold: 0.95
  distribution_percent: 1
  variants:
    - name: control
      content: {subject: "Spring is here"}
      traffic_percent: 0.5
    - name: b
      content: {subject: "Your spring picks"}
      traffic_percent: 0.5

Examples:
  mvariant experiment create -f spring.yaml
  cat spring.yaml | mvariant experiment create -f -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg domain.ExperimentConfig
			if err := decodeYAML(file, cmd.InOrStdin(), &cfg); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				id, err := app.Service.Create(ctx, cfg, createdBy)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML definition file, - for stdin")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Creator recorded on the experiment")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newExperimentListCmd() *cobra.Command {
	var (
		filter domain.ExperimentFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, ok := domain.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = st
			}
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				page, err := app.Service.List(ctx, filter)
				if err != nil {
					return err
				}
				printExperimentPage(cmd.OutOrStdout(), page)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.EntityType, "entity-type", "", "Only experiments on this entity type")
	cmd.Flags().StringVar(&filter.EntityID, "entity-id", "", "Only experiments on this entity")
	cmd.Flags().StringVar(&status, "status", "", "Only experiments in this status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Page size (default from MVARIANT_DEFAULT_PAGE_SIZE)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Number of experiments to skip")
	return cmd
}

func printExperimentPage(out io.Writer, page *domain.ExperimentPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No experiments found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tENTITY\tMETRIC\tCREATED")
	for _, e := range page.Items {
		entity := "-"
		if e.EntityType != "" || e.EntityID != "" {
			entity = e.EntityType + "/" + e.EntityID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Name, e.Status, entity, e.WinnerMetric, util.FormatDateTime(&e.CreatedAt))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\nShowing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Items), page.Total)
}

func newExperimentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an experiment with its variants and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				d, err := app.Service.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printExperimentDetail(cmd.OutOrStdout(), d)
				return nil
			})
		},
	}
}

func printExperimentDetail(out io.Writer, d *domain.ExperimentDetail) {
	e := d.Experiment
	threshold := "-"
	if e.WinnerThreshold != nil {
		threshold = util.FormatPercent(*e.WinnerThreshold)
	}
	winner := "-"
	if e.WinnerVariantID != nil {
		winner = *e.WinnerVariantID
		if v := d.Variant(winner); v != nil {
			winner = fmt.Sprintf("%s (%s)", v.Name, v.ID)
		}
	}

	fmt.Fprintf(out, "Experiment: %s\n", e.Name)
	fmt.Fprintf(out, "  ID:           %s\n", e.ID)
	fmt.Fprintf(out, "  Status:       %s\n", e.Status)
	fmt.Fprintf(out, "  Description:  %s\n", orDash(e.Description))
	fmt.Fprintf(out, "  Entity:       %s/%s\n", e.EntityType, e.EntityID)
	fmt.Fprintf(out, "  Elements:     %s\n", strings.Join(e.TestElements, ", "))
	fmt.Fprintf(out, "  Metric:       %s\n", e.WinnerMetric)
	fmt.Fprintf(out, "  Threshold:    %s\n", threshold)
	fmt.Fprintf(out, "  Distribution: %s\n", util.FormatPercent(e.DistributionPercent))
	fmt.Fprintf(out, "  Started:      %s\n", util.FormatDateTime(e.StartedAt))
	fmt.Fprintf(out, "  Ended:        %s\n", util.FormatDateTime(e.EndedAt))
	fmt.Fprintf(out, "  Winner:       %s\n", winner)

	fmt.Fprintln(out, "\nVariants:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tTRAFFIC\tCONTENT")
	for _, v := range d.Variants {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", v.ID, v.Name, util.FormatPercent(v.TrafficPercent), formatContent(v.Content))
	}
	_ = w.Flush()

	if len(d.Results) == 0 {
		fmt.Fprintln(out, "\nNo results recorded")
		return
	}
	fmt.Fprintln(out, "\nResults:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  VARIANT\tMETRIC\tVALUE\tSAMPLE\tRECORDED")
	for _, r := range d.Results {
		name := r.VariantID
		if v := d.Variant(r.VariantID); v != nil {
			name = v.Name
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			name, r.Metric, util.FormatPercent(r.Value), util.FormatNumber(r.SampleSize), util.FormatDateTime(&r.RecordedAt))
	}
	_ = w.Flush()
}

func formatContent(content map[string]string) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, content[k])
	}
	return strings.Join(parts, " ")
}

func newExperimentTransitionCmd(verb, short, done, skipped string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				var (
					ok  bool
					err error
				)
				switch verb {
				case "start":
					ok, err = app.Service.Start(ctx, args[0])
				case "stop":
					ok, err = app.Service.Stop(ctx, args[0])
				case "abort":
					ok, err = app.Service.Abort(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), transitionMessage(ok, args[0], done, skipped))
				return nil
			})
		},
	}
}

func newExperimentUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an experiment from a YAML document",
		Long: `Update an experiment. Only the fields present in the document change.
Variants listed with an id are updated; variants without an id are created.
Set clear_winner_threshold: true to turn auto-promotion off.

Example document:
  name: spring subject line v2
  variants:
    - id: 6f1c...
      traffic_percent: 0.7
    - id: 9a2e...
      traffic_percent: 0.3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd domain.ExperimentUpdate
			if err := decodeYAML(file, cmd.InOrStdin(), &upd); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				if err := app.Service.Update(ctx, args[0], upd); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s updated\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML update file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newExperimentRemoveVariantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-variant <id> <variant-id>",
		Short: "Remove a variant from a DRAFT experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				if err := app.Service.RemoveVariant(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Variant %s removed\n", args[1])
				return nil
			})
		},
	}
}

func newExperimentWinnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "winner <id> <variant-id>",
		Short: "Declare a winner and complete a RUNNING experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				ok, err := app.Service.DeclareWinner(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("experiment %s is not running", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Variant %s declared winner of %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func newExperimentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment with its variants and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				if err := app.Service.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func newExperimentSignificanceCmd() *cobra.Command {
	var metric, strategy string
	cmd := &cobra.Command{
		Use:   "significance <id>",
		Short: "Report statistical significance",
		Long: `Report significance for an experiment without changing it.

Without --strategy every strategy is reported. The metric defaults to the
experiment's winner metric.

Examples:
  mvariant experiment significance 6f1c...
  mvariant experiment significance 6f1c... --metric click_rate --strategy chi`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m domain.Metric
			if metric != "" {
				parsed, err := parseMetric(metric)
				if err != nil {
					return err
				}
				m = parsed
			}
			strategies := significance.Strategies()
			if strategy != "" {
				s, err := significance.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				strategies = []significance.Strategy{s}
			}

			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STRATEGY\tVERDICT\tWINNER\tCONFIDENCE\tSTATISTIC\tIMPROVEMENT")
				for _, s := range strategies {
					res, err := app.Service.Evaluate(ctx, args[0], m, s)
					if err != nil {
						return err
					}
					printResult(w, res)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "Metric to evaluate")
	cmd.Flags().StringVar(&strategy, "strategy", "", "proportion_z_test or chi_square_two_variant")
	return cmd
}

func printResult(w io.Writer, res significance.Result) {
	if !res.Defined {
		fmt.Fprintf(w, "%s\tundefined: %s\t-\t-\t-\t-\n", res.Strategy, res.Reason)
		return
	}

	verdict := "not significant"
	if res.Significant {
		verdict = "significant"
	}
	winner := res.WinnerID
	if winner == "" {
		winner = "-"
	}
	improvement := "-"
	if res.ImprovementPercent != nil {
		improvement = fmt.Sprintf("%+.2f%%", *res.ImprovementPercent)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%s\n",
		res.Strategy, verdict, winner, util.FormatPercent(res.Confidence), res.Statistic, improvement)
}
