package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the mvariant command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mvariant",
		Short: "Experimentation engine for message content",
		Long: `mvariant defines multi-variant experiments, assigns subjects to variants
deterministically, accumulates per-variant outcome metrics and promotes a
winner once the difference is statistically significant.

Configuration is read from MVARIANT_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newExperimentCmd())
	root.AddCommand(newAssignCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newObserveCmd())
	root.AddCommand(newContentCmd())
	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
