package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

func newAssignCmd() *cobra.Command {
	var (
		subjectsFile string
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "assign <experiment-id> [subject-id...]",
		Short: "Assign subjects to variants",
		Long: `Print the variant each subject is assigned to. Subjects outside the
experiment's distribution share, or any subject while the experiment is not
RUNNING, are printed with "-".

Examples:
  mvariant assign 6f1c... user-1 user-2
  mvariant assign 6f1c... --subjects-file subjects.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects := args[1:]
			if subjectsFile != "" {
				fromFile, err := readSubjects(subjectsFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				subjects = append(subjects, fromFile...)
			}
			if len(subjects) == 0 {
				return fmt.Errorf("no subjects given")
			}

			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				d, err := app.Service.Get(ctx, args[0])
				if err != nil {
					return err
				}

				assigned, err := assignAll(ctx, app, d, subjects, workers)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SUBJECT\tVARIANT\tNAME")
				for i, s := range subjects {
					id, name := "-", "-"
					if v := d.Variant(assigned[i]); v != nil {
						id, name = v.ID, v.Name
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s, id, name)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&subjectsFile, "subjects-file", "", "File with one subject id per line, - for stdin")
	cmd.Flags().IntVar(&workers, "workers", 8, "Concurrent assignments")
	return cmd
}

// assignAll assigns every subject against one loaded experiment. The result
// is index-aligned with subjects; excluded subjects get "".
func assignAll(ctx context.Context, app *AppContext, d *domain.ExperimentDetail, subjects []string, workers int) ([]string, error) {
	out := make([]string, len(subjects))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, s := range subjects {
		i, s := i, s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i], _ = app.Service.Assigner().AssignDetail(ctx, d, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readSubjects(path string, in io.Reader) ([]string, error) {
	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var subjects []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			subjects = append(subjects, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return subjects, nil
}
