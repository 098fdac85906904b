package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newContentCmd() *cobra.Command {
	var variantID string
	cmd := &cobra.Command{
		Use:   "content <experiment-id> <subject-id>",
		Short: "Print the content a subject receives",
		Long: `Print, as JSON, the content a subject receives for an experiment: the
winner's once the experiment has completed with one, the assigned variant's
while it runs. Nothing is printed when the subject gets no experiment content.

With --variant the content of that variant is printed directly.

Examples:
  mvariant content 6f1c... user-1
  mvariant content --variant 9a2e...`,
		Args: func(cmd *cobra.Command, args []string) error {
			if variantID != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *AppContext) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				if variantID != "" {
					content, err := app.Service.GetVariantContent(ctx, variantID)
					if err != nil {
						return err
					}
					return enc.Encode(content)
				}

				res, err := app.Service.ResolveContent(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if res == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Subject %s receives no experiment content\n", args[1])
					return nil
				}
				return enc.Encode(struct {
					VariantID string            `json:"variant_id"`
					Winner    bool              `json:"winner"`
					Content   map[string]string `json:"content"`
				}{res.VariantID, res.Winner, res.Content})
			})
		},
	}
	cmd.Flags().StringVar(&variantID, "variant", "", "Print this variant's content instead")
	return cmd
}
