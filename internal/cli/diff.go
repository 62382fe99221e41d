package cli

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/flyingrobots/data-deploy/internal/diffengine"
	"github.com/flyingrobots/data-deploy/internal/gittracker"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <from> <to>",
	Short: "Show the SQL tree diff between two git refs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}

		includeDrops, _ := cmd.Flags().GetBool("include-drop-statements")
		git := gittracker.New(childproc.Exec{}, ".", cfg.Deployment.SQLDir)
		engine := diffengine.New(git)

		result, err := engine.Diff(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d addition(s), %d deletion(s), %d modification(s)\n",
			len(result.Additions), len(result.Deletions), len(result.Modifications))
		for _, a := range result.Additions {
			fmt.Fprintf(w, "  + %s\n", a.Path)
		}
		if includeDrops || cfg.Deployment.IncludeDropStatements {
			for _, d := range result.Deletions {
				fmt.Fprintf(w, "  - %s\n", d.Path)
			}
		}
		for _, m := range result.Modifications {
			fmt.Fprintf(w, "  ~ %s\n", m.Path)
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().Bool("include-drop-statements", false, "include deletions in the rendered diff")
}
