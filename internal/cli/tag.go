package cli

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/flyingrobots/data-deploy/internal/gittracker"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "List deployment tags recorded in the git history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		git := gittracker.New(childproc.Exec{}, ".", cfg.Deployment.SQLDir)
		history, err := git.GetDeploymentHistory(context.Background(), limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(history) == 0 {
			fmt.Fprintln(w, "no deployment tags found")
			return nil
		}
		for _, t := range history {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.CommitHash, t.Timestamp.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

func init() {
	tagCmd.Flags().Int("limit", 20, "maximum number of tags to show")
}
