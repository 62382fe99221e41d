package cli

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/orchestrator"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert to the state of the last deployment tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		automatic, _ := cmd.Flags().GetBool("automatic")
		ctx := context.Background()

		env, err := newEnvironment(ctx, environmentOpts{})
		if err != nil {
			return err
		}
		defer env.closer()

		release, err := orchestrator.AcquireLock(".")
		if err != nil {
			return err
		}
		defer release()

		result, err := env.orch.Rollback(ctx, orchestrator.RollbackOpts{Automatic: automatic})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "outcome: %s\n", result.Outcome)
		if result.Tag != "" {
			fmt.Fprintf(w, "tag: %s\n", result.Tag)
		}
		if result.Message != "" {
			fmt.Fprintf(w, "message: %s\n", result.Message)
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().Bool("automatic", false, "skip the confirmation prompt")
}
