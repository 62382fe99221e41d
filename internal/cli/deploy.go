package cli

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/orchestrator"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the full deployment state machine against the configured target",
	Long: `Runs validation, testing, analysis, coverage enforcement, preview,
confirmation, migration, function deployment, and tagging in sequence,
per the deployment orchestrator's phase ordering.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bypass, _ := cmd.Flags().GetString("coverage-bypass-reason")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		production, _ := cmd.Flags().GetBool("production")
		ctx := context.Background()

		env, err := newEnvironment(ctx, environmentOpts{BypassReason: bypass, DryRun: dryRun, Production: production})
		if err != nil {
			return err
		}
		defer env.closer()

		release, err := orchestrator.AcquireLock(".")
		if err != nil {
			return err
		}
		defer release()

		result, err := env.orch.Deploy(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "outcome: %s\n", result.Outcome)
		if result.Tag != "" {
			fmt.Fprintf(w, "tag: %s\n", result.Tag)
		}
		if result.Deployed {
			fmt.Fprintf(w, "operations: %d\n", result.Operations)
		}
		if result.Message != "" {
			fmt.Fprintf(w, "message: %s\n", result.Message)
		}
		if result.Outcome == "declined" || result.Outcome == "failed" {
			return fmt.Errorf("deployment did not complete: %s", result.Outcome)
		}
		return nil
	},
}

func init() {
	deployCmd.Flags().Bool("dry-run", false, "preview operations without executing them")
	deployCmd.Flags().Bool("production", false, "require the extra production confirmation prompt")
	deployCmd.Flags().String("coverage-bypass-reason", "", "bypass coverage enforcement with a recorded reason")
}
