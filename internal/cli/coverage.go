package cli

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/analyzer"
	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/flyingrobots/data-deploy/internal/coverage"
	"github.com/flyingrobots/data-deploy/internal/gittracker"
	"github.com/flyingrobots/data-deploy/internal/orchestrator"
	"github.com/flyingrobots/data-deploy/internal/scanner"
	"github.com/flyingrobots/data-deploy/internal/template"
	"github.com/spf13/cobra"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Check test coverage for pending migration operations without deploying",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		orchCfg := cfg.ToOrchestratorConfig("")

		ctx := context.Background()
		git := gittracker.New(childproc.Exec{}, ".", cfg.Deployment.SQLDir)

		current, err := orchestrator.ConcatenateSQL(cfg.Deployment.SQLDir)
		if err != nil {
			return err
		}
		previous := ""
		lastTag, err := git.GetLastDeploymentTag(ctx)
		if err != nil {
			return err
		}
		if lastTag != nil {
			previous, err = git.GetSQLAtCommit(ctx, lastTag.CommitHash)
			if err != nil {
				return err
			}
		}

		batch, err := analyzer.New().Analyze(previous, current)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no pending operations")
			return nil
		}

		orch := coverage.NewOrchestrator(scanner.New(), coverage.New(), template.New())
		result, err := orch.CheckCoverage(batch, coverage.CheckOpts{
			TestsDir:          orchCfg.TestsDir,
			ScanOpts:          orchCfg.ScanOpts,
			EnforcementOpts:   orchCfg.Enforcement,
			GenerateTemplates: true,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "coverage: %d%%\n", result.CoveragePercentage)
		fmt.Fprintf(w, "gaps: %d\n", len(result.Gaps))
		for _, g := range result.Gaps {
			fmt.Fprintf(w, "  - %s %s: %s\n", g.Requirement.Type, g.Requirement.Name, g.Reason)
		}
		for _, t := range result.Templates {
			fmt.Fprintln(w, "---")
			fmt.Fprintln(w, t)
		}
		if result.ShouldBlock {
			return fmt.Errorf("coverage enforcement would block this deployment")
		}
		return nil
	},
}
