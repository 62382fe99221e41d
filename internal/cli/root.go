// Package cli is the data-deploy command-line front end: a thin cobra
// wrapper that loads config.DeploymentConfig, wires internal/orchestrator's
// Deps, and exposes deploy/compile/diff/coverage/rollback/tag/status as
// subcommands.
//
// Grounded on the teacher's internal/cli/root.go: same
// SetVersion/Execute/init-registers-subcommands shape, same single
// package-level rootCmd.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "data",
	Short: "data-deploy — database schema deployment automation",
	Long: `data-deploy compiles, analyzes, and deploys SQL schema changes against a
Postgres target, enforcing test coverage on every migration before it runs.

Configuration is read from ./data-deploy.yaml (or ~/.data-deploy/config.yaml);
deployment history and coverage runs are recorded in a local SQLite
bookkeeping database.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(statusCmd)
}
