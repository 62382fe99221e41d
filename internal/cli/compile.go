package cli

import (
	"fmt"
	"time"

	"github.com/flyingrobots/data-deploy/internal/compiler"
	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Concatenate the SQL source tree into a single timestamped artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.Deployment.MigrationsDir
		}

		result, err := compiler.New().Compile(compiler.Opts{
			SQLDir:    cfg.Deployment.SQLDir,
			OutputDir: out,
			Timestamp: time.Now().UTC().Format("20060102150405"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %d file(s) into %s\n", result.FilesProcessed, result.OutputPath)
		return nil
	},
}

func init() {
	compileCmd.Flags().String("out", "", "output directory (default: migrations_dir)")
}
