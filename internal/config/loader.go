// Package config loads and validates the deployment YAML file and turns it
// into the structs internal/orchestrator needs to run.
//
// Grounded on the teacher's own config package: same Load/LoadDefault
// layering over gopkg.in/yaml.v3, same applyDefaults pass, same
// ValidationError-slice Validate contract — generalized from a pipeline
// definition (stages, checks, fix rounds) to a deployment definition (SQL
// tree layout, target DSN, enforcement level).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flyingrobots/data-deploy/internal/orchestrator"
)

// Load reads and parses a deployment configuration from the given YAML file.
func Load(path string) (*DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg DeploymentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a deployment config in standard locations and
// loads the first one found. Search order: ./data-deploy.yaml,
// ~/.data-deploy/config.yaml
func LoadDefault() (*DeploymentConfig, error) {
	candidates := []string{"data-deploy.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".data-deploy", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no deployment config found (searched: %v)", candidates)
}

// applyDefaults fills in directory and enforcement defaults left unset by
// the YAML file.
func applyDefaults(cfg *DeploymentConfig) {
	d := &cfg.Deployment
	if d.SQLDir == "" {
		d.SQLDir = "sql"
	}
	if d.TestsDir == "" {
		d.TestsDir = "tests"
	}
	if d.MigrationsDir == "" {
		d.MigrationsDir = "migrations"
	}
	if d.Enforcement.Level == "" {
		d.Enforcement.Level = "normal"
	}
	if d.Test.Command == "" {
		d.Test.Command = "pg_prove"
	}
}

// ToOrchestratorConfig converts a validated DeploymentConfig into the
// orchestrator.Config the deployment state machine runs with. bypassReason
// comes from a CLI flag, never from the YAML file itself (spec §4.8: a
// bypass is a per-invocation operator decision, not a standing policy).
func (c *DeploymentConfig) ToOrchestratorConfig(bypassReason string) orchestrator.Config {
	d := c.Deployment
	enforcement := d.Enforcement
	enforcement.BypassReason = bypassReason
	enforcement.AllowBypass = enforcement.AllowBypass || bypassReason != ""

	return orchestrator.Config{
		SQLDir:        d.SQLDir,
		TestsDir:      d.TestsDir,
		MigrationsDir: d.MigrationsDir,
		FunctionsDir:  d.FunctionsDir,
		Environment:   d.Environment,
		Production:    d.Production,

		SkipTests:     d.SkipTests,
		SkipCoverage:  d.SkipCoverage,
		SkipFunctions: d.SkipFunctions,

		TestCommand: d.Test.Command,
		TestArgs:    d.Test.Args,
		TestTimeout: d.Test.timeout(5 * time.Minute),

		FunctionsDeployCommand: d.FunctionsDeploy.Command,
		FunctionsDeployArgs:    d.FunctionsDeploy.Args,
		FunctionsTimeout:       d.FunctionsDeploy.timeout(5 * time.Minute),

		IncludeDropStatements: d.IncludeDropStatements,
		Enforcement:           enforcement.toOpts(d.Production),
		ScanOpts:              d.Scan.toOpts(),
	}
}
