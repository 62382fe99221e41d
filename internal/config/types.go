package config

import (
	"time"

	"github.com/flyingrobots/data-deploy/internal/coverage"
	"github.com/flyingrobots/data-deploy/internal/scanner"
)

// DeploymentConfig is the top-level configuration parsed from the
// deployment YAML file (spec §6: "configuration surfaces... loaded from a
// single project-level YAML file").
type DeploymentConfig struct {
	Deployment Deployment `yaml:"deployment"`
}

// Deployment holds everything one data-deploy invocation needs to run: the
// source tree layout, the target connection, and the test/coverage/function
// deployment commands.
type Deployment struct {
	SQLDir        string `yaml:"sql_dir"`
	TestsDir      string `yaml:"tests_dir"`
	MigrationsDir string `yaml:"migrations_dir"`
	FunctionsDir  string `yaml:"functions_dir"`

	Environment string `yaml:"environment"`
	DSN         string `yaml:"dsn"`
	Production  bool   `yaml:"production"`

	SkipTests     bool `yaml:"skip_tests"`
	SkipCoverage  bool `yaml:"skip_coverage"`
	SkipFunctions bool `yaml:"skip_functions"`

	Test            CommandSpec `yaml:"test"`
	FunctionsDeploy CommandSpec `yaml:"functions_deploy"`

	IncludeDropStatements bool          `yaml:"include_drop_statements"`
	Enforcement           EnforcementSpec `yaml:"enforcement"`
	Scan                  ScanSpec      `yaml:"scan"`
}

// CommandSpec is a shelled-out command with its arguments and timeout,
// shared by the test runner and the functions deployer.
type CommandSpec struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout string   `yaml:"timeout"`
}

// timeout parses Timeout, defaulting to def when unset or unparseable.
func (c CommandSpec) timeout(def time.Duration) time.Duration {
	if c.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return def
	}
	return d
}

// EnforcementSpec configures the coverage enforcer (spec §4.8 step 5).
type EnforcementSpec struct {
	Level        string `yaml:"level"` // strict | normal | lenient
	AllowBypass  bool   `yaml:"allow_bypass"`
	BypassReason string `yaml:"-"` // set from --coverage-bypass-reason, never from YAML
}

func (e EnforcementSpec) toOpts(production bool) coverage.Opts {
	level := coverage.LevelNormal
	switch e.Level {
	case "strict":
		level = coverage.LevelStrict
	case "lenient":
		level = coverage.LevelLenient
	}
	return coverage.Opts{
		Level:        level,
		Production:   production,
		AllowBypass:  e.AllowBypass,
		BypassReason: e.BypassReason,
	}
}

// ScanSpec configures the pgTAP test-file scanner (spec §4.7).
type ScanSpec struct {
	MaxDepth int      `yaml:"max_depth"`
	Include  []string `yaml:"include"`
	Exclude  []string `yaml:"exclude"`
}

func (s ScanSpec) toOpts() scanner.Opts {
	return scanner.Opts{
		MaxDepth: s.MaxDepth,
		Include:  s.Include,
		Exclude:  s.Exclude,
	}
}
