package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/flyingrobots/data-deploy/internal/analyzer"
	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/flyingrobots/data-deploy/internal/coverage"
	"github.com/flyingrobots/data-deploy/internal/execsql"
	"github.com/flyingrobots/data-deploy/internal/gittracker"
	"github.com/flyingrobots/data-deploy/internal/orchestrator"
	"github.com/flyingrobots/data-deploy/internal/scanner"
	"github.com/flyingrobots/data-deploy/internal/store"
	"github.com/flyingrobots/data-deploy/internal/template"
)

// environment wires a single orchestrator.Orchestrator (plus the
// config it was built from) from the default config file and a fresh
// database connection to the deployment target. Every subcommand that
// talks to the target database uses this.
type environment struct {
	cfg    *config.DeploymentConfig
	store  *store.Store
	db     *execsql.DB
	orch   *orchestrator.Orchestrator
	closer func()
}

// environmentOpts carries the CLI flag overrides newEnvironment applies on
// top of the loaded config file.
type environmentOpts struct {
	BypassReason string
	DryRun       bool
	Production   bool
}

// newEnvironment loads config, opens the bookkeeping store, connects to the
// target database, and assembles an Orchestrator.
func newEnvironment(ctx context.Context, opts environmentOpts) (*environment, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Production {
		cfg.Deployment.Production = true
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config:\n  %s", joinLines(msgs))
	}

	dbPath, err := store.DefaultPath()
	if err != nil {
		return nil, err
	}
	bookkeeping, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open bookkeeping store: %w", err)
	}
	if err := bookkeeping.Migrate(); err != nil {
		bookkeeping.Close()
		return nil, fmt.Errorf("migrate bookkeeping store: %w", err)
	}

	target, err := execsql.Connect(ctx, cfg.Deployment.DSN)
	if err != nil {
		bookkeeping.Close()
		return nil, fmt.Errorf("connect to deployment target: %w", err)
	}

	runner := childproc.Exec{}
	git := gittracker.New(runner, ".", cfg.Deployment.SQLDir)
	sc := scanner.New()
	en := coverage.New()
	gen := template.New()
	cov := coverage.NewOrchestrator(sc, en, gen)

	deps := orchestrator.Deps{
		Git:             git,
		TestRunner:      runner,
		FunctionsRunner: runner,
		Analyzer:        analyzer.New(),
		Coverage:        cov,
		DB:              orchestrator.NewDBAdapter(target),
		Store:           bookkeeping,
		Confirm:         promptConfirm,
	}

	orchCfg := cfg.ToOrchestratorConfig(opts.BypassReason)
	orchCfg.DryRun = opts.DryRun
	orch := orchestrator.New(deps, orchCfg)

	closer := func() {
		target.Close()
		bookkeeping.Close()
	}
	return &environment{cfg: cfg, store: bookkeeping, db: target, orch: orch, closer: closer}, nil
}

// promptConfirm is the default interactive Confirmer: it asks the question
// on stdout and reads a yes/no answer from stdin.
func promptConfirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stdout, "%s [y/N] ", prompt)
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil && answer == "" {
		return false, nil
	}
	switch answer {
	case "y", "Y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n  "
		}
		out += l
	}
	return out
}
