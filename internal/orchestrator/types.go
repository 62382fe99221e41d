// Package orchestrator implements the Deployment Orchestrator (spec §4.10):
// the single state machine that sequences validation, testing, analysis,
// coverage enforcement, preview, confirmation, migration execution, function
// deployment, tagging, and rollback.
//
// Grounded directly on internal/orchestrator/orchestrator.go's phase shape —
// Advance's stage dispatch, handleStageFailure's abort-vs-retry branching,
// and Cleanup's rollback helpers — generalized from a resumable multi-stage
// pipeline (one stage per process invocation) to a single synchronous
// deployment run (spec §5: "phases run in strict sequence... single-threaded
// cooperative"), since a deployment has no analogue of the teacher's
// check-in loop.
package orchestrator

import (
	"context"
	"time"

	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/coverage"
	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/execsql"
	"github.com/flyingrobots/data-deploy/internal/gittracker"
	"github.com/flyingrobots/data-deploy/internal/scanner"
)

// Phase names a state in the deployment state machine (spec §4.10).
type Phase string

const (
	PhaseValidation   Phase = "validation"
	PhaseTesting      Phase = "testing"
	PhaseAnalysis     Phase = "analysis"
	PhaseCoverage     Phase = "coverage"
	PhasePreview      Phase = "preview"
	PhaseConfirmation Phase = "confirmation"
	PhaseMigration    Phase = "migration"
	PhaseFunctions    Phase = "functions"
	PhaseTagging      Phase = "tagging"
	PhaseComplete     Phase = "complete"
	PhaseRollback     Phase = "rollback"
)

// Config carries the options threaded through a single deployment run —
// DESIGN NOTES §9 prefers an explicit config struct per component over the
// teacher's pattern of many optional constructor arguments.
type Config struct {
	SQLDir        string
	TestsDir      string
	MigrationsDir string
	FunctionsDir  string
	Environment   string
	Production    bool
	DryRun        bool

	SkipTests     bool
	SkipCoverage  bool
	SkipFunctions bool

	TestCommand string
	TestArgs    []string
	TestTimeout time.Duration

	FunctionsDeployCommand string
	FunctionsDeployArgs    []string
	FunctionsTimeout       time.Duration

	IncludeDropStatements bool
	Enforcement           coverage.Opts
	ScanOpts              scanner.Opts
}

// GitTracker is the subset of *gittracker.Tracker the orchestrator needs.
// Kept narrow, per diffengine.ChangeFetcher's precedent, so tests fake it
// without a real git repository.
type GitTracker interface {
	ValidateDeploymentReadiness(ctx context.Context) (*gittracker.DeploymentReadiness, error)
	GetLastDeploymentTag(ctx context.Context) (*gittracker.DeploymentTag, error)
	GetSQLAtCommit(ctx context.Context, hash string) (string, error)
	CreateDeploymentTag(ctx context.Context, name string, metadata map[string]interface{}) (string, error)
}

// Analyzer is the operations analyzer port (spec §4.10's analysis phase:
// "the upstream operations analyzer, treated as an external port").
type Analyzer interface {
	Analyze(previous, current string) (domain.OperationBatch, error)
}

// CoverageChecker is the subset of *coverage.Orchestrator the migration
// phase needs.
type CoverageChecker interface {
	CheckCoverage(operations domain.OperationBatch, opts coverage.CheckOpts) (domain.EnforcementResult, error)
}

// TxExecutor is an open migration transaction. Matches *execsql.Tx's method
// set exactly, so the production execsql.DB.Begin result satisfies it
// without any wrapper type beyond DBAdapter's return-type cast (see
// execsql_adapter.go) — interface satisfaction in Go is structural, but
// return types in a method signature must match exactly, so Begin can't be
// declared to return *execsql.Tx on the interface and a fake concrete type
// in tests; TxExecutor is the common denominator both satisfy.
type TxExecutor interface {
	Exec(ctx context.Context, sql string) (execsql.Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SQLExecutor is the subset of the target database connection the migration
// phase needs.
type SQLExecutor interface {
	EnsureExecSQLFunction(ctx context.Context) error
	Begin(ctx context.Context) (TxExecutor, error)
}

// Confirmer asks the operator a yes/no question. The interactive prompt UI
// itself is out of scope (spec §1's Non-goals); this is the seam the CLI
// wires its SafetyGates-equivalent prompt through.
type Confirmer func(prompt string) (bool, error)

// Deps bundles every collaborator the orchestrator calls through.
type Deps struct {
	Git             GitTracker
	TestRunner      childproc.Runner
	FunctionsRunner childproc.Runner
	Analyzer        Analyzer
	Coverage        CoverageChecker
	DB              SQLExecutor
	Store           DeploymentStore
	Confirm         Confirmer
}

// DeploymentStore is the subset of *store.Store the orchestrator needs for
// bookkeeping.
type DeploymentStore interface {
	BeginDeployment(migrationID, environment string) (int64, error)
	AdvancePhase(id int64, phase string) error
	FinishDeployment(id int64, tag, outcome string, operations int, coveragePct *int, bypassed bool, durationMs int) error
	LogPhaseEvent(deploymentID int64, phase, kind, message, detail string) error
}

// Result summarizes a completed (or short-circuited) deployment run.
type Result struct {
	Deployed    bool
	MigrationID string
	Tag         string
	Operations  int
	CoveragePct *int
	Outcome     string // "success", "declined", "failed", "rolled_back"
	FinalPhase  Phase
	Message     string
}
