package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flyingrobots/data-deploy/internal/checks"
	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/coverage"
	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/events"
)

// Orchestrator sequences a single deployment through the phases in spec
// §4.10. The zero value is not usable; construct with New.
type Orchestrator struct {
	deps Deps
	cfg  Config
	sink events.Sink

	// now is overridden in tests so tag names are deterministic.
	now func() time.Time
}

// New creates an Orchestrator for one deployment run.
func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg, sink: events.Discard, now: func() time.Time { return time.Now().UTC() }}
}

// SetSink configures the progress event sink.
func (o *Orchestrator) SetSink(s events.Sink) { o.sink = s }

func (o *Orchestrator) logf(phase Phase, format string, args ...interface{}) {
	o.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("[%s] %s", phase, fmt.Sprintf(format, args...))})
}

// Deploy runs the full phase sequence: validation → testing? → analysis →
// coverage? → preview → confirmation? → migration → functions? → tagging →
// complete, with automatic rollback if tagging or complete fails. A functions
// failure is reported as a warning and leaves the migration committed.
func (o *Orchestrator) Deploy(ctx context.Context) (*Result, error) {
	start := o.now()

	if err := o.runValidation(ctx); err != nil {
		return nil, err
	}

	if !o.cfg.SkipTests {
		if err := o.runTesting(ctx); err != nil {
			return nil, err
		}
	} else {
		o.logf(PhaseTesting, "skipped")
	}

	batch, err := o.runAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		o.logf(PhaseAnalysis, "no changes detected")
		return &Result{Deployed: false, Outcome: "success", FinalPhase: PhaseAnalysis, Message: "no pending operations"}, nil
	}

	var coveragePct *int
	if !o.cfg.SkipCoverage {
		pct, err := o.runCoverage(ctx, batch)
		if err != nil {
			return nil, err
		}
		coveragePct = &pct
	} else {
		o.logf(PhaseCoverage, "skipped")
	}

	o.runPreview(batch)

	if !o.cfg.DryRun {
		if declined, err := o.runConfirmation(batch); err != nil {
			return nil, err
		} else if declined {
			return &Result{Deployed: false, Outcome: "declined", FinalPhase: PhaseConfirmation, Message: "deployment declined by operator"}, nil
		}
	}

	migrationID := migrationIDFor(batch)
	deploymentRow, err := o.deps.Store.BeginDeployment(migrationID, o.cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("begin deployment record: %w", err)
	}

	if err := o.runMigration(ctx, batch, deploymentRow); err != nil {
		_ = o.deps.Store.FinishDeployment(deploymentRow, "", "failed", len(batch), coveragePct, false, int(o.now().Sub(start).Milliseconds()))
		return nil, err
	}

	result := &Result{Deployed: true, MigrationID: migrationID, Operations: len(batch), CoveragePct: coveragePct, Outcome: "success"}

	if !o.cfg.SkipFunctions && o.cfg.FunctionsDir != "" {
		if err := o.runFunctions(ctx); err != nil {
			// spec §4.10: functions failure is reported, not auto-rolled-back.
			o.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("function deployment failed: %v; deployment is committed — run rollback manually if needed", err)})
			_ = o.deps.Store.LogPhaseEvent(deploymentRow, string(PhaseFunctions), "error", err.Error(), "")
		}
	} else {
		o.logf(PhaseFunctions, "skipped")
	}

	tag, tagErr := o.runTagging(ctx, migrationID, len(batch))
	if tagErr != nil {
		if rbErr := o.autoRecover(ctx, PhaseTagging, tagErr); rbErr != nil {
			return nil, rbErr
		}
		result.Outcome = "rolled_back"
		result.FinalPhase = PhaseRollback
		_ = o.deps.Store.FinishDeployment(deploymentRow, "", "rolled_back", len(batch), coveragePct, o.bypassed(), int(o.now().Sub(start).Milliseconds()))
		return result, nil
	}
	result.Tag = tag
	result.FinalPhase = PhaseComplete

	if err := o.deps.Store.FinishDeployment(deploymentRow, tag, "success", len(batch), coveragePct, o.bypassed(), int(o.now().Sub(start).Milliseconds())); err != nil {
		if rbErr := o.autoRecover(ctx, PhaseComplete, err); rbErr != nil {
			return nil, rbErr
		}
		result.Outcome = "rolled_back"
		result.FinalPhase = PhaseRollback
		return result, nil
	}
	o.logf(PhaseComplete, "deployment %s tagged %s", migrationID, tag)
	o.sink.Emit(events.Event{Kind: events.KindComplete, Message: "deployment complete"})
	return result, nil
}

func (o *Orchestrator) bypassed() bool { return o.cfg.Enforcement.BypassReason != "" }

// --- validation ---

func (o *Orchestrator) runValidation(ctx context.Context) error {
	o.logf(PhaseValidation, "checking deployment readiness")
	readiness, err := o.deps.Git.ValidateDeploymentReadiness(ctx)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if !readiness.Valid {
		return fmt.Errorf("validation: deployment not ready: %s", strings.Join(readiness.Errors, "; "))
	}
	for _, w := range readiness.Warnings {
		o.sink.Emit(events.Event{Kind: events.KindWarning, Message: w})
	}
	return nil
}

// --- testing ---

func (o *Orchestrator) runTesting(ctx context.Context) error {
	o.logf(PhaseTesting, "running %s", o.cfg.TestCommand)
	res, err := o.deps.TestRunner.Execute(ctx, o.cfg.TestCommand, o.cfg.TestArgs, childproc.Opts{Timeout: o.cfg.TestTimeout})
	if err != nil && res.Kind != childproc.KindNonZeroExit {
		return fmt.Errorf("testing: %w", err)
	}

	// pg_prove emits TAP on stdout regardless of exit code; parse it even on
	// failure so the summary names which assertions broke, not just that the
	// process exited nonzero.
	summary := checks.ParseTAP(res.Stdout)
	if summary.Total > 0 {
		o.logf(PhaseTesting, "%s", summary.String())
		for _, f := range summary.Failures {
			o.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("test %d failed: %s", f.Number, f.Description)})
		}
	}

	if res.Kind != childproc.KindOK {
		return fmt.Errorf("testing: test command failed (kind=%d): %s", res.Kind, res.Stderr)
	}
	if summary.Total > 0 && !summary.IsGreen() {
		return fmt.Errorf("testing: %d of %d assertion(s) failed", summary.Failed, summary.Total)
	}
	return nil
}

// --- analysis ---

func (o *Orchestrator) runAnalysis(ctx context.Context) (domain.OperationBatch, error) {
	o.logf(PhaseAnalysis, "loading current and previous SQL")
	current, err := ConcatenateSQL(o.cfg.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("analysis: read current sql: %w", err)
	}

	previous := ""
	lastTag, err := o.deps.Git.GetLastDeploymentTag(ctx)
	if err != nil {
		return nil, fmt.Errorf("analysis: get last deployment tag: %w", err)
	}
	if lastTag != nil {
		previous, err = o.deps.Git.GetSQLAtCommit(ctx, lastTag.CommitHash)
		if err != nil {
			return nil, fmt.Errorf("analysis: get sql at last deployment commit: %w", err)
		}
	}

	batch, err := o.deps.Analyzer.Analyze(previous, current)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	return batch, nil
}

// ConcatenateSQL reads every *.sql file under dir in lexicographic order and
// concatenates their raw contents (spec §4.10: "concatenation of *.sql under
// sqlDir in lexicographic order"). Unlike compiler.Compile, this produces no
// banners — it feeds a diff, not a deployable artifact. Exported so the CLI's
// ad hoc coverage/diff checks can read the same SQL snapshot the deploy
// phases do.
func ConcatenateSQL(dir string) (string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sort.Strings(files)

	var sb strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f, err)
		}
		sb.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// --- coverage ---

func (o *Orchestrator) runCoverage(ctx context.Context, batch domain.OperationBatch) (int, error) {
	o.logf(PhaseCoverage, "checking test coverage")
	result, err := o.deps.Coverage.CheckCoverage(batch, coverageCheckOpts(o.cfg))
	if err != nil {
		return 0, fmt.Errorf("coverage: %w", err)
	}
	if result.ShouldBlock {
		o.sink.Emit(events.Event{Kind: events.KindEnforcementFailed, Message: fmt.Sprintf("coverage enforcement failed: %d gap(s)", len(result.Gaps))})
		return 0, fmt.Errorf("coverage: enforcement failed with %d gap(s); run `data test generate-template` or supply --coverage-bypass-reason", len(result.Gaps))
	}
	if result.BypassReason != "" {
		o.sink.Emit(events.Event{Kind: events.KindEnforcementBypassed, Message: fmt.Sprintf("coverage enforcement bypassed: %s", result.BypassReason)})
	}
	return result.CoveragePercentage, nil
}

// --- preview ---

func (o *Orchestrator) runPreview(batch domain.OperationBatch) {
	counts := map[domain.OperationKind]int{}
	for _, op := range batch {
		counts[op.Type]++
	}
	o.sink.Emit(events.Event{
		Kind:    events.KindPreview,
		Message: fmt.Sprintf("%d operation(s): %d safe, %d warning, %d destructive", len(batch), counts[domain.OperationSafe], counts[domain.OperationWarning], counts[domain.OperationDestructive]),
		Details: map[string]interface{}{"operations": len(batch)},
	})
}

// --- confirmation ---

func (o *Orchestrator) runConfirmation(batch domain.OperationBatch) (declined bool, err error) {
	var destructive []domain.MigrationOperation
	for _, op := range batch {
		if op.Type == domain.OperationDestructive {
			destructive = append(destructive, op)
		}
	}
	if len(destructive) == 0 {
		return false, nil
	}
	if o.deps.Confirm == nil {
		return false, fmt.Errorf("confirmation: destructive operations present but no confirmer configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d destructive operation(s) will run:\n", len(destructive))
	for _, op := range destructive {
		fmt.Fprintf(&b, "  - %s: %s\n", op.Description, op.Warning)
	}
	ok, err := o.deps.Confirm(b.String())
	if err != nil {
		return false, fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		return true, nil
	}

	if o.cfg.Production {
		ok, err := o.deps.Confirm(fmt.Sprintf("this will deploy to PRODUCTION (%s) — continue?", o.cfg.Environment))
		if err != nil {
			return false, fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}

// --- migration ---

func (o *Orchestrator) runMigration(ctx context.Context, batch domain.OperationBatch, deploymentRow int64) error {
	o.logf(PhaseMigration, "verifying exec_sql RPC")
	if err := o.deps.DB.EnsureExecSQLFunction(ctx); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	_ = o.deps.Store.AdvancePhase(deploymentRow, string(PhaseMigration))

	tx, err := o.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migration: begin transaction: %w", err)
	}

	for i, op := range batch {
		if _, err := tx.Exec(ctx, op.SQL); err != nil {
			_ = tx.Rollback(ctx)
			_ = o.deps.Store.LogPhaseEvent(deploymentRow, string(PhaseMigration), "error", fmt.Sprintf("operation %d failed: %s", i, op.Description), err.Error())
			return fmt.Errorf("migration: operation %d (%s) failed, transaction rolled back: %w", i, op.Description, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migration: commit: %w", err)
	}
	o.logf(PhaseMigration, "committed %d operation(s)", len(batch))
	return nil
}

// --- functions ---

func (o *Orchestrator) runFunctions(ctx context.Context) error {
	o.logf(PhaseFunctions, "deploying functions from %s", o.cfg.FunctionsDir)
	res, err := o.deps.FunctionsRunner.Execute(ctx, o.cfg.FunctionsDeployCommand, o.cfg.FunctionsDeployArgs, childproc.Opts{Timeout: o.cfg.FunctionsTimeout, Cwd: o.cfg.FunctionsDir})
	if err != nil {
		return err
	}
	if res.Kind != childproc.KindOK {
		return fmt.Errorf("function deploy command failed (kind=%d): %s", res.Kind, res.Stderr)
	}
	return nil
}

// --- tagging ---

func (o *Orchestrator) runTagging(ctx context.Context, migrationID string, operationCount int) (string, error) {
	ts := o.now().Format("20060102150405")
	name := fmt.Sprintf("data-deploy-%s-%s", ts, migrationID)
	o.logf(PhaseTagging, "creating tag %s", name)
	tag, err := o.deps.Git.CreateDeploymentTag(ctx, name, map[string]interface{}{
		"migrationId": migrationID,
		"operations":  operationCount,
		"timestamp":   ts,
		"environment": o.cfg.Environment,
	})
	if err != nil {
		return "", fmt.Errorf("tagging: %w", err)
	}
	return tag, nil
}

// --- auto-recovery ---

// autoRecover attempts a rollback after a failure in tagging or complete.
// Functions failures do not reach it (see Deploy). Failure of the rollback
// itself is a compound fatal error requiring manual intervention.
func (o *Orchestrator) autoRecover(ctx context.Context, failedPhase Phase, cause error) error {
	o.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("%s failed (%v); attempting automatic rollback", failedPhase, cause)})
	if _, err := o.Rollback(ctx, RollbackOpts{Automatic: true}); err != nil {
		return fmt.Errorf("deployment failed in phase %s (%v), and automatic rollback also failed (%w); manual intervention required", failedPhase, cause, err)
	}
	return nil
}

func migrationIDFor(batch domain.OperationBatch) string {
	h := sha256.New()
	for _, op := range batch {
		h.Write([]byte(op.SQL))
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func coverageCheckOpts(cfg Config) coverage.CheckOpts {
	return coverage.CheckOpts{
		TestsDir:          cfg.TestsDir,
		ScanOpts:          cfg.ScanOpts,
		EnforcementOpts:   cfg.Enforcement,
		GenerateTemplates: true,
	}
}
