package orchestrator

import (
	"context"
	"fmt"

	"github.com/flyingrobots/data-deploy/internal/events"
)

// RollbackOpts configures a rollback run.
type RollbackOpts struct {
	// Automatic marks a rollback triggered by auto-recovery rather than an
	// operator invocation; automatic rollbacks skip the confirmation prompt
	// (spec §4.10: "If not automatic, prompt for confirmation").
	Automatic bool
}

// Rollback brings the target database back to the SQL recorded at the last
// deployment tag by running the reverse operations through the migration
// path, then tags the result (spec §4.10's Rollback state machine). The
// working tree is not modified.
func (o *Orchestrator) Rollback(ctx context.Context, opts RollbackOpts) (*Result, error) {
	o.logf(PhaseRollback, "locating last deployment tag")
	lastTag, err := o.deps.Git.GetLastDeploymentTag(ctx)
	if err != nil {
		return nil, fmt.Errorf("rollback: get last deployment tag: %w", err)
	}
	if lastTag == nil {
		return nil, fmt.Errorf("rollback: no deployment tags found")
	}

	targetSQL, err := o.deps.Git.GetSQLAtCommit(ctx, lastTag.CommitHash)
	if err != nil {
		return nil, fmt.Errorf("rollback: get sql at %s: %w", lastTag.Name, err)
	}
	currentSQL, err := ConcatenateSQL(o.cfg.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("rollback: read current sql: %w", err)
	}

	// "Generate a reverse operation list by reversing current vs. target":
	// current is treated as the baseline and target as the state being moved
	// to, the mirror image of the forward analysis phase's (previous, current).
	batch, err := o.deps.Analyzer.Analyze(currentSQL, targetSQL)
	if err != nil {
		return nil, fmt.Errorf("rollback: derive reverse operations: %w", err)
	}
	if len(batch) == 0 {
		return &Result{Deployed: false, Outcome: "success", FinalPhase: PhaseRollback, Message: "no difference between current state and last deployment tag"}, nil
	}

	if !opts.Automatic {
		if o.deps.Confirm == nil {
			return nil, fmt.Errorf("rollback: %d operation(s) pending but no confirmer configured", len(batch))
		}
		ok, err := o.deps.Confirm(fmt.Sprintf("roll back %d operation(s) to %s?", len(batch), lastTag.Name))
		if err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		if !ok {
			return &Result{Deployed: false, Outcome: "declined", FinalPhase: PhaseRollback, Message: "rollback declined by operator"}, nil
		}
	}

	migrationID := migrationIDFor(batch)
	deploymentRow, err := o.deps.Store.BeginDeployment(migrationID, o.cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("rollback: begin deployment record: %w", err)
	}

	if err := o.runMigration(ctx, batch, deploymentRow); err != nil {
		_ = o.deps.Store.FinishDeployment(deploymentRow, "", "failed", len(batch), nil, false, 0)
		return nil, fmt.Errorf("rollback: %w", err)
	}

	ts := o.now().Format("20060102150405")
	tagName := fmt.Sprintf("rollback-%s-from-%s", ts, lastTag.Name)
	tag, err := o.deps.Git.CreateDeploymentTag(ctx, tagName, map[string]interface{}{
		"migrationId": migrationID,
		"operations":  len(batch),
		"timestamp":   ts,
		"environment": o.cfg.Environment,
		"rolledBackFrom": lastTag.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("rollback: tag result: %w", err)
	}

	if err := o.deps.Store.FinishDeployment(deploymentRow, tag, "rolled_back", len(batch), nil, false, 0); err != nil {
		return nil, fmt.Errorf("rollback: record completion: %w", err)
	}
	o.sink.Emit(events.Event{Kind: events.KindComplete, Message: fmt.Sprintf("rollback complete, tagged %s", tag)})
	return &Result{Deployed: true, MigrationID: migrationID, Tag: tag, Operations: len(batch), Outcome: "rolled_back", FinalPhase: PhaseComplete}, nil
}
