// Package coverage implements CoverageEnforcer (spec §4.8) and
// TestCoverageOrchestrator (spec §4.9).
//
// Grounded on internal/checks/gate.go's RunGate: a fixed ordered pipeline
// that aggregates per-check pass/fail into one structured result, with a
// continue-on-failure knob. Here the "checks" are coverage requirements and
// the aggregate is a coverage percentage instead of a boolean.
package coverage

import (
	"fmt"
	"strings"

	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/events"
	"github.com/flyingrobots/data-deploy/internal/scanner"
)

// Level is the enforcement policy (spec §4.8 step 5).
type Level string

const (
	LevelStrict  Level = "strict"
	LevelNormal  Level = "normal"
	LevelLenient Level = "lenient"
)

// minKindsFor is the minimum assertion-kind set a requirement type needs to
// count as covered (spec §4.8 step 2).
var minKindsFor = map[domain.RequirementType][]string{
	domain.RequirementTable:      {"has_table"},
	domain.RequirementColumn:     {"has_column"},
	domain.RequirementFunction:   {"has_function"},
	domain.RequirementIndex:      {"has_index"},
	domain.RequirementTrigger:    {"has_trigger"},
	domain.RequirementConstraint: {"col_not_null"},
	domain.RequirementRLS:        {"is_rls_enabled", "policy_exists"},
	domain.RequirementRPC:        {"has_function"},
}

// Opts configures one enforcement pass.
type Opts struct {
	Level        Level
	Production   bool
	AllowBypass  bool
	BypassReason string
}

// Enforcer cross-references requirements against a CoverageDatabase.
type Enforcer struct {
	sink events.Sink
}

// New creates an Enforcer.
func New() *Enforcer { return &Enforcer{sink: events.Discard} }

// SetSink configures the bypass/warning event sink.
func (e *Enforcer) SetSink(s events.Sink) { e.sink = s }

// Enforce runs the algorithm in spec §4.8 against reqs and db.
func (e *Enforcer) Enforce(reqs []domain.TestRequirement, db *scanner.CoverageDatabase, opts Opts) domain.EnforcementResult {
	if opts.BypassReason != "" && opts.AllowBypass {
		e.sink.Emit(events.Event{Kind: events.KindEnforcementBypassed, Message: "coverage enforcement bypassed: " + opts.BypassReason})
		return domain.EnforcementResult{Passed: true, ShouldBlock: false, BypassReason: opts.BypassReason, CoveragePercentage: 100}
	}

	var gaps []domain.CoverageGap
	covered := 0
	for _, req := range reqs {
		if isCovered(req, db) {
			covered++
			continue
		}
		gaps = append(gaps, domain.CoverageGap{Requirement: req, Reason: "no satisfying entry in coverage database"})
	}

	total := len(reqs)
	pct := 100
	if total > 0 {
		pct = (100 * covered) / total
	}

	result := domain.EnforcementResult{
		CoveragePercentage: pct,
		Gaps:               gaps,
		Suggestions:        suggestionsFor(gaps),
	}
	result.ShouldBlock = shouldBlock(opts.Level, gaps)
	result.Passed = !result.ShouldBlock

	if result.ShouldBlock {
		e.sink.Emit(events.Event{Kind: events.KindEnforcementFailed, Message: fmt.Sprintf("coverage enforcement failed: %d gap(s), %d%% covered", len(gaps), pct)})
	}
	return result
}

// EnforceTechnicalFailure implements step 7: the enforcer's own policy when
// the scanner or analyzer raised a technical error rather than producing a
// gap list.
func (e *Enforcer) EnforceTechnicalFailure(opts Opts, cause error) (domain.EnforcementResult, error) {
	if opts.Production {
		return domain.EnforcementResult{}, fmt.Errorf("coverage enforcement technical failure in production, refusing to proceed: %w", cause)
	}
	if opts.BypassReason == "" {
		return domain.EnforcementResult{ShouldBlock: true, Passed: false}, fmt.Errorf("coverage scanner failed and no bypassReason was given: %w", cause)
	}
	e.sink.Emit(events.Event{Kind: events.KindEnforcementBypassed, Message: "coverage enforcement technical failure bypassed: " + opts.BypassReason})
	return domain.EnforcementResult{Passed: true, BypassReason: opts.BypassReason, CoveragePercentage: 100}, nil
}

func shouldBlock(level Level, gaps []domain.CoverageGap) bool {
	if len(gaps) == 0 {
		return false
	}
	switch level {
	case LevelLenient:
		return anyPriority(gaps, domain.PriorityCritical)
	case LevelNormal:
		return anyPriority(gaps, domain.PriorityCritical) || anyPriority(gaps, domain.PriorityHigh)
	default: // strict
		return true
	}
}

func anyPriority(gaps []domain.CoverageGap, p domain.Priority) bool {
	for _, g := range gaps {
		if g.Requirement.Priority == p {
			return true
		}
	}
	return false
}

func suggestionsFor(gaps []domain.CoverageGap) []string {
	out := make([]string, 0, len(gaps))
	for _, g := range gaps {
		out = append(out, fmt.Sprintf("generate a %s test for %s", g.Requirement.Type, g.Requirement.Name))
	}
	return out
}

// isCovered applies the normalized-key lookup and minimum-assertion-kind
// check (spec §4.8 steps 1-2).
func isCovered(req domain.TestRequirement, db *scanner.CoverageDatabase) bool {
	schema := req.Schema
	if schema == "" {
		schema = "public"
	}
	name := strings.ToLower(req.Name)
	name = strings.ReplaceAll(name, "::", `\:\:`)
	key := strings.ToLower(schema) + "." + name

	var table map[string]*scanner.CoverageEntry
	switch req.Type {
	case domain.RequirementTable, domain.RequirementRPC:
		table = db.Tables
	case domain.RequirementColumn:
		table = db.Columns
	case domain.RequirementFunction:
		table = db.Functions
	case domain.RequirementIndex:
		table = db.Indexes
	case domain.RequirementTrigger:
		table = db.Triggers
	case domain.RequirementRLS:
		table = db.Tables
	case domain.RequirementConstraint:
		table = db.Columns
	default:
		return false
	}

	entry, ok := table[key]
	if !ok {
		return false
	}
	for _, kind := range minKindsFor[req.Type] {
		if _, ok := entry.AssertionTypes[kind]; !ok {
			return false
		}
	}
	return true
}
