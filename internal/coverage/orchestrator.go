package coverage

import (
	"os"

	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/events"
	"github.com/flyingrobots/data-deploy/internal/requirements"
	"github.com/flyingrobots/data-deploy/internal/scanner"
	"github.com/flyingrobots/data-deploy/internal/template"
)

// CheckOpts configures one checkCoverage run (spec §4.9).
type CheckOpts struct {
	TestsDir         string
	ScanOpts         scanner.Opts
	EnforcementOpts  Opts
	GenerateTemplates bool
}

// Orchestrator composes the scanner, requirement analyzer, enforcer, and
// template generator into the five-phase coverage pipeline.
type Orchestrator struct {
	scanner   *scanner.Scanner
	enforcer  *Enforcer
	generator *template.Generator
	sink      events.Sink
}

// NewOrchestrator creates a TestCoverageOrchestrator.
func NewOrchestrator(sc *scanner.Scanner, en *Enforcer, gen *template.Generator) *Orchestrator {
	return &Orchestrator{scanner: sc, enforcer: en, generator: gen, sink: events.Discard}
}

// SetSink configures the progress event sink.
func (o *Orchestrator) SetSink(s events.Sink) { o.sink = s }

// CheckCoverage runs analyze → scan → enforce → (optional) generate → assemble.
func (o *Orchestrator) CheckCoverage(operations domain.OperationBatch, opts CheckOpts) (domain.EnforcementResult, error) {
	o.sink.Emit(events.Event{Kind: events.KindStart, Message: "checking test coverage"})

	reqs, _, err := requirements.Analyze(operations)
	if err != nil {
		return domain.EnforcementResult{}, err
	}

	var db *scanner.CoverageDatabase
	if _, statErr := os.Stat(opts.TestsDir); os.IsNotExist(statErr) {
		o.sink.Emit(events.Event{Kind: events.KindWarning, Message: "tests directory does not exist; treating as no coverage rather than erroring"})
		db = scanner.Empty()
	} else {
		db, err = o.scanner.Scan(opts.TestsDir, opts.ScanOpts)
		if err != nil {
			result, techErr := o.enforcer.EnforceTechnicalFailure(opts.EnforcementOpts, err)
			return result, techErr
		}
	}

	result := o.enforcer.Enforce(reqs, db, opts.EnforcementOpts)

	if opts.GenerateTemplates && len(result.Gaps) > 0 {
		for _, gap := range result.Gaps {
			r := o.generator.Generate(gap.Requirement)
			result.Templates = append(result.Templates, r.SQL)
		}
	}

	o.sink.Emit(events.Event{Kind: events.KindComplete, Message: "coverage check complete"})
	return result, nil
}
