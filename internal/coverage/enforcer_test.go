package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/scanner"
)

func dbWithTable(t *testing.T, root, name string, assertions string) *scanner.CoverageDatabase {
	t.Helper()
	sc := scanner.New()
	writeSQL(t, root, name+"_test.sql", assertions)
	db, err := sc.Scan(root, scanner.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func writeSQL(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnforceFullCoveragePasses(t *testing.T) {
	root := t.TempDir()
	db := dbWithTable(t, root, "widgets", `SELECT has_table('public', 'widgets');`)
	reqs := []domain.TestRequirement{{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityCritical}}

	e := New()
	result := e.Enforce(reqs, db, Opts{Level: LevelStrict})
	if !result.Passed || result.ShouldBlock {
		t.Errorf("result = %+v", result)
	}
	if result.CoveragePercentage != 100 {
		t.Errorf("coverage = %d", result.CoveragePercentage)
	}
}

func TestEnforceGapBlocksUnderStrict(t *testing.T) {
	db := scanner.Empty()
	reqs := []domain.TestRequirement{{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityLow}}

	e := New()
	result := e.Enforce(reqs, db, Opts{Level: LevelStrict})
	if !result.ShouldBlock {
		t.Error("expected strict policy to block on any gap")
	}
}

func TestEnforceLenientOnlyBlocksOnCritical(t *testing.T) {
	db := scanner.Empty()
	reqs := []domain.TestRequirement{{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityMedium}}

	e := New()
	result := e.Enforce(reqs, db, Opts{Level: LevelLenient})
	if result.ShouldBlock {
		t.Error("expected lenient policy not to block on medium-priority gap")
	}
}

func TestEnforceLenientBlocksOnCritical(t *testing.T) {
	db := scanner.Empty()
	reqs := []domain.TestRequirement{{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityCritical}}

	e := New()
	result := e.Enforce(reqs, db, Opts{Level: LevelLenient})
	if !result.ShouldBlock {
		t.Error("expected lenient policy to block on critical gap")
	}
}

func TestEnforceBypassOverridesBlock(t *testing.T) {
	db := scanner.Empty()
	reqs := []domain.TestRequirement{{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityCritical}}

	e := New()
	result := e.Enforce(reqs, db, Opts{Level: LevelStrict, AllowBypass: true, BypassReason: "hotfix, reviewed manually"})
	if !result.Passed || result.ShouldBlock {
		t.Errorf("expected bypass to pass, got %+v", result)
	}
	if result.BypassReason == "" {
		t.Error("expected bypass reason echoed")
	}
}

func TestEnforceTechnicalFailureProductionReraises(t *testing.T) {
	e := New()
	_, err := e.EnforceTechnicalFailure(Opts{Production: true}, errSentinel)
	if err == nil {
		t.Fatal("expected error in production")
	}
}

func TestEnforceTechnicalFailureNonProductionRequiresBypass(t *testing.T) {
	e := New()
	_, err := e.EnforceTechnicalFailure(Opts{Production: false}, errSentinel)
	if err == nil {
		t.Fatal("expected error when no bypass reason given outside production")
	}
}

func TestEnforceTechnicalFailureNonProductionWithBypassPasses(t *testing.T) {
	e := New()
	result, err := e.EnforceTechnicalFailure(Opts{Production: false, BypassReason: "scanner known flaky on this box"}, errSentinel)
	if err != nil {
		t.Fatalf("expected no error with bypass reason, got %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed, got %+v", result)
	}
}

var errSentinel = &sentinelErr{}

type sentinelErr struct{}

func (*sentinelErr) Error() string { return "scanner exploded" }
