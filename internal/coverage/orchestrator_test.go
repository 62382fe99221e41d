package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/domain"
	"github.com/flyingrobots/data-deploy/internal/scanner"
	"github.com/flyingrobots/data-deploy/internal/template"
)

func TestCheckCoverageMissingTestsDirDowngrades(t *testing.T) {
	orch := NewOrchestrator(scanner.New(), New(), template.New())
	ops := domain.OperationBatch{{SQL: "CREATE TABLE public.widgets(id uuid);", Type: domain.OperationSafe}}

	result, err := orch.CheckCoverage(ops, CheckOpts{
		TestsDir:        filepath.Join(t.TempDir(), "does-not-exist"),
		EnforcementOpts: Opts{Level: LevelStrict},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.CoveragePercentage != 0 {
		t.Errorf("coverage = %d, want 0 with no tests directory", result.CoveragePercentage)
	}
	if !result.ShouldBlock {
		t.Error("expected strict policy to block with zero coverage")
	}
}

func TestCheckCoverageGeneratesTemplatesForGaps(t *testing.T) {
	root := t.TempDir()
	orch := NewOrchestrator(scanner.New(), New(), template.New())
	ops := domain.OperationBatch{{SQL: "CREATE TABLE public.widgets(id uuid);", Type: domain.OperationSafe}}

	result, err := orch.CheckCoverage(ops, CheckOpts{
		TestsDir:          root,
		EnforcementOpts:   Opts{Level: LevelStrict},
		GenerateTemplates: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Templates) == 0 {
		t.Error("expected a generated template for the uncovered table requirement")
	}
}

func TestCheckCoverageFullyCoveredPasses(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "widgets_test.sql"), []byte(`SELECT has_table('public', 'widgets');`), 0o644); err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(scanner.New(), New(), template.New())
	ops := domain.OperationBatch{{SQL: "CREATE TABLE public.widgets(id uuid);", Type: domain.OperationSafe}}

	result, err := orch.CheckCoverage(ops, CheckOpts{
		TestsDir:        root,
		EnforcementOpts: Opts{Level: LevelStrict},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Errorf("expected pass, got %+v", result)
	}
}
