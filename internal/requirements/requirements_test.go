package requirements

import (
	"strings"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

func TestAnalyzeCreateTable(t *testing.T) {
	batch := domain.OperationBatch{
		{SQL: "CREATE TABLE public.widgets (id uuid PRIMARY KEY);", Type: domain.OperationSafe},
	}
	reqs, summary, err := Analyze(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Type != domain.RequirementTable || reqs[0].Priority != domain.PriorityCritical {
		t.Errorf("reqs = %+v", reqs)
	}
	if summary.CriticalCount != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAnalyzeAddColumn(t *testing.T) {
	batch := domain.OperationBatch{
		{SQL: "ALTER TABLE widgets ADD COLUMN price numeric;", Type: domain.OperationSafe},
	}
	reqs, _, err := Analyze(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Name != "widgets.price" {
		t.Errorf("reqs = %+v", reqs)
	}
}

func TestAnalyzeSecurityDefinerFunctionYieldsTwoRequirements(t *testing.T) {
	batch := domain.OperationBatch{
		{SQL: "CREATE FUNCTION do_thing() RETURNS void AS $$ $$ LANGUAGE plpgsql SECURITY DEFINER;", Type: domain.OperationSafe},
	}
	reqs, summary, err := Analyze(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements for SECURITY DEFINER function, got %+v", reqs)
	}
	if summary.CriticalCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAnalyzeDestructiveUpgradesToCritical(t *testing.T) {
	batch := domain.OperationBatch{
		{SQL: "CREATE INDEX idx_widgets_price ON widgets(price);", Type: domain.OperationDestructive},
	}
	reqs, summary, err := Analyze(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Priority != domain.PriorityCritical {
		t.Errorf("expected destructive-tagged operation upgraded to critical, got %+v", reqs)
	}
	if summary.CriticalCount != 1 || summary.MediumCount != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAnalyzeRLSFromEnableStatement(t *testing.T) {
	batch := domain.OperationBatch{
		{SQL: "ALTER TABLE widgets ENABLE ROW LEVEL SECURITY;", Type: domain.OperationWarning},
	}
	reqs, _, err := Analyze(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Type != domain.RequirementRLS || reqs[0].Name != "widgets" {
		t.Errorf("reqs = %+v", reqs)
	}
}

func TestAnalyzeRejectsEmptySQL(t *testing.T) {
	batch := domain.OperationBatch{{SQL: "   ", Type: domain.OperationSafe}}
	_, _, err := Analyze(batch)
	if err == nil {
		t.Fatal("expected error for empty sql")
	}
}

func TestAnalyzeRejectsOversizedSQL(t *testing.T) {
	batch := domain.OperationBatch{{SQL: strings.Repeat("a", maxOperationSQLLen+1), Type: domain.OperationSafe}}
	_, _, err := Analyze(batch)
	if err == nil {
		t.Fatal("expected error for oversized sql")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v", err)
	}
}
