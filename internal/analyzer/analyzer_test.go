package analyzer

import (
	"testing"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

func TestAnalyzeNewCreateTableIsSafe(t *testing.T) {
	a := New()
	batch, err := a.Analyze("", "CREATE TABLE users(id int primary key, email text);")
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(batch))
	}
	if batch[0].Type != domain.OperationSafe {
		t.Errorf("type = %v, want SAFE", batch[0].Type)
	}
}

func TestAnalyzeRLSAndPolicyAreWarning(t *testing.T) {
	a := New()
	current := `CREATE TABLE users(id int primary key);
ALTER TABLE users ENABLE ROW LEVEL SECURITY;
CREATE POLICY users_select_own ON users FOR SELECT USING (auth.uid()=id);`
	batch, err := a.Analyze("", current)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(batch))
	}
	if batch[0].Type != domain.OperationSafe {
		t.Errorf("create table = %v, want SAFE", batch[0].Type)
	}
	if batch[1].Type != domain.OperationWarning || batch[2].Type != domain.OperationWarning {
		t.Errorf("rls/policy = %v, %v, want WARNING/WARNING", batch[1].Type, batch[2].Type)
	}
}

func TestAnalyzeOnlyNewStatementsAppear(t *testing.T) {
	a := New()
	previous := "CREATE TABLE users(id int primary key);"
	current := "CREATE TABLE users(id int primary key);\nCREATE TABLE orders(id int primary key);"
	batch, err := a.Analyze(previous, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 new operation, got %d", len(batch))
	}
	if batch[0].Description != "create table" {
		t.Errorf("description = %q", batch[0].Description)
	}
}

func TestAnalyzeNoChangesYieldsEmptyBatch(t *testing.T) {
	a := New()
	sql := "CREATE TABLE users(id int primary key);"
	batch, err := a.Analyze(sql, sql)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %d", len(batch))
	}
}

func TestAnalyzeDropTableIsDestructiveAndRequiresConfirmation(t *testing.T) {
	a := New()
	batch, err := a.Analyze("", "DROP TABLE users;")
	if err != nil {
		t.Fatal(err)
	}
	if batch[0].Type != domain.OperationDestructive || !batch[0].RequiresConfirmation {
		t.Errorf("batch[0] = %+v", batch[0])
	}
}

func TestAnalyzeFunctionBodySemicolonsDoNotFragmentStatement(t *testing.T) {
	a := New()
	current := `CREATE OR REPLACE FUNCTION add_one(n int) RETURNS int AS $$
BEGIN
  RETURN n + 1;
END;
$$ LANGUAGE plpgsql;`
	batch, err := a.Analyze("", current)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 operation, got %d: %+v", len(batch), batch)
	}
	if batch[0].Type != domain.OperationSafe {
		t.Errorf("type = %v, want SAFE", batch[0].Type)
	}
}

func TestAnalyzeUnrecognizedStatementDefaultsToWarning(t *testing.T) {
	a := New()
	batch, err := a.Analyze("", "VACUUM ANALYZE users;")
	if err != nil {
		t.Fatal(err)
	}
	if batch[0].Type != domain.OperationWarning {
		t.Errorf("type = %v, want WARNING for unrecognized statement", batch[0].Type)
	}
}
