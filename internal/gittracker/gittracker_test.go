package gittracker

import (
	"context"
	"strings"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/childproc"
)

// fakeRunner scripts responses by joined "git <args>" command string prefix.
type fakeRunner struct {
	responses map[string]childproc.Result
	errors    map[string]error
	calls     []string
}

func (f *fakeRunner) Execute(ctx context.Context, command string, args []string, opts childproc.Opts) (childproc.Result, error) {
	key := command + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	for prefix, res := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return res, f.errors[prefix]
		}
	}
	return childproc.Result{}, nil
}

func newFake() *fakeRunner {
	return &fakeRunner{responses: map[string]childproc.Result{}, errors: map[string]error{}}
}

func TestIsWorkingTreeCleanTrue(t *testing.T) {
	f := newFake()
	f.responses["git status --porcelain"] = childproc.Result{Stdout: ""}
	tr := New(f, "/repo", "supabase/sql")
	clean, err := tr.IsWorkingTreeClean(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Error("expected clean tree")
	}
}

func TestGetWorkingTreeStatusBuckets(t *testing.T) {
	f := newFake()
	f.responses["git status --porcelain"] = childproc.Result{Stdout: " M modified.sql\nA  staged.sql\n D deleted.sql\n?? untracked.sql\n"}
	tr := New(f, "/repo", "sql")
	st, err := tr.GetWorkingTreeStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Modified) != 1 || st.Modified[0] != "modified.sql" {
		t.Errorf("modified = %v", st.Modified)
	}
	if len(st.Staged) != 1 || st.Staged[0] != "staged.sql" {
		t.Errorf("staged = %v", st.Staged)
	}
	if len(st.Deleted) != 1 || st.Deleted[0] != "deleted.sql" {
		t.Errorf("deleted = %v", st.Deleted)
	}
	if len(st.Untracked) != 1 || st.Untracked[0] != "untracked.sql" {
		t.Errorf("untracked = %v", st.Untracked)
	}
	if st.Clean() {
		t.Error("expected dirty tree")
	}
}

func TestValidateDeploymentReadinessWrongBranch(t *testing.T) {
	f := newFake()
	f.responses["git status --porcelain"] = childproc.Result{Stdout: ""}
	f.responses["git rev-parse --abbrev-ref HEAD"] = childproc.Result{Stdout: "feature/x"}
	tr := New(f, "/repo", "sql")
	r, err := tr.ValidateDeploymentReadiness(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid {
		t.Error("expected invalid readiness on non-main branch")
	}
	if len(r.Errors) != 1 {
		t.Errorf("errors = %v", r.Errors)
	}
}

func TestValidateDeploymentReadinessDiverged(t *testing.T) {
	f := newFake()
	f.responses["git status --porcelain"] = childproc.Result{Stdout: ""}
	f.responses["git rev-parse --abbrev-ref HEAD"] = childproc.Result{Stdout: "main"}
	f.responses["git fetch origin main"] = childproc.Result{Stdout: ""}
	f.responses["git rev-list --left-right --count origin/main...HEAD"] = childproc.Result{Stdout: "3\t2\n"}
	tr := New(f, "/repo", "sql")
	r, err := tr.ValidateDeploymentReadiness(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid {
		t.Error("expected invalid readiness when diverged")
	}
	found := false
	for _, e := range r.Errors {
		if strings.Contains(e, "diverged") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected diverged error, got %v", r.Errors)
	}
}

func TestCreateDeploymentTagDoesNotDoublePrefix(t *testing.T) {
	f := newFake()
	f.responses["git tag -a"] = childproc.Result{}
	tr := New(f, "/repo", "sql")

	full, err := tr.CreateDeploymentTag(context.Background(), "data-deploy-foo", map[string]interface{}{"migrationId": "123"})
	if err != nil {
		t.Fatal(err)
	}
	if full != "data-deploy-foo" {
		t.Errorf("full = %q, want no doubled prefix", full)
	}

	full2, err := tr.CreateDeploymentTag(context.Background(), "foo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if full2 != "data-deploy-foo" {
		t.Errorf("full2 = %q", full2)
	}
}

func TestGetSQLAtCommitSkipsMissingFiles(t *testing.T) {
	f := newFake()
	f.responses["git ls-tree -r --name-only abc123 -- sql"] = childproc.Result{Stdout: "sql/001_tables/a.sql\nsql/001_tables/b.sql\n"}
	f.responses["git show abc123:sql/001_tables/a.sql"] = childproc.Result{Stdout: "CREATE TABLE a();"}
	f.responses["git show abc123:sql/001_tables/b.sql"] = childproc.Result{}
	f.errors["git show abc123:sql/001_tables/b.sql"] = &Error{Op: "show", Stderr: "fatal: path does not exist"}

	tr := New(f, "/repo", "sql")
	out, err := tr.GetSQLAtCommit(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-- File: sql/001_tables/a.sql") {
		t.Errorf("missing banner for a.sql: %q", out)
	}
	if strings.Contains(out, "b.sql") {
		t.Errorf("b.sql should have been skipped: %q", out)
	}
}

func TestIsStageDir(t *testing.T) {
	cases := map[string]bool{
		"001_tables":  true,
		"012_views":   true,
		"tables":      false,
		"1_tables":    false,
		"001tables":   false,
	}
	for name, want := range cases {
		if got := IsStageDir(name); got != want {
			t.Errorf("IsStageDir(%q) = %v, want %v", name, got, want)
		}
	}
}
