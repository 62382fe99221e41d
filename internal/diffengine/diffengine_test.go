package diffengine

import (
	"context"
	"strings"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/gittracker"
)

type fakeFetcher struct {
	diff string
	err  error
}

func (f *fakeFetcher) GetChangesBetweenCommits(ctx context.Context, from, to gittracker.GitRef) (*gittracker.ChangeSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gittracker.ChangeSet{From: from, To: to, Diff: f.diff}, nil
}

const sampleDiff = `diff --git a/sql/001_tables/users.sql b/sql/001_tables/users.sql
--- a/sql/001_tables/users.sql
+++ b/sql/001_tables/users.sql
@@ -1,3 +1,4 @@
 CREATE TABLE users (
   id uuid PRIMARY KEY,
+  email text
 );
diff --git a/sql/001_tables/new.sql b/sql/001_tables/new.sql
--- /dev/null
+++ b/sql/001_tables/new.sql
@@ -0,0 +1,2 @@
+CREATE TABLE new_thing (
+);
diff --git a/sql/001_tables/old.sql b/sql/001_tables/old.sql
--- a/sql/001_tables/old.sql
+++ /dev/null
@@ -1,2 +0,0 @@
-CREATE TABLE old_thing (
-);
`

func TestParseBucketsByChangeKind(t *testing.T) {
	r := Parse(sampleDiff)
	if len(r.Additions) != 1 || r.Additions[0].Path != "sql/001_tables/new.sql" {
		t.Errorf("additions = %+v", r.Additions)
	}
	if len(r.Deletions) != 1 || r.Deletions[0].Path != "sql/001_tables/old.sql" {
		t.Errorf("deletions = %+v", r.Deletions)
	}
	if len(r.Modifications) != 1 || r.Modifications[0].Path != "sql/001_tables/users.sql" {
		t.Errorf("modifications = %+v", r.Modifications)
	}
}

func TestParseEmptyDiff(t *testing.T) {
	r := Parse("")
	if len(r.Additions)+len(r.Deletions)+len(r.Modifications) != 0 {
		t.Error("expected empty result for empty diff")
	}
}

func TestRenderColumnRewriteHeuristic(t *testing.T) {
	r := Parse(sampleDiff)
	out := Render(r, Opts{IncludeDropStatements: true})
	if !strings.Contains(out, "ALTER TABLE users ADD COLUMN email text;") {
		t.Errorf("expected column-add rewrite, got:\n%s", out)
	}
}

func TestRenderDeletionsSuppressedWhenDropDisallowed(t *testing.T) {
	r := Parse(sampleDiff)
	out := Render(r, Opts{IncludeDropStatements: false})
	if strings.Contains(out, "DELETIONS") {
		t.Errorf("expected DELETIONS section suppressed, got:\n%s", out)
	}
	if strings.Contains(out, "old_thing") {
		t.Errorf("expected deleted content omitted, got:\n%s", out)
	}
}

func TestRenderDeletionsIncludeWarning(t *testing.T) {
	r := Parse(sampleDiff)
	out := Render(r, Opts{IncludeDropStatements: true})
	if !strings.Contains(out, "WARNING: manual review required for DROP") {
		t.Errorf("expected DROP warning, got:\n%s", out)
	}
	if strings.Contains(out, "DROP TABLE") {
		t.Errorf("deletions must never be rewritten into an executable DROP, got:\n%s", out)
	}
}

func TestEngineDiffWrapsFetchError(t *testing.T) {
	e := New(&fakeFetcher{err: context.DeadlineExceeded})
	_, err := e.Diff(context.Background(), "a", "b")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEngineDiffHappyPath(t *testing.T) {
	e := New(&fakeFetcher{diff: sampleDiff})
	r, err := e.Diff(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Additions) != 1 {
		t.Errorf("additions = %+v", r.Additions)
	}
}
