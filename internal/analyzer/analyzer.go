// Package analyzer supplies the default implementation of the orchestrator's
// operations analyzer — spec §4.10's analysis phase treats this as "an
// external port"; this package is the one concrete adapter the orchestrator
// ships with; operators may substitute their own Analyzer.
//
// It diffs the previous and current SQL trees statement-by-statement with
// github.com/pmezard/go-difflib's sequence matcher (mirroring the stripped
// unified-diff shape diffengine renders, but operating on parsed statements
// rather than source lines), then classifies each newly-introduced statement
// into a domain.MigrationOperation using the same decision-table style
// internal/requirements uses to derive test requirements.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

// Analyzer turns a pair of SQL snapshots into the operation batch the
// orchestrator executes. Current is the tree as it exists on disk; Previous
// is the SQL at the last deployment tag (empty if there has never been one).
type Analyzer interface {
	Analyze(previous, current string) (domain.OperationBatch, error)
}

// DiffAnalyzer is the default Analyzer.
type DiffAnalyzer struct{}

// New creates a DiffAnalyzer.
func New() *DiffAnalyzer { return &DiffAnalyzer{} }

// Analyze returns one MigrationOperation per statement present in current
// but not in previous, in the order it appears in current.
func (DiffAnalyzer) Analyze(previous, current string) (domain.OperationBatch, error) {
	prevStmts := splitStatements(previous)
	curStmts := splitStatements(current)

	matcher := difflib.NewMatcher(prevStmts, curStmts)
	var batch domain.OperationBatch
	for _, op := range matcher.GetOpCodes() {
		if op.Tag != 'i' && op.Tag != 'r' {
			continue
		}
		for _, stmt := range curStmts[op.J1:op.J2] {
			batch = append(batch, classify(stmt))
		}
	}
	return batch, nil
}

// splitStatements breaks sql into top-level statements on ';', respecting
// single-quoted strings and dollar-quoted function bodies so a semicolon
// inside a CREATE FUNCTION body doesn't fragment the statement.
func splitStatements(sql string) []string {
	var stmts []string
	var buf strings.Builder
	inQuote := false
	dollarTag := ""

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			stmts = append(stmts, s)
		}
		buf.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if dollarTag != "" {
			buf.WriteByte(c)
			if strings.HasPrefix(sql[i:], dollarTag) {
				buf.WriteString(dollarTag[1:])
				i += len(dollarTag) - 1
				dollarTag = ""
			}
			continue
		}
		if inQuote {
			buf.WriteByte(c)
			if c == '\'' {
				inQuote = false
			}
			continue
		}
		if c == '\'' {
			inQuote = true
			buf.WriteByte(c)
			continue
		}
		if c == '$' {
			if tag, ok := matchDollarTag(sql[i:]); ok {
				dollarTag = tag
				buf.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		}
		if c == ';' {
			flush()
			continue
		}
		buf.WriteByte(c)
	}
	flush()
	return stmts
}

var dollarTagRe = regexp.MustCompile(`^\$[A-Za-z_]*\$`)

func matchDollarTag(s string) (string, bool) {
	m := dollarTagRe.FindString(s)
	if m == "" {
		return "", false
	}
	return m, true
}

// --- classification ---

type rule struct {
	re   *regexp.Regexp
	kind domain.OperationKind
	desc string
	warn string
}

var rules = []rule{
	{regexp.MustCompile(`(?is)^\s*drop\s+table`), domain.OperationDestructive, "drop table", "irreversible: drops a table and all its data"},
	{regexp.MustCompile(`(?is)^\s*alter\s+table\s+\S+\s+drop\s+column`), domain.OperationDestructive, "drop column", "irreversible: drops a column and its data"},
	{regexp.MustCompile(`(?is)^\s*truncate\b`), domain.OperationDestructive, "truncate table", "irreversible: removes all rows"},
	{regexp.MustCompile(`(?is)^\s*delete\s+from\s+\S+\s*;?\s*$`), domain.OperationDestructive, "unconditional delete", "deletes all rows from a table with no WHERE clause"},
	{regexp.MustCompile(`(?is)^\s*alter\s+table\s+\S+\s+rename`), domain.OperationWarning, "rename table or column", "renames may break code that still references the old name"},
	{regexp.MustCompile(`(?is)^\s*create\s+policy\b`), domain.OperationWarning, "create row-level security policy", "incorrect policies can silently hide or leak rows"},
	{regexp.MustCompile(`(?is)enable\s+row\s+level\s+security`), domain.OperationWarning, "enable row level security", "existing queries may start returning zero rows until policies are added"},
	{regexp.MustCompile(`(?is)^\s*create\s+(unique\s+)?index\s+(?:if\s+not\s+exists\s+)?\S+\s+on\b`), domain.OperationWarning, "create index", "without CONCURRENTLY this locks the table for writes"},
	{regexp.MustCompile(`(?is)^\s*create\s+(unique\s+)?index\s+concurrently`), domain.OperationSafe, "create index concurrently", ""},
	{regexp.MustCompile(`(?is)^\s*alter\s+table\s+\S+\s+alter\s+column\s+\S+\s+type`), domain.OperationWarning, "change column type", "a type change can rewrite the table and fail if existing data doesn't cast cleanly"},
	{regexp.MustCompile(`(?is)security\s+definer`), domain.OperationWarning, "security definer function", "runs with the privileges of the function owner; review for privilege escalation"},
	{regexp.MustCompile(`(?is)^\s*create\s+(or\s+replace\s+)?function\b`), domain.OperationSafe, "create function", ""},
	{regexp.MustCompile(`(?is)^\s*create\s+trigger\b`), domain.OperationWarning, "create trigger", "triggers run implicitly on every matching write; review side effects"},
	{regexp.MustCompile(`(?is)^\s*create\s+table\b`), domain.OperationSafe, "create table", ""},
	{regexp.MustCompile(`(?is)^\s*alter\s+table\s+\S+\s+add\s+column`), domain.OperationSafe, "add column", ""},
	{regexp.MustCompile(`(?is)^\s*alter\s+table\s+\S+\s+add\s+constraint\b.*\bcheck\b`), domain.OperationWarning, "add check constraint", "validates existing rows; fails the migration if any row violates it"},
}

// classify assigns a MigrationOperation's type and description by matching
// stmt against rules in order; the first match wins. Unrecognized statements
// default to WARNING — an unknown statement shape is never silently treated
// as safe.
func classify(stmt string) domain.MigrationOperation {
	for _, r := range rules {
		if r.re.MatchString(stmt) {
			return domain.MigrationOperation{
				SQL:                  stmt + ";",
				Type:                 r.kind,
				Description:          r.desc,
				Warning:              r.warn,
				RequiresConfirmation: r.kind == domain.OperationDestructive,
			}
		}
	}
	return domain.MigrationOperation{
		SQL:                  stmt + ";",
		Type:                 domain.OperationWarning,
		Description:          "unrecognized statement",
		Warning:              "could not classify this statement's blast radius; review before deploying",
		RequiresConfirmation: false,
	}
}
