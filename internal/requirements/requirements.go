// Package requirements implements TestRequirementAnalyzer (spec §4.6): it
// derives test requirements from a batch of migration operations.
//
// Grounded on internal/stage/engine.go's findStageConfig-style decision
// table — a small ordered set of pattern checks against one input, each
// producing a typed result, rather than a generic rule engine.
package requirements

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

// maxOperationSQLLen is the upstream-sloppiness guard: an operation whose
// SQL exceeds this is rejected rather than silently skipped (spec §4.6:
// "non-negotiable").
const maxOperationSQLLen = 100_000

// Error is returned when an operation fails the analyzer's precondition.
type Error struct {
	Index int
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation[%d].%s: %s", e.Index, e.Field, e.Msg)
}

var (
	createTableRe   = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z0-9_."]+)`)
	addColumnRe     = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+([a-zA-Z0-9_."]+)\s+ADD\s+COLUMN\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z0-9_"]+)`)
	createFunctionRe = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:OR\s+REPLACE\s+)?FUNCTION\s+([a-zA-Z0-9_."]+)`)
	securityDefRe   = regexp.MustCompile(`(?is)SECURITY\s+DEFINER`)
	createIndexRe   = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:CONCURRENTLY\s+)?(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z0-9_"]+)`)
	createPolicyRe  = regexp.MustCompile(`(?is)^\s*CREATE\s+POLICY\s+[a-zA-Z0-9_"]+\s+ON\s+([a-zA-Z0-9_."]+)`)
	enableRLSRe     = regexp.MustCompile(`(?is)ALTER\s+TABLE\s+([a-zA-Z0-9_."]+)\s+ENABLE\s+ROW\s+LEVEL\s+SECURITY`)
	createTriggerRe = regexp.MustCompile(`(?is)^\s*CREATE\s+TRIGGER\s+([a-zA-Z0-9_"]+)`)
	checkConstraintRe = regexp.MustCompile(`(?is)CHECK\s*\(`)
)

// Analyze derives requirements from batch, failing fast on malformed input.
func Analyze(batch domain.OperationBatch) ([]domain.TestRequirement, domain.RequirementSummary, error) {
	var reqs []domain.TestRequirement
	var summary domain.RequirementSummary

	for i, op := range batch {
		if strings.TrimSpace(op.SQL) == "" {
			return nil, domain.RequirementSummary{}, &Error{Index: i, Field: "sql", Msg: "must not be empty"}
		}
		if len(op.SQL) > maxOperationSQLLen {
			return nil, domain.RequirementSummary{}, &Error{Index: i, Field: "sql", Msg: fmt.Sprintf("exceeds %d characters", maxOperationSQLLen)}
		}

		for _, r := range deriveFor(op) {
			reqs = append(reqs, r)
			tally(&summary, r.Priority)
		}
	}
	return reqs, summary, nil
}

func tally(s *domain.RequirementSummary, p domain.Priority) {
	switch p {
	case domain.PriorityCritical:
		s.CriticalCount++
	case domain.PriorityHigh:
		s.HighCount++
	case domain.PriorityMedium:
		s.MediumCount++
	default:
		s.LowCount++
	}
}

// deriveFor applies the derivation policy (spec §4.6) to a single operation.
// Order matters only for readability — operations match at most one of the
// primary shapes, but a SECURITY DEFINER function always yields two
// requirements, and a DESTRUCTIVE tag always upgrades whatever priority the
// shape match produced.
func deriveFor(op domain.MigrationOperation) []domain.TestRequirement {
	var out []domain.TestRequirement

	switch {
	case createTableRe.MatchString(op.SQL):
		name := identifier(createTableRe.FindStringSubmatch(op.SQL)[1])
		out = append(out, domain.TestRequirement{Type: domain.RequirementTable, Name: name, Priority: domain.PriorityCritical})

	case addColumnRe.MatchString(op.SQL):
		m := addColumnRe.FindStringSubmatch(op.SQL)
		table, col := identifier(m[1]), identifier(m[2])
		out = append(out, domain.TestRequirement{Type: domain.RequirementColumn, Name: table + "." + col, Priority: domain.PriorityHigh})

	case createFunctionRe.MatchString(op.SQL):
		name := identifier(createFunctionRe.FindStringSubmatch(op.SQL)[1])
		priority := domain.PriorityHigh
		if securityDefRe.MatchString(op.SQL) {
			priority = domain.PriorityCritical
			out = append(out, domain.TestRequirement{
				Type: domain.RequirementFunction, Name: name + ".privileges", Priority: domain.PriorityCritical,
				Metadata: map[string]interface{}{"reason": "SECURITY DEFINER requires a privilege-escalation check"},
			})
		}
		out = append(out, domain.TestRequirement{Type: domain.RequirementFunction, Name: name, Priority: priority})

	case createIndexRe.MatchString(op.SQL):
		name := identifier(createIndexRe.FindStringSubmatch(op.SQL)[1])
		out = append(out, domain.TestRequirement{Type: domain.RequirementIndex, Name: name, Priority: domain.PriorityMedium})

	case createPolicyRe.MatchString(op.SQL):
		name := identifier(createPolicyRe.FindStringSubmatch(op.SQL)[1])
		out = append(out, domain.TestRequirement{Type: domain.RequirementRLS, Name: name, Priority: domain.PriorityCritical})

	case enableRLSRe.MatchString(op.SQL):
		name := identifier(enableRLSRe.FindStringSubmatch(op.SQL)[1])
		out = append(out, domain.TestRequirement{Type: domain.RequirementRLS, Name: name, Priority: domain.PriorityCritical})

	case createTriggerRe.MatchString(op.SQL):
		name := identifier(createTriggerRe.FindStringSubmatch(op.SQL)[1])
		out = append(out, domain.TestRequirement{Type: domain.RequirementTrigger, Name: name, Priority: domain.PriorityHigh})

	case checkConstraintRe.MatchString(op.SQL):
		out = append(out, domain.TestRequirement{Type: domain.RequirementConstraint, Name: "", Priority: domain.PriorityMedium})
	}

	if op.Type == domain.OperationDestructive {
		for i := range out {
			out[i].Priority = domain.PriorityCritical
		}
	}
	return out
}

func identifier(s string) string {
	return strings.ToLower(strings.Trim(s, `"`))
}
