// Package domain holds the shared value types that cross package
// boundaries between the migration analyzer, the test-coverage pipeline,
// and the orchestrator — kept dependency-free so none of those packages
// need to import each other just to share a struct.
package domain

// OperationKind classifies a MigrationOperation by blast radius.
type OperationKind string

const (
	OperationSafe        OperationKind = "SAFE"
	OperationWarning     OperationKind = "WARNING"
	OperationDestructive OperationKind = "DESTRUCTIVE"
)

// MigrationOperation is one statement-level unit of a migration. Its SQL is
// opaque to every downstream consumer — no package re-parses or rewrites it.
type MigrationOperation struct {
	SQL                  string
	Type                 OperationKind
	Description          string
	Warning              string
	RequiresConfirmation bool
}

// OperationBatch is an ordered sequence of operations; order is execution
// order.
type OperationBatch []MigrationOperation

// RequirementType enumerates the kinds of coverage a migration operation can
// demand.
type RequirementType string

const (
	RequirementRPC        RequirementType = "rpc"
	RequirementRLS        RequirementType = "rls"
	RequirementTrigger    RequirementType = "trigger"
	RequirementConstraint RequirementType = "constraint"
	RequirementFunction   RequirementType = "function"
	RequirementTable      RequirementType = "table"
	RequirementColumn     RequirementType = "column"
	RequirementIndex      RequirementType = "index"
)

// Priority ranks how severely an uncovered requirement should block
// deployment.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// TestRequirement is one coverage obligation derived from a migration
// operation.
type TestRequirement struct {
	Type     RequirementType
	Name     string
	Schema   string
	Priority Priority
	Metadata map[string]interface{}
}

// RequirementSummary tallies requirements by priority.
type RequirementSummary struct {
	CriticalCount int
	HighCount     int
	MediumCount   int
	LowCount      int
}

// CoverageGap is a requirement with no satisfying entry in the coverage
// database.
type CoverageGap struct {
	Requirement TestRequirement
	Reason      string
}

// EnforcementResult is the CoverageEnforcer's verdict.
type EnforcementResult struct {
	Passed             bool
	CoveragePercentage int
	Gaps               []CoverageGap
	Suggestions        []string
	ShouldBlock        bool
	BypassReason       string
	Templates          []string
}
