// Package scanner implements pgTAPTestScanner (spec §4.5): it turns a
// directory of pgTAP test files into a CoverageDatabase.
//
// Grounded on internal/checks/parser*.go's catalog-plus-dispatch shape, but
// generalized per the redesign note that favors a small hand-written call
// parser and a kind registry over one regex per assertion kind — that
// source's per-tool regexes can't express pgTAP's "schema is an optional
// leading argument" ambiguity without duplicating the same heuristic forty
// times.
package scanner

import "time"

// Category buckets an assertion target into one of the seven coverage
// object kinds.
type Category string

const (
	CategorySchema   Category = "schemas"
	CategoryTable    Category = "tables"
	CategoryColumn   Category = "columns"
	CategoryFunction Category = "functions"
	CategoryPolicy   Category = "policies"
	CategoryIndex    Category = "indexes"
	CategoryTrigger  Category = "triggers"
)

// Assertion is one matched pgTAP call.
type Assertion struct {
	Kind        string
	Target      string
	Parameters  []string
	LineNumber  int
	RawSQL      string
	Schema      string
	TableName   string
	Description string

	FunctionMetadata map[string]string
	PolicyMetadata   map[string]string
}

// TestFile is one scanned .sql file.
type TestFile struct {
	Path         string
	Name         string
	Assertions   []Assertion
	PlanCount    *int
	Dependencies []string
	Metadata     map[string]interface{}
}

// CoverageEntry is one object's accumulated coverage.
type CoverageEntry struct {
	Assertions     []Assertion
	AssertionTypes map[string]struct{}
	TestFiles      map[string]struct{}
	Metadata       map[string]interface{}
	LastTested     time.Time
}

func newEntry() *CoverageEntry {
	return &CoverageEntry{
		AssertionTypes: map[string]struct{}{},
		TestFiles:      map[string]struct{}{},
		Metadata:       map[string]interface{}{},
	}
}

// AssertionCounts summarizes the database's total assertion volume.
type AssertionCounts struct {
	Total    int
	ByType   map[string]int
	ByObject map[string]int
}

// Gaps records targets never covered or only partially covered. The scanner
// fills Partial (see computePartial) with targets whose distinct assertion
// kinds fall below their category's threshold. It never fills Uncovered,
// since every target it indexes was by definition assigned at least one
// assertion (spec §3: "impossible on this path").
type Gaps struct {
	Uncovered map[string]struct{}
	Partial   map[string]struct{}
}

// CoverageDatabase is the scanner's output: a snapshot of what is asserted
// about the SQL tree, indexed by object category and normalized key.
type CoverageDatabase struct {
	Schemas   map[string]*CoverageEntry
	Tables    map[string]*CoverageEntry
	Columns   map[string]*CoverageEntry
	Functions map[string]*CoverageEntry
	Policies  map[string]*CoverageEntry
	Indexes   map[string]*CoverageEntry
	Triggers  map[string]*CoverageEntry

	AssertionCounts AssertionCounts
	Gaps            Gaps
	FileIndex       map[string]*TestFile
}

func newDatabase() *CoverageDatabase {
	return &CoverageDatabase{
		Schemas:   map[string]*CoverageEntry{},
		Tables:    map[string]*CoverageEntry{},
		Columns:   map[string]*CoverageEntry{},
		Functions: map[string]*CoverageEntry{},
		Policies:  map[string]*CoverageEntry{},
		Indexes:   map[string]*CoverageEntry{},
		Triggers:  map[string]*CoverageEntry{},
		AssertionCounts: AssertionCounts{
			ByType:   map[string]int{},
			ByObject: map[string]int{},
		},
		Gaps: Gaps{
			Uncovered: map[string]struct{}{},
			Partial:   map[string]struct{}{},
		},
		FileIndex: map[string]*TestFile{},
	}
}

// Empty returns a CoverageDatabase with no entries, for callers that need a
// well-formed zero-coverage result without scanning a directory (e.g. a
// missing tests directory downgrading to "no coverage" rather than erroring).
func Empty() *CoverageDatabase { return newDatabase() }

// byCategory returns the map for a category, or nil if the category is
// unknown (callers skip the assertion in that case).
func (db *CoverageDatabase) byCategory(c Category) map[string]*CoverageEntry {
	switch c {
	case CategorySchema:
		return db.Schemas
	case CategoryTable:
		return db.Tables
	case CategoryColumn:
		return db.Columns
	case CategoryFunction:
		return db.Functions
	case CategoryPolicy:
		return db.Policies
	case CategoryIndex:
		return db.Indexes
	case CategoryTrigger:
		return db.Triggers
	default:
		return nil
	}
}

// entryFor fetches or creates the entry for key within category c.
func (db *CoverageDatabase) entryFor(c Category, key string) *CoverageEntry {
	m := db.byCategory(c)
	if m == nil {
		return nil
	}
	e, ok := m[key]
	if !ok {
		e = newEntry()
		m[key] = e
	}
	return e
}
