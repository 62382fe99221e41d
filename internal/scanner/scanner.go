package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/flyingrobots/data-deploy/internal/events"
)

// Opts configures a scan.
type Opts struct {
	MaxDepth          int      // default 10
	Include           []string // glob patterns, "**" matches across separators
	Exclude           []string
	FollowSymlinks    bool
	IncludeCommented  bool
	ValidatePlans     bool
	HeapCeilingMB     int // default 512
	MaxObjectsPerType int // default 10000
	BatchSize         int // default 100
}

func (o Opts) withDefaults() Opts {
	if o.MaxDepth == 0 {
		o.MaxDepth = 10
	}
	if o.HeapCeilingMB == 0 {
		o.HeapCeilingMB = 512
	}
	if o.MaxObjectsPerType == 0 {
		o.MaxObjectsPerType = 10000
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	return o
}

// minAssertionKinds is the per-category threshold below which a target is
// "partial" rather than fully covered (spec §4.5 "falls below a
// type-specific minimum threshold").
var minAssertionKinds = map[Category]int{
	CategorySchema:   1,
	CategoryTable:    1,
	CategoryColumn:   1,
	CategoryFunction: 1,
	CategoryPolicy:   2, // two distinct policy_* kinds; is_rls_enabled counts under tables
	CategoryIndex:    1,
	CategoryTrigger:  1,
}

// Scanner builds a CoverageDatabase from a directory of pgTAP test files.
type Scanner struct {
	sink events.Sink
}

// New creates a Scanner.
func New() *Scanner { return &Scanner{sink: events.Discard} }

// SetSink configures the progress/warning event sink.
func (s *Scanner) SetSink(sink events.Sink) { s.sink = sink }

// Scan walks root and returns the assembled CoverageDatabase.
func (s *Scanner) Scan(root string, opts Opts) (*CoverageDatabase, error) {
	opts = opts.withDefaults()
	s.sink.Emit(events.Event{Kind: events.KindStart, Message: "scanning test directory: " + root})

	files, err := s.discover(root, opts)
	if err != nil {
		return nil, err
	}

	db := newDatabase()
	droppedPerType := map[Category]int{}
	streaming := false

	for batchStart := 0; batchStart < len(files); batchStart += opts.BatchSize {
		end := batchStart + opts.BatchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[batchStart:end]

		if !streaming && overHeapCeiling(opts.HeapCeilingMB) {
			streaming = true
			s.sink.Emit(events.Event{Kind: events.KindWarning, Message: "heap usage over 80% of ceiling; switching to streaming mode with per-type object caps"})
		}
		for _, path := range batch {
			tf, err := s.parseFile(root, path, opts)
			if err != nil {
				s.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("skipping %s: %v", path, err)})
				continue
			}
			db.FileIndex[tf.Path] = tf
			for _, a := range tf.Assertions {
				entry, cat, key := db.classify(a)
				if entry == nil {
					continue
				}
				if streaming && len(db.byCategory(cat)) >= opts.MaxObjectsPerType {
					if _, exists := db.byCategory(cat)[key]; !exists {
						droppedPerType[cat]++
						continue
					}
				}
				entry.Assertions = append(entry.Assertions, a)
				entry.AssertionTypes[a.Kind] = struct{}{}
				entry.TestFiles[tf.Path] = struct{}{}
				entry.LastTested = lastTestedStamp(entry.LastTested)
				db.AssertionCounts.Total++
				db.AssertionCounts.ByType[a.Kind]++
				db.AssertionCounts.ByObject[key]++
			}
		}
		s.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("scanned %d/%d files", end, len(files))})
	}

	for cat, n := range droppedPerType {
		s.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("dropped %d %s objects beyond maxObjectsPerType", n, cat)})
	}

	computePartial(db)

	s.sink.Emit(events.Event{Kind: events.KindComplete, Message: fmt.Sprintf("scan complete: %d assertions across %d files", db.AssertionCounts.Total, len(db.FileIndex))})
	return db, nil
}

// overHeapCeiling reports whether current heap usage is past 80% of
// ceilingMB, the trigger for switching from bounded to streaming mode.
func overHeapCeiling(ceilingMB int) bool {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	usedMB := int(m.HeapAlloc / (1024 * 1024))
	return usedMB > (ceilingMB*80)/100
}

// lastTestedStamp is a seam so tests can observe ordering without the
// scanner depending on wall-clock time for correctness — only recency
// ordering within a single scan matters, never absolute values.
func lastTestedStamp(prev time.Time) time.Time {
	if prev.IsZero() {
		return time.Unix(0, 1)
	}
	return time.Unix(0, prev.UnixNano()+1)
}

// classify buckets an assertion into its coverage category and normalized
// key (spec §3's CoverageDatabase key normalization: lowercase, null schema
// becomes public, "::" escaped).
func (db *CoverageDatabase) classify(a Assertion) (*CoverageEntry, Category, string) {
	entry, ok := catalog[a.Kind]
	if !ok {
		return nil, "", ""
	}
	key := normalizeKey(a.Target)
	return db.entryFor(entry.Category, key), entry.Category, key
}

func normalizeKey(target string) string {
	target = strings.ToLower(target)
	target = strings.ReplaceAll(target, "::", `\:\:`)
	if target == "" || strings.HasPrefix(target, ".") {
		target = "public" + target
	}
	return target
}

// computePartial marks, within each category, any entry whose distinct
// assertion-kind count falls below that category's minimum threshold.
func computePartial(db *CoverageDatabase) {
	for _, cat := range []Category{CategorySchema, CategoryTable, CategoryColumn, CategoryFunction, CategoryPolicy, CategoryIndex, CategoryTrigger} {
		threshold := minAssertionKinds[cat]
		for key, entry := range db.byCategory(cat) {
			if len(entry.AssertionTypes) < threshold {
				db.Gaps.Partial[key] = struct{}{}
			}
		}
	}
}

// discover walks root honoring maxDepth, include/exclude globs, hidden-file
// skipping, and symlink policy, returning .sql file paths relative to root
// in lexicographic order.
func (s *Scanner) discover(root string, opts Opts) ([]string, error) {
	includes := compileGlobs(opts.Include)
	excludes := compileGlobs(opts.Exclude)

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				s.sink.Emit(events.Event{Kind: events.KindWarning, Message: "permission denied: " + p})
				return nil
			}
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > opts.MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(p)
		if strings.HasPrefix(base, ".") && !matchesAny(includes, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			if _, statErr := os.Stat(p); statErr != nil {
				s.sink.Emit(events.Event{Kind: events.KindWarning, Message: "broken symlink: " + p})
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(base, ".sql") {
			return nil
		}
		if matchesAny(excludes, rel) {
			return nil
		}
		if len(includes) > 0 && !matchesAny(includes, rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func compileGlobs(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

func matchesAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// parseFile reads and parses one test file into a TestFile.
func (s *Scanner) parseFile(root, rel string, opts Opts) (*TestFile, error) {
	full := filepath.Join(root, rel)
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	sql := stripComments(string(raw), opts.IncludeCommented)
	assertions := parseAssertions(sql)

	tf := &TestFile{
		Path:       rel,
		Name:       filepath.Base(rel),
		Assertions: assertions,
		PlanCount:  parsePlanCount(sql),
		Metadata:   map[string]interface{}{},
	}
	if opts.ValidatePlans && tf.PlanCount != nil && *tf.PlanCount != len(assertions) {
		s.sink.Emit(events.Event{Kind: events.KindWarning, Message: fmt.Sprintf("%s: plan(%d) does not match %d assertions", rel, *tf.PlanCount, len(assertions))})
	}
	return tf, nil
}
