// Package compiler implements MigrationCompiler (spec §4.3): it concatenates
// a numbered SQL source tree into a single timestamped artifact.
//
// Grounded on internal/pipeline/store.go's atomic-write conventions and the
// teacher's lifecycle-event emission style (progress events alongside the
// returned result, never in place of it).
package compiler

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flyingrobots/data-deploy/internal/events"
)

// Result summarizes a compile run.
type Result struct {
	OutputPath     string
	FilesProcessed int
	LinesWritten   int
	Directories    []string
	FellBackToRoot bool
}

// Compiler concatenates SQL from ordered stage directories into one artifact.
type Compiler struct {
	sink events.Sink
}

// New creates a Compiler.
func New() *Compiler { return &Compiler{sink: events.Discard} }

// SetSink configures the progress/warning event sink.
func (c *Compiler) SetSink(s events.Sink) { c.sink = s }

// Opts configures a single compile run.
type Opts struct {
	SQLDir    string
	OutputDir string
	// Timestamp is externalized so compilation is deterministic given
	// identical input — two runs with the same Timestamp produce byte-identical
	// artifacts (spec §8's "deterministic compilation" property).
	Timestamp string // format YYYYMMDDHHMMSS
}

var stageDirRe = stageDirPattern()

func stageDirPattern() *patternMatcher { return &patternMatcher{} }

// patternMatcher matches the stage-directory name convention ^\d{3}_.+
// without pulling in regexp for a three-character check.
type patternMatcher struct{}

func (patternMatcher) Match(name string) bool {
	if len(name) < 5 {
		return false
	}
	for i := 0; i < 3; i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return name[3] == '_'
}

// Compile concatenates the SQL source tree at opts.SQLDir into a single file
// under opts.OutputDir named <timestamp>_compiled.sql.
func (c *Compiler) Compile(opts Opts) (*Result, error) {
	c.sink.Emit(events.Event{Kind: events.KindStart, Message: "compiling migration"})

	entries, err := os.ReadDir(opts.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("read sql dir %s: %w", opts.SQLDir, err)
	}

	var stageDirs []string
	for _, e := range entries {
		if e.IsDir() && stageDirRe.Match(e.Name()) {
			stageDirs = append(stageDirs, e.Name())
		}
	}
	sort.Strings(stageDirs)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir output dir: %w", err)
	}
	outPath := filepath.Join(opts.OutputDir, opts.Timestamp+"_compiled.sql")

	var sb strings.Builder
	result := &Result{OutputPath: outPath}

	fmt.Fprintf(&sb, "-- Generated: %s\n-- Source: %s\n\n", opts.Timestamp, opts.SQLDir)

	if len(stageDirs) == 0 {
		c.sink.Emit(events.Event{Kind: events.KindWarning, Message: "no stage-numbered directories found; falling back to compiling SQL files directly under root"})
		result.FellBackToRoot = true
		files, err := sqlFilesIn(opts.SQLDir)
		if err != nil {
			return nil, err
		}
		c.writeFiles(&sb, opts.SQLDir, files, result)
	} else {
		for _, dir := range stageDirs {
			c.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("directory:start %s", dir)})
			dirPath := filepath.Join(opts.SQLDir, dir)
			files, err := sqlFilesIn(dirPath)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				c.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("directory:skip %s", dir)})
				continue
			}
			fmt.Fprintf(&sb, "-- Directory: %s\n\n", dir)
			c.writeFiles(&sb, dirPath, files, result)
			result.Directories = append(result.Directories, dir)
			c.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("directory:complete %s", dir)})
		}
	}

	// The footer is the final line, so it is counted before it is written.
	result.LinesWritten = strings.Count(sb.String(), "\n") + 1
	fmt.Fprintf(&sb, "-- Footer: filesProcessed=%d linesWritten=%d directories=%s\n",
		result.FilesProcessed, result.LinesWritten, strings.Join(result.Directories, ","))

	content := sb.String()
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write compiled artifact: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename compiled artifact: %w", err)
	}

	c.sink.Emit(events.Event{Kind: events.KindComplete, Message: "compile complete"})
	return result, nil
}

func (c *Compiler) writeFiles(sb *strings.Builder, dirPath string, files []string, result *Result) {
	for _, f := range files {
		c.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("file:process %s", f)})
		full := filepath.Join(dirPath, f)
		data, err := os.ReadFile(full)
		if err != nil {
			c.sink.Emit(events.Event{Kind: events.KindError, Message: fmt.Sprintf("file:error %s: %v", f, err)})
			continue
		}
		fmt.Fprintf(sb, "-- File: %s\n", full)
		sb.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
		result.FilesProcessed++
		c.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("file:complete %s", f)})
	}
}

// sqlFilesIn walks dirPath depth-first, returning *.sql files in
// lexicographic order, as paths relative to dirPath.
func sqlFilesIn(dirPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".sql") {
			rel, relErr := filepath.Rel(dirPath, p)
			if relErr != nil {
				return relErr
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dirPath, err)
	}
	sort.Strings(files)
	return files, nil
}
