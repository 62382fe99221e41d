package compiler

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"001_a/x.sql": "CREATE TABLE x();",
		"001_a/y.sql": "CREATE TABLE y();",
		"002_b/z.sql": "CREATE TABLE z();",
	})
	out1 := t.TempDir()
	out2 := t.TempDir()

	c := New()
	r1, err := c.Compile(Opts{SQLDir: root, OutputDir: out1, Timestamp: "20260101000000"})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Compile(Opts{SQLDir: root, OutputDir: out2, Timestamp: "20260101000000"})
	if err != nil {
		t.Fatal(err)
	}

	b1, _ := os.ReadFile(r1.OutputPath)
	b2, _ := os.ReadFile(r2.OutputPath)

	if string(b1) != string(b2) {
		t.Errorf("compiled output not deterministic:\n--- 1 ---\n%s\n--- 2 ---\n%s", string(b1), string(b2))
	}
	if r1.FilesProcessed != 3 {
		t.Errorf("filesProcessed = %d, want 3", r1.FilesProcessed)
	}
}

func TestCompileDirectoryOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"002_b/z.sql": "-- z",
		"001_a/y.sql": "-- y",
		"001_a/x.sql": "-- x",
	})
	out := t.TempDir()
	c := New()
	r, err := c.Compile(Opts{SQLDir: root, OutputDir: out, Timestamp: "20260101000000"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(r.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	idxA := indexOf(content, "001_a")
	idxB := indexOf(content, "002_b")
	idxX := indexOf(content, "x.sql")
	idxY := indexOf(content, "y.sql")
	if !(idxA < idxB) {
		t.Errorf("expected 001_a before 002_b")
	}
	if !(idxX < idxY) {
		t.Errorf("expected x.sql before y.sql within 001_a")
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestCompileFallsBackWhenNoStageDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"flat.sql": "CREATE TABLE flat();",
	})
	out := t.TempDir()
	c := New()
	r, err := c.Compile(Opts{SQLDir: root, OutputDir: out, Timestamp: "20260101000000"})
	if err != nil {
		t.Fatal(err)
	}
	if !r.FellBackToRoot {
		t.Error("expected fallback to root compilation")
	}
	if r.FilesProcessed != 1 {
		t.Errorf("filesProcessed = %d, want 1", r.FilesProcessed)
	}
}

func TestCompileEmptyTreeWarnsAndEmitsHeaderFooter(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	c := New()
	r, err := c.Compile(Opts{SQLDir: root, OutputDir: out, Timestamp: "20260101000000"})
	if err != nil {
		t.Fatal(err)
	}
	if r.FilesProcessed != 0 {
		t.Errorf("filesProcessed = %d, want 0", r.FilesProcessed)
	}
	data, _ := os.ReadFile(r.OutputPath)
	if len(data) == 0 {
		t.Error("expected header+footer even for empty tree")
	}
}
