package checks

import "testing"

func TestParseTAPAllPassing(t *testing.T) {
	input := "1..3\nok 1 - has_table(users)\nok 2 - has_column(users, email)\nok 3 - col_is_unique(users, email)\n"
	s := ParseTAP(input)
	if s.Total != 3 || s.Passed != 3 || s.Failed != 0 {
		t.Fatalf("got %+v", s)
	}
	if !s.IsGreen() {
		t.Fatal("expected green summary")
	}
}

func TestParseTAPWithFailureAndDiagnostic(t *testing.T) {
	input := "1..2\n" +
		"ok 1 - has_table(users)\n" +
		"not ok 2 - col_is_unique(users, email)\n" +
		"#   Failed test 2: col_is_unique(users, email)\n" +
		"#   no unique constraint found\n"
	s := ParseTAP(input)
	if s.Total != 2 || s.Passed != 1 || s.Failed != 1 {
		t.Fatalf("got %+v", s)
	}
	if len(s.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(s.Failures))
	}
	f := s.Failures[0]
	if f.Number != 2 || f.Description != "col_is_unique(users, email)" {
		t.Fatalf("unexpected failure fields: %+v", f)
	}
	if f.Diagnostic == "" {
		t.Fatal("expected diagnostic text to be attached")
	}
}

func TestParseTAPSkipDirective(t *testing.T) {
	input := "1..1\nok 1 - has_table(archive) # SKIP not yet created\n"
	s := ParseTAP(input)
	if s.Total != 1 || s.Skipped != 1 || s.Passed != 0 {
		t.Fatalf("got %+v", s)
	}
}

func TestParseTAPEmptyOutput(t *testing.T) {
	s := ParseTAP("")
	if s.Total != 0 || !s.IsGreen() {
		t.Fatalf("expected empty green summary, got %+v", s)
	}
}
