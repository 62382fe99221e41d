package template

import (
	"strings"
	"testing"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

func TestRenderSubstitutesVars(t *testing.T) {
	out, err := Render("hello {{name}}", Vars{"name": "world"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello world" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderConditionalIncludedWhenSet(t *testing.T) {
	out, err := Render("a{{#if x}}b{{/if}}c", Vars{"x": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "abc" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderConditionalOmittedWhenUnset(t *testing.T) {
	out, err := Render("a{{#if x}}b{{/if}}c", Vars{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ac" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderMissingVarIsError(t *testing.T) {
	_, err := Render("{{missing}}", Vars{})
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
}

func TestGenerateTableTemplate(t *testing.T) {
	g := New()
	r := g.Generate(domain.TestRequirement{Type: domain.RequirementTable, Name: "widgets", Priority: domain.PriorityCritical})
	if r.FellBack {
		t.Fatalf("unexpected fallback: %s", r.FallbackCause)
	}
	if !strings.Contains(r.SQL, "has_table") || !strings.Contains(r.SQL, "plan(") {
		t.Errorf("sql = %q", r.SQL)
	}
	if !strings.Contains(r.SQL, "ROLLBACK") {
		t.Errorf("missing ROLLBACK footer: %q", r.SQL)
	}
}

func TestGenerateColumnTemplateSplitsName(t *testing.T) {
	g := New()
	r := g.Generate(domain.TestRequirement{Type: domain.RequirementColumn, Name: "widgets.price", Priority: domain.PriorityHigh})
	if r.FellBack {
		t.Fatalf("unexpected fallback: %s", r.FallbackCause)
	}
	if !strings.Contains(r.SQL, "has_column") || !strings.Contains(r.SQL, "widgets") || !strings.Contains(r.SQL, "price") {
		t.Errorf("sql = %q", r.SQL)
	}
}

func TestGenerateFunctionWithPrivilegeCheck(t *testing.T) {
	g := New()
	r := g.Generate(domain.TestRequirement{
		Type: domain.RequirementFunction, Name: "do_thing.privileges", Priority: domain.PriorityCritical,
		Metadata: map[string]interface{}{"reason": "SECURITY DEFINER requires a privilege-escalation check"},
	})
	if !strings.Contains(r.SQL, "isnt_definer") {
		t.Errorf("expected privilege check assertion, got %q", r.SQL)
	}
}

func TestGenerateFallsBackOnInjectionShape(t *testing.T) {
	g := New()
	r := g.Generate(domain.TestRequirement{Type: domain.RequirementTable, Name: "widgets'; DROP TABLE widgets; --"})
	if !r.FellBack {
		t.Fatal("expected fallback for injection-shaped name")
	}
	if r.SQL == "" {
		t.Error("expected non-empty fallback SQL")
	}
}

func TestGenerateFallsBackOnUnknownType(t *testing.T) {
	g := New()
	r := g.Generate(domain.TestRequirement{Type: domain.RequirementType("mystery"), Name: "thing"})
	if !r.FellBack {
		t.Fatal("expected fallback for unregistered requirement type")
	}
	if !strings.Contains(r.SQL, "has_table") {
		t.Errorf("expected basic template, got %q", r.SQL)
	}
}

func TestValidateRejectsMissingPlan(t *testing.T) {
	if err := validate("SELECT has_table('public','x'); SELECT * FROM finish(); ROLLBACK;"); err == nil {
		t.Fatal("expected validation error for missing plan()")
	}
}

func TestValidateRejectsMissingAssertion(t *testing.T) {
	if err := validate("SELECT plan(1); SELECT * FROM finish(); ROLLBACK;"); err == nil {
		t.Fatal("expected validation error for missing assertion call")
	}
}

func TestValidateAcceptsWellFormedTemplate(t *testing.T) {
	sql := "BEGIN;\nSELECT plan(1);\nSELECT has_table('public','x');\nSELECT * FROM finish();\nROLLBACK;\n"
	if err := validate(sql); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
