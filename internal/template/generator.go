package template

import (
	"regexp"
	"strings"

	"github.com/flyingrobots/data-deploy/internal/domain"
)

// Generator produces pgTAP test skeletons for coverage requirements.
type Generator struct{}

// New creates a Generator.
func New() *Generator { return &Generator{} }

// Result is a generated template plus whether it had to fall back to the
// basic scaffold.
type Result struct {
	SQL           string
	FellBack      bool
	FallbackCause string
}

// injectionShapeRe flags the crude patterns spec §4.7 calls out: string
// concatenation markers and unescaped quote sequences inside a substituted
// value. This is a scaffold generator guard, not a general SQL sanitizer —
// it only needs to catch values an author pasted in by mistake.
var injectionShapeRe = regexp.MustCompile(`(?i)(;\s*drop\s|--\s*$|\|\|\s*'|'\s*\+\s*')`)

// Generate renders a template for req, validating the result and falling
// back to the basic template (never erroring) if validation fails.
func (g *Generator) Generate(req domain.TestRequirement) Result {
	vars := varsFor(req)
	for _, v := range vars {
		if injectionShapeRe.MatchString(v) {
			return g.fallback(vars, "requirement metadata contains a disallowed SQL shape")
		}
	}

	tmpl, ok := builtinTemplates[string(req.Type)]
	if !ok {
		return g.fallback(vars, "no template registered for requirement type "+string(req.Type))
	}

	rendered, err := Render(tmpl, vars)
	if err != nil {
		return g.fallback(vars, err.Error())
	}
	if err := validate(rendered); err != nil {
		return g.fallback(vars, err.Error())
	}
	return Result{SQL: rendered}
}

func (g *Generator) fallback(vars Vars, cause string) Result {
	rendered, err := Render(basicTemplate, vars)
	if err != nil {
		// basicTemplate only ever references schema/name, both always set;
		// this path exists so Generate truly never panics or errors out.
		rendered = basicTemplate
	}
	return Result{SQL: rendered, FellBack: true, FallbackCause: cause}
}

func varsFor(req domain.TestRequirement) Vars {
	schema := req.Schema
	if schema == "" {
		schema = "public"
	}
	v := Vars{"schema": schema, "name": req.Name}

	if strings.Contains(req.Name, ".") {
		parts := strings.SplitN(req.Name, ".", 2)
		v["table"] = parts[0]
		v["column"] = parts[1]
		v["name"] = parts[1]
	} else {
		v["table"] = req.Name
		v["column"] = req.Name
	}
	if _, ok := req.Metadata["reason"]; ok {
		v["privilegeCheck"] = "true"
	}
	return v
}

// planDeclRe matches a pgTAP plan() call.
var planDeclRe = regexp.MustCompile(`(?i)\bplan\s*\(`)

// assertionCallRe matches any has_*/col_*/is_*/trigger_*/policy_* style
// pgTAP assertion call — the generator's own lightweight acceptance check.
var assertionCallRe = regexp.MustCompile(`(?i)\b(has_|hasnt_|col_|is_|isnt_|trigger_|policy_|index_)\w*\s*\(`)

// validate rejects a rendered template missing a plan declaration, missing
// any real assertion call, or ending without the required finish/rollback
// footer (spec §4.7).
func validate(sql string) error {
	if !planDeclRe.MatchString(sql) {
		return &ValidationError{Reason: "missing plan() declaration"}
	}
	if !assertionCallRe.MatchString(sql) {
		return &ValidationError{Reason: "missing a pgTAP assertion call"}
	}
	if !strings.Contains(sql, "SELECT * FROM finish()") || !strings.Contains(sql, "ROLLBACK") {
		return &ValidationError{Reason: "missing finish()/ROLLBACK footer"}
	}
	return nil
}

// ValidationError is returned by validate; Generate never surfaces it
// directly — it always falls back to the basic template instead.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "template validation failed: " + e.Reason }
