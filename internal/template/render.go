// Package template implements TestTemplateGenerator (spec §4.7): it renders
// pgTAP test skeletons for coverage requirements.
//
// The {{var}} / {{#if var}}...{{/if}} rendering engine is adapted from
// internal/prompt/template.go, generalized from prompt authoring to SQL test
// scaffolding; the basic-template map mirrors internal/prompt/builtin.go's
// filename-to-content table.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifClose  = "{{/if}}"
)

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands tmpl against vars, processing {{#if}} blocks (innermost
// first) before variable substitution. Missing variables are an error.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifClose)
		if closeIdx == -1 {
			break
		}
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		last := openLocs[len(openLocs)-1]
		openTag := prefix[last[0]:last[1]]
		varName := ifOpenRe.FindStringSubmatch(openTag)[1]
		body := result[last[1]:closeIdx]
		closeEnd := closeIdx + len(ifClose)

		var replacement string
		if val, ok := vars[varName]; ok && val != "" {
			replacement = body
		}
		result = result[:last[0]] + replacement + result[closeEnd:]
	}
	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed conditional block: %s", ifOpenRe.FindString(result))
	}
	return result, nil
}
