package template

// builtinTemplates maps requirement type to its pgTAP scaffold, keyed the
// way internal/prompt/builtin.go keys its prompt templates by filename.
var builtinTemplates = map[string]string{
	"table":      tableTemplate,
	"column":     columnTemplate,
	"function":   functionTemplate,
	"index":      indexTemplate,
	"rls":        rlsTemplate,
	"trigger":    triggerTemplate,
	"constraint": constraintTemplate,
	"rpc":        functionTemplate,
}

// basicTemplate is the last-resort fallback: minimally valid, covers
// nothing specific, used when a requirement's dedicated template (or its
// rendering) fails.
const basicTemplate = `BEGIN;
SELECT plan(1);
SELECT has_table('{{schema}}', '{{name}}', '{{name}} exists');
SELECT * FROM finish();
ROLLBACK;
`

const tableTemplate = `BEGIN;
SELECT plan(1);
SELECT has_table('{{schema}}', '{{name}}', '{{name}} table exists');
SELECT * FROM finish();
ROLLBACK;
`

const columnTemplate = `BEGIN;
SELECT plan(2);
SELECT has_column('{{schema}}', '{{table}}', '{{column}}', '{{table}}.{{column}} exists');
SELECT col_not_null('{{schema}}', '{{table}}', '{{column}}', '{{table}}.{{column}} nullability');
SELECT * FROM finish();
ROLLBACK;
`

const functionTemplate = `BEGIN;
SELECT plan(1);
SELECT has_function('{{schema}}', '{{name}}', '{{name}} function exists');
{{#if privilegeCheck}}
SELECT isnt_definer('{{schema}}', '{{name}}', '{{name}} is not a privilege escalation vector');
{{/if}}
SELECT * FROM finish();
ROLLBACK;
`

const indexTemplate = `BEGIN;
SELECT plan(1);
SELECT has_index('{{schema}}', '{{table}}', '{{name}}', '{{name}} index exists');
SELECT * FROM finish();
ROLLBACK;
`

const rlsTemplate = `BEGIN;
SELECT plan(2);
SELECT is_rls_enabled('{{schema}}', '{{name}}', 'row level security is enabled on {{name}}');
SELECT policy_exists('{{schema}}', '{{name}}', 'at least one policy exists on {{name}}');
SELECT * FROM finish();
ROLLBACK;
`

const triggerTemplate = `BEGIN;
SELECT plan(1);
SELECT has_trigger('{{schema}}', '{{table}}', '{{name}}', '{{name}} trigger exists');
SELECT * FROM finish();
ROLLBACK;
`

const constraintTemplate = `BEGIN;
SELECT plan(1);
SELECT col_not_null('{{schema}}', '{{table}}', '{{column}}', 'constraint target is enforced');
SELECT * FROM finish();
ROLLBACK;
`
