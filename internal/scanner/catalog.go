package scanner

import "strings"

// catalogEntry describes one pgTAP assertion kind: its coverage category and
// how many leading identifier components (beyond an optional schema) its
// call takes before the trailing description/value arguments.
type catalogEntry struct {
	Category   Category
	IdentCount int // identifier args after the optional schema (e.g. table=1, table+column=2)
}

// catalog is the closed set of recognized pgTAP assertion kinds (spec §4.5).
// Every kind maps to exactly one category and ident shape; there is one
// entry per kind rather than one regex per kind, since the shapes repeat far
// more than the kinds do.
var catalog = map[string]catalogEntry{
	// schema
	"has_schema":   {CategorySchema, 1},
	"hasnt_schema": {CategorySchema, 1},

	// table
	"has_table":      {CategoryTable, 1},
	"hasnt_table":    {CategoryTable, 1},
	"table_privs_are": {CategoryTable, 1},
	"table_owner_is": {CategoryTable, 1},
	"tables_are":     {CategoryTable, 1},

	// column
	"has_column":       {CategoryColumn, 2},
	"hasnt_column":     {CategoryColumn, 2},
	"col_type_is":      {CategoryColumn, 2},
	"col_not_null":     {CategoryColumn, 2},
	"col_is_null":      {CategoryColumn, 2},
	"col_has_default":  {CategoryColumn, 2},
	"col_hasnt_default": {CategoryColumn, 2},
	"col_default_is":   {CategoryColumn, 2},
	"col_is_pk":        {CategoryColumn, 2},
	"col_isnt_pk":      {CategoryColumn, 2},

	// key
	"has_pk":   {CategoryTable, 1},
	"hasnt_pk": {CategoryTable, 1},
	"has_fk":   {CategoryTable, 1},
	"hasnt_fk": {CategoryTable, 1},

	// index
	"has_index":        {CategoryIndex, 2},
	"hasnt_index":      {CategoryIndex, 2},
	"index_is_on":      {CategoryIndex, 2},
	"index_is_type":    {CategoryIndex, 2},
	"has_unique":       {CategoryIndex, 2},
	"hasnt_unique":     {CategoryIndex, 2},
	"index_is_primary": {CategoryIndex, 2},

	// function
	"has_function":        {CategoryFunction, 1},
	"hasnt_function":      {CategoryFunction, 1},
	"function_returns":    {CategoryFunction, 1},
	"function_lang_is":    {CategoryFunction, 1},
	"is_definer":          {CategoryFunction, 1},
	"isnt_definer":        {CategoryFunction, 1},
	"volatility_is":       {CategoryFunction, 1},
	"function_privs_are":  {CategoryFunction, 1},

	// view (tracked under tables — pgTAP views are relations, same namespace)
	"has_view":   {CategoryTable, 1},
	"hasnt_view": {CategoryTable, 1},

	// type (no dedicated category in the spec's seven; folds into schemas,
	// since pgTAP types are schema-scoped like schema-level objects)
	"has_type":   {CategorySchema, 1},
	"hasnt_type": {CategorySchema, 1},

	// results — data assertions, not structural; tracked under tables since
	// they always target a relation or function result set
	"results_eq": {CategoryTable, 1},
	"results_ne": {CategoryTable, 1},

	// RLS / policy
	"is_rls_enabled":  {CategoryTable, 1},
	"policy_exists":   {CategoryPolicy, 2},
	"policy_cmd_is":   {CategoryPolicy, 2},
	"policy_roles_are": {CategoryPolicy, 2},
	"policies_are":    {CategoryPolicy, 1},

	// trigger
	"has_trigger":     {CategoryTrigger, 2},
	"hasnt_trigger":   {CategoryTrigger, 2},
	"trigger_is":      {CategoryTrigger, 2},
	"is_trigger_on":   {CategoryTrigger, 2},
	"trigger_fires_on": {CategoryTrigger, 2},
	"trigger_is_for":  {CategoryTrigger, 2},
	"triggers_are":    {CategoryTrigger, 1},
}

// isShortIdent is the test used by the schema-disambiguation heuristic: a
// short, space-free, non-empty token counts as an identifier.
func isShortIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	return !strings.ContainsAny(s, " \t\n")
}

// resolveTarget applies the catalog entry's ident shape plus the
// schema-disambiguation heuristic to a parsed argument list, returning the
// schema, the identifier path (table, table+column, etc.), and the
// remaining free-text arguments (description, expected value, ...). The
// first argument is read as a schema when the argument after it is a short
// identifier; otherwise the schema is public.
func resolveTarget(entry catalogEntry, args []string) (schema string, parts []string, rest []string) {
	n := entry.IdentCount
	if len(args) >= n+1 && isShortIdent(args[1]) {
		schema = strings.ToLower(args[0])
		parts = lower(args[1 : min(len(args), 1+n)])
		if len(args) > 1+n {
			rest = args[1+n:]
		}
		return
	}
	schema = "public"
	parts = lower(args[:min(len(args), n)])
	if len(args) > n {
		rest = args[n:]
	}
	return
}

func lower(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// buildTarget joins schema and identifier parts into the dotted, lowercase
// target string (e.g. "public.users.email").
func buildTarget(schema string, parts []string) string {
	all := append([]string{schema}, parts...)
	return strings.Join(all, ".")
}
