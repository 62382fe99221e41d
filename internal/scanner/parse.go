package scanner

import (
	"strconv"
	"strings"
	"unicode"
)

// stripComments removes SQL line comments ("-- ...") unless keep is true.
func stripComments(sql string, keep bool) string {
	if keep {
		return sql
	}
	lines := strings.Split(sql, "\n")
	for i, line := range lines {
		if idx := findCommentStart(line); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

// findCommentStart returns the byte offset of a "--" comment marker that is
// not inside a quoted string literal, or -1 if none.
func findCommentStart(line string) int {
	inQuote := false
	for i := 0; i < len(line)-1; i++ {
		switch line[i] {
		case '\'':
			inQuote = !inQuote
		case '-':
			if !inQuote && line[i+1] == '-' {
				return i
			}
		}
	}
	return -1
}

// parseAssertions scans sql left-to-right for calls to catalog kinds
// (including calls wrapped as ok(kind(...), 'description')) and returns one
// Assertion per match.
func parseAssertions(sql string) []Assertion {
	var out []Assertion
	search := sql
	offset := 0
	for {
		name, nameStart, parenIdx := nextCall(search)
		if name == "" {
			break
		}
		entry, ok := catalog[name]
		if !ok {
			// advance past this identifier and keep scanning
			offset += parenIdx + 1
			search = sql[offset:]
			continue
		}
		argsEnd, args := parseArgs(search, parenIdx)
		if argsEnd < 0 {
			// unbalanced parens; stop scanning this file
			break
		}
		line := 1 + strings.Count(sql[:offset+nameStart], "\n")
		schema, parts, rest := resolveTarget(entry, args)
		a := Assertion{
			Kind:       name,
			Target:     buildTarget(schema, parts),
			Parameters: rest,
			LineNumber: line,
			RawSQL:     search[nameStart : argsEnd+1],
			Schema:     schema,
		}
		if entry.Category == CategoryTable || entry.Category == CategoryColumn ||
			entry.Category == CategoryIndex || entry.Category == CategoryTrigger ||
			entry.Category == CategoryPolicy {
			if len(parts) > 0 {
				a.TableName = parts[0]
			}
		}
		if len(rest) > 0 {
			a.Description = strings.Trim(rest[len(rest)-1], "'\" \t")
		}
		if entry.Category == CategoryFunction {
			a.FunctionMetadata = map[string]string{"signature": strings.Join(args, ",")}
		}
		if entry.Category == CategoryPolicy {
			a.PolicyMetadata = map[string]string{"roles": strings.Join(rest, ",")}
		}
		out = append(out, a)

		offset += argsEnd + 1
		search = sql[offset:]
	}
	return out
}

// nextCall finds the next occurrence in s of any catalog identifier
// immediately followed by '(', returning its name, its start offset, and
// the offset of the opening paren. Identifiers must be preceded by a
// non-identifier character (word boundary) to avoid matching inside a
// longer name.
func nextCall(s string) (name string, start int, parenIdx int) {
	best := -1
	bestName := ""
	bestParen := -1
	for kind := range catalog {
		idx := 0
		for {
			pos := strings.Index(s[idx:], kind)
			if pos < 0 {
				break
			}
			pos += idx
			end := pos + len(kind)
			if isWordBoundaryBefore(s, pos) && end < len(s) && afterIsCall(s[end:]) {
				paren := end + strings.Index(s[end:], "(")
				if best == -1 || pos < best {
					best = pos
					bestName = kind
					bestParen = paren
				}
			}
			idx = pos + 1
		}
	}
	if best == -1 {
		return "", 0, 0
	}
	return bestName, best, bestParen
}

func isWordBoundaryBefore(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r := rune(s[pos-1])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

// afterIsCall reports whether the text immediately following an identifier
// is (optional whitespace then) an opening paren.
func afterIsCall(s string) bool {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i < len(s) && s[i] == '('
}

// parseArgs parses a balanced-paren argument list starting at parenIdx
// (the index of '(' within s), respecting single-quoted string literals and
// nested parens, and returns the index of the closing ')' plus the
// comma-split, unquoted argument strings.
func parseArgs(s string, parenIdx int) (closeIdx int, args []string) {
	depth := 0
	inQuote := false
	var cur strings.Builder
	for i := parenIdx; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inQuote:
			inQuote = true
		case c == '\'' && inQuote:
			if i+1 < len(s) && s[i+1] == '\'' {
				cur.WriteByte(c)
				i++
				continue
			}
			inQuote = false
		case c == '(' && !inQuote:
			depth++
			if depth == 1 {
				continue
			}
		case c == ')' && !inQuote:
			depth--
			if depth == 0 {
				args = append(args, strings.TrimSpace(cur.String()))
				return i, cleanArgs(args)
			}
		case c == ',' && !inQuote && depth == 1:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		if depth >= 1 {
			cur.WriteByte(c)
		}
	}
	return -1, nil
}

// cleanArgs trims whitespace and strips a single layer of surrounding single
// quotes from each argument. ARRAY[...] arguments get no special handling:
// parseArgs splits them at their inner commas like any other argument list.
func cleanArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.TrimSpace(a)
		a = strings.TrimPrefix(a, "'")
		a = strings.TrimSuffix(a, "'")
		out[i] = a
	}
	return out
}

// parsePlanCount returns n from the first "plan(n)" in sql, or nil when there
// is none or n is not an integer.
func parsePlanCount(sql string) *int {
	const marker = "plan("
	idx := strings.Index(sql, marker)
	if idx < 0 {
		return nil
	}
	rest := sql[idx+len(marker):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if err != nil {
		return nil
	}
	return &n
}
