// Package safety statically validates candidate SQL before execution. The
// model output is adversarial input: validation is deny-by-default, and
// anything that does not look like a plain SELECT over known objects is
// rejected.
package safety

import (
	"fmt"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

type Rule string

const (
	RuleMultiStatement      Rule = "MultiStatement"
	RuleDisallowedOperation Rule = "DisallowedOperation"
	RuleUnknownObject       Rule = "UnknownObject"
	RulePrivilegedAccess    Rule = "PrivilegedAccess"
)

// Violation is the terminal rejection of a candidate statement. Rejections
// are final and never retried with a relaxed rule.
type Violation struct {
	Rule   Rule
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("rejected(%s): %s", v.Rule, v.Detail)
}

// Catalog exposes the active schema snapshot the validator resolves
// object references against.
type Catalog interface {
	Active() (index.Version, schema.Snapshot, bool)
}

type Validator struct {
	Catalog Catalog
}

// deniedKeywords rejects any statement containing DML, DDL, transaction
// control, session control, or utility commands anywhere in its token
// stream. A SELECT wrapped around any of these still carries the keyword.
var deniedKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true,
	"truncate": true, "drop": true, "alter": true, "create": true,
	"grant": true, "revoke": true, "reassign": true, "comment": true,
	"copy": true, "call": true, "do": true, "execute": true,
	"prepare": true, "deallocate": true, "set": true, "reset": true,
	"begin": true, "commit": true, "rollback": true, "savepoint": true,
	"release": true, "lock": true, "listen": true, "notify": true,
	"unlisten": true, "vacuum": true, "cluster": true, "reindex": true,
	"refresh": true, "checkpoint": true, "discard": true, "explain": true,
	"analyze": true, "analyse": true, "import": true, "into": true,
	"returning": true,
}

// lockingFollowers: "FOR UPDATE" is caught by the update keyword; these
// catch the remaining row-locking clauses.
var lockingFollowers = map[string]bool{"share": true, "no": true, "key": true}

func (v *Validator) Validate(sqlText string) *Violation {
	_, snapshot, ok := v.Catalog.Active()
	if !ok {
		return &Violation{Rule: RuleUnknownObject, Detail: "no active schema snapshot to validate against"}
	}

	scrubbed, err := scrub(sqlText)
	if err != nil {
		return &Violation{Rule: RuleDisallowedOperation, Detail: fmt.Sprintf("statement could not be parsed: %v", err)}
	}
	if detail, multi := extraStatement(scrubbed); multi {
		return &Violation{Rule: RuleMultiStatement, Detail: detail}
	}

	tokens := trimTrailingSemicolons(tokenize(scrubbed))
	if len(tokens) == 0 {
		return &Violation{Rule: RuleDisallowedOperation, Detail: "empty statement"}
	}
	if tokens[0].kind != tokenWord || (tokens[0].text != "select" && tokens[0].text != "with") {
		return &Violation{Rule: RuleDisallowedOperation, Detail: fmt.Sprintf("statement type %q is not allowed, only SELECT", strings.ToUpper(tokens[0].text))}
	}

	for i, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if deniedKeywords[tok.text] {
			return &Violation{Rule: RuleDisallowedOperation, Detail: fmt.Sprintf("statement contains disallowed keyword %q", strings.ToUpper(tok.text))}
		}
		if tok.text == "for" && i+1 < len(tokens) && tokens[i+1].kind == tokenWord && lockingFollowers[tokens[i+1].text] {
			return &Violation{Rule: RuleDisallowedOperation, Detail: "row locking clauses are not allowed"}
		}
	}

	// System catalogs are never part of the indexed snapshot, so privileged
	// patterns are screened before existence resolution.
	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if strings.HasPrefix(tok.text, "pg_") || tok.text == "information_schema" {
			return &Violation{Rule: RulePrivilegedAccess, Detail: fmt.Sprintf("reference to system object %q is not allowed", tok.text)}
		}
	}

	scan := newScanner(tokens)
	if violation := scan.run(); violation != nil {
		return violation
	}

	for _, name := range scan.tableRefs {
		if scan.cteNames[name] {
			continue
		}
		if _, ok := snapshot.Table(name); !ok {
			return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("table %q does not exist in the active schema", name)}
		}
	}

	return scan.checkColumnRefs(snapshot)
}

func extraStatement(scrubbed string) (string, bool) {
	if idx := strings.Index(scrubbed, ";"); idx >= 0 {
		rest := strings.TrimSpace(strings.ReplaceAll(scrubbed[idx:], ";", " "))
		if rest != "" {
			return "statement separator followed by additional content", true
		}
	}
	return "", false
}

func trimTrailingSemicolons(tokens []token) []token {
	for len(tokens) > 0 && tokens[len(tokens)-1].kind == tokenPunct && tokens[len(tokens)-1].text == ";" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// scanner walks the token stream to collect table references, aliases, and
// CTE names, and to reject statement shapes the allowlist does not cover.
type scanner struct {
	tokens    []token
	cteNames  map[string]bool
	derived   map[string]bool
	aliases   map[string]string
	tableRefs []string
	consumed  map[int]bool
}

// aliasStoppers are words that terminate a FROM-list item and therefore
// can never be a table alias.
var aliasStoppers = map[string]bool{
	"on": true, "using": true, "where": true, "group": true, "order": true,
	"having": true, "limit": true, "offset": true, "fetch": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "outer": true, "union": true,
	"intersect": true, "except": true, "window": true, "for": true,
	"as": true, "with": true, "select": true, "tablesample": true,
}

func newScanner(tokens []token) *scanner {
	return &scanner{
		tokens:   tokens,
		cteNames: map[string]bool{},
		derived:  map[string]bool{},
		aliases:  map[string]string{},
		consumed: map[int]bool{},
	}
}

func (s *scanner) run() *Violation {
	s.collectCTENames()

	type scope struct {
		functionCall bool
		sawQuery     bool
	}
	stack := []scope{{sawQuery: true}}

	for i := 0; i < len(s.tokens); i++ {
		tok := s.tokens[i]
		current := &stack[len(stack)-1]

		switch {
		case tok.kind == tokenPunct && tok.text == "(":
			functionCall := i > 0 && s.tokens[i-1].kind == tokenWord && !nonFunctionPredecessors[s.tokens[i-1].text]
			stack = append(stack, scope{functionCall: functionCall})
		case tok.kind == tokenPunct && tok.text == ")":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case tok.kind == tokenWord && (tok.text == "select" || tok.text == "with"):
			current.sawQuery = true
		case tok.kind == tokenWord && (tok.text == "from" || tok.text == "join"):
			// FROM inside a plain function call (extract, substring, trim)
			// is part of the function syntax, not a table source.
			if current.functionCall && !current.sawQuery {
				continue
			}
			// parseRefList records names and aliases; scanning resumes at
			// the next token so derived-table bodies are still walked by
			// the scope stack.
			if violation := s.parseRefList(i+1, tok.text == "from"); violation != nil {
				return violation
			}
		}
	}
	return nil
}

// collectCTENames records every identifier directly preceding AS followed
// by an opening parenthesis, which covers WITH-clause definitions.
func (s *scanner) collectCTENames() {
	for i := 0; i+2 < len(s.tokens); i++ {
		if s.tokens[i].kind == tokenWord && !aliasStoppers[s.tokens[i].text] &&
			s.tokens[i+1].kind == tokenWord && s.tokens[i+1].text == "as" &&
			s.tokens[i+2].kind == tokenPunct && s.tokens[i+2].text == "(" {
			s.cteNames[s.tokens[i].text] = true
		}
	}
}

func (s *scanner) parseRefList(i int, allowComma bool) *Violation {
	for {
		next, violation := s.parseRef(i)
		if violation != nil {
			return violation
		}
		i = next
		if allowComma && i < len(s.tokens) && s.tokens[i].kind == tokenPunct && s.tokens[i].text == "," {
			i++
			continue
		}
		return nil
	}
}

// nonFunctionPredecessors are words before an opening parenthesis that
// introduce a grouping or subquery rather than a function call.
var nonFunctionPredecessors = map[string]bool{
	"select": true, "from": true, "join": true, "where": true, "and": true,
	"or": true, "not": true, "in": true, "exists": true, "any": true,
	"all": true, "some": true, "on": true, "as": true, "when": true,
	"then": true, "else": true, "by": true, "having": true,
	"distinct": true, "union": true, "intersect": true, "except": true,
	"with": true, "case": true, "between": true, "like": true,
	"ilike": true, "is": true, "lateral": true, "using": true,
	"inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "outer": true,
}

func (s *scanner) parseRef(i int) (int, *Violation) {
	for i < len(s.tokens) && s.tokens[i].kind == tokenWord && (s.tokens[i].text == "lateral" || s.tokens[i].text == "only") {
		i++
	}
	if i >= len(s.tokens) {
		return 0, &Violation{Rule: RuleDisallowedOperation, Detail: "malformed FROM clause"}
	}

	if s.tokens[i].kind == tokenPunct && s.tokens[i].text == "(" {
		end := s.skipBalanced(i)
		return s.parseAlias(end, ""), nil
	}
	if s.tokens[i].kind != tokenWord {
		return 0, &Violation{Rule: RuleDisallowedOperation, Detail: "unrecognized FROM clause shape"}
	}

	parts := []string{s.tokens[i].text}
	s.consumed[i] = true
	i++
	for i+1 < len(s.tokens) && s.tokens[i].kind == tokenPunct && s.tokens[i].text == "." && s.tokens[i+1].kind == tokenWord {
		parts = append(parts, s.tokens[i+1].text)
		s.consumed[i+1] = true
		i += 2
	}
	name := strings.Join(parts, ".")

	if i < len(s.tokens) && s.tokens[i].kind == tokenPunct && s.tokens[i].text == "(" {
		// Deny-by-default: set-returning functions are unrecognized objects,
		// not permitted table sources.
		return 0, &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("function %q is not a known table", name)}
	}
	if len(parts) > 2 {
		return 0, &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("relation name %q has too many parts", name)}
	}

	s.tableRefs = append(s.tableRefs, name)
	return s.parseAlias(i, name), nil
}

// parseAlias consumes an optional [AS] alias after a table or subquery and
// records the binding. table == "" marks a derived table.
func (s *scanner) parseAlias(i int, table string) int {
	if i < len(s.tokens) && s.tokens[i].kind == tokenWord && s.tokens[i].text == "as" {
		i++
	}
	if i < len(s.tokens) && s.tokens[i].kind == tokenWord && !aliasStoppers[s.tokens[i].text] {
		alias := s.tokens[i].text
		if table == "" {
			s.derived[alias] = true
		} else {
			s.aliases[alias] = table
		}
		i++
		// Optional derived column list: alias (a, b, c).
		if i < len(s.tokens) && s.tokens[i].kind == tokenPunct && s.tokens[i].text == "(" {
			i = s.skipBalanced(i)
		}
	}
	return i
}

func (s *scanner) skipBalanced(i int) int {
	depth := 0
	for ; i < len(s.tokens); i++ {
		if s.tokens[i].kind != tokenPunct {
			continue
		}
		if s.tokens[i].text == "(" {
			depth++
		}
		if s.tokens[i].text == ")" {
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// checkColumnRefs resolves qualified column references against the
// snapshot. Bare column names cannot be attributed to a table without a
// full parser and are left to the database; qualified ones are checked.
func (s *scanner) checkColumnRefs(snapshot schema.Snapshot) *Violation {
	for i := 0; i+2 < len(s.tokens); i++ {
		if s.tokens[i].kind != tokenWord || s.consumed[i] {
			continue
		}
		if s.tokens[i+1].kind != tokenPunct || s.tokens[i+1].text != "." {
			continue
		}

		parts := []string{s.tokens[i].text}
		j := i + 1
		star := false
		for j+1 < len(s.tokens) && s.tokens[j].kind == tokenPunct && s.tokens[j].text == "." {
			if s.tokens[j+1].kind == tokenPunct && s.tokens[j+1].text == "*" {
				star = true
				j += 2
				break
			}
			if s.tokens[j+1].kind != tokenWord {
				break
			}
			parts = append(parts, s.tokens[j+1].text)
			j += 2
		}
		i = j - 1

		if violation := s.checkQualifiedRef(snapshot, parts, star); violation != nil {
			return violation
		}
	}
	return nil
}

func (s *scanner) checkQualifiedRef(snapshot schema.Snapshot, parts []string, star bool) *Violation {
	switch {
	case star || len(parts) == 1:
		return s.checkQualifier(snapshot, parts)
	case len(parts) == 2:
		qualifier, column := parts[0], parts[1]
		fragment, known, skip := s.resolveQualifier(snapshot, qualifier)
		if skip {
			return nil
		}
		if !known {
			return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("unknown table or alias %q", qualifier)}
		}
		if _, ok := fragment.Column(column); !ok {
			return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("column %q does not exist in table %q", column, fragment.QualifiedName())}
		}
	case len(parts) == 3:
		table := parts[0] + "." + parts[1]
		fragment, ok := snapshot.Table(table)
		if !ok {
			return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("table %q does not exist in the active schema", table)}
		}
		if _, ok := fragment.Column(parts[2]); !ok {
			return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("column %q does not exist in table %q", parts[2], table)}
		}
	default:
		return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("reference %q has too many parts", strings.Join(parts, "."))}
	}
	return nil
}

func (s *scanner) checkQualifier(snapshot schema.Snapshot, parts []string) *Violation {
	qualifier := parts[0]
	if len(parts) > 1 {
		qualifier = strings.Join(parts[:len(parts)-1], ".")
	}
	if _, known, skip := s.resolveQualifier(snapshot, qualifier); !known && !skip {
		return &Violation{Rule: RuleUnknownObject, Detail: fmt.Sprintf("unknown table or alias %q", qualifier)}
	}
	return nil
}

// resolveQualifier maps an identifier qualifier to a schema fragment.
// skip is true for CTEs and derived-table aliases, whose shapes are not
// resolvable against the snapshot.
func (s *scanner) resolveQualifier(snapshot schema.Snapshot, qualifier string) (schema.Fragment, bool, bool) {
	if s.cteNames[qualifier] || s.derived[qualifier] {
		return schema.Fragment{}, false, true
	}
	if table, ok := s.aliases[qualifier]; ok {
		if s.cteNames[table] {
			return schema.Fragment{}, false, true
		}
		fragment, ok := snapshot.Table(table)
		return fragment, ok, false
	}
	fragment, ok := snapshot.Table(qualifier)
	return fragment, ok, false
}
