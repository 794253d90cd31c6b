package codescan

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// CallSite is one discovered data-access call with its literal query text.
type CallSite struct {
	Line  int    `json:"line"`
	Query string `json:"query"`
}

// dataAccessMethods are the call names treated as data-access sites in Go
// sources: database/sql, pgx and sqlx style.
var dataAccessMethods = map[string]bool{
	"Query": true, "QueryRow": true, "Exec": true,
	"QueryContext": true, "QueryRowContext": true, "ExecContext": true,
	"Get": true, "Select": true, "GetContext": true, "SelectContext": true,
	"NamedExec": true, "NamedQuery": true,
}

// extractCallSites picks the structural parser for Go files and falls back to
// line-oriented regex matching for everything else, or when the parse fails.
func (s *Scanner) extractCallSites(relPath, ext string, content []byte) []CallSite {
	if ext == ".go" {
		sites, err := extractGoCallSites(relPath, content)
		if err == nil {
			return sites
		}
		s.logger.Warn("structural parse failed, falling back to regex",
			zap.String("file", relPath), zap.Error(err))
	}
	return extractRegexCallSites(content)
}

// extractGoCallSites walks the file's syntax tree looking for calls like
// db.QueryRow(ctx, "SELECT ...") and pulls out the literal query argument.
func extractGoCallSites(relPath string, content []byte) ([]CallSite, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, relPath, content, 0)
	if err != nil {
		return nil, err
	}

	var sites []CallSite
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}

		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !dataAccessMethods[sel.Sel.Name] {
			return true
		}

		query, ok := literalQueryArg(call.Args)
		if !ok || !looksLikeSQL(query) {
			return true
		}

		sites = append(sites, CallSite{
			Line:  fset.Position(call.Pos()).Line,
			Query: query,
		})
		return true
	})

	return sites, nil
}

// literalQueryArg finds the first argument that is a string literal, or the
// format string of an inline fmt.Sprintf. Context arguments are skipped
// naturally because they are identifiers, not literals.
func literalQueryArg(args []ast.Expr) (string, bool) {
	for _, arg := range args {
		switch expr := arg.(type) {
		case *ast.BasicLit:
			if expr.Kind == token.STRING {
				if unquoted, err := strconv.Unquote(expr.Value); err == nil {
					return unquoted, true
				}
			}
		case *ast.CallExpr:
			if sel, ok := expr.Fun.(*ast.SelectorExpr); ok {
				if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "fmt" && sel.Sel.Name == "Sprintf" {
					if len(expr.Args) > 0 {
						if lit, ok := expr.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
							if unquoted, err := strconv.Unquote(lit.Value); err == nil {
								return unquoted, true
							}
						}
					}
				}
			}
		}
	}
	return "", false
}

func looksLikeSQL(s string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER"} {
		if strings.HasPrefix(trimmed, verb+" ") || strings.HasPrefix(trimmed, verb+"\n") || strings.HasPrefix(trimmed, verb+"\t") {
			return true
		}
	}
	return false
}

// Regex fallback. One pattern per quote style because the engine has no
// backreferences; each captures a string literal starting with a DML verb.
var sqlLiteralPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)`\\s*((?:select|insert|update|delete)\\b[^`]*)`"),
	regexp.MustCompile(`(?is)"\s*((?:select|insert|update|delete)\b[^"]*)"`),
	regexp.MustCompile(`(?is)'\s*((?:select|insert|update|delete)\b[^']*)'`),
}

// extractRegexCallSites recognizes execute/fetch-style calls by scanning for
// quoted SQL strings anywhere in the file. Line numbers come from counting
// newlines up to the match offset.
func extractRegexCallSites(content []byte) []CallSite {
	text := string(content)
	seen := make(map[string]bool)
	var sites []CallSite

	for _, pattern := range sqlLiteralPatterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			query := strings.TrimSpace(text[loc[2]:loc[3]])
			key := strconv.Itoa(loc[2]) + query
			if seen[key] {
				continue
			}
			seen[key] = true
			sites = append(sites, CallSite{
				Line:  1 + strings.Count(text[:loc[0]], "\n"),
				Query: query,
			})
		}
	}

	return sites
}

// ParsedQuery is the normalized shape of one query string.
type ParsedQuery struct {
	Type    QueryType
	Table   string
	Columns map[string]string // column -> contextual type hint ("" when none)
}

var (
	fromTableRe   = regexp.MustCompile(`(?i)\bFROM\s+([a-z_][a-z0-9_]*)`)
	intoTableRe   = regexp.MustCompile(`(?i)\bINTO\s+([a-z_][a-z0-9_]*)`)
	updateTableRe = regexp.MustCompile(`(?i)\bUPDATE\s+([a-z_][a-z0-9_]*)`)
	tableKwRe     = regexp.MustCompile(`(?i)\bTABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?([a-z_][a-z0-9_]*)`)

	selectListRe = regexp.MustCompile(`(?is)\bSELECT\s+(.*?)\s+FROM\b`)
	insertColsRe = regexp.MustCompile(`(?is)\bINTO\s+[a-z_][a-z0-9_]*\s*\(([^)]*)\)`)
	wherePredRe  = regexp.MustCompile(`(?i)\b(?:WHERE|AND|OR)\s+([a-z_][a-z0-9_.]*)\s*(?:=|!=|<>|<=|>=|<|>|LIKE|IN|IS)\s*([a-z_]+\(\)|\([^)]*\)|[^\s,()]+)`)
	setClauseRe  = regexp.MustCompile(`(?is)\bSET\s+(.*?)(?:\bWHERE\b|$)`)
	setPairRe    = regexp.MustCompile(`(?i)([a-z_][a-z0-9_]*)\s*=\s*([^,]+)`)
	userIDCastRe = regexp.MustCompile(`(?i)\b([a-z_]*user_id)\s*::\s*([a-z]+)`)
	identifierRe = regexp.MustCompile(`(?i)^[a-z_][a-z0-9_]*$`)
)

// ParseQuery extracts the statement type, target table and referenced columns
// (with contextual type hints) from one query string. Best effort: anything
// unrecognized yields an empty table or column set, never an error.
func ParseQuery(query string) ParsedQuery {
	parsed := ParsedQuery{
		Type:    classifyQuery(query),
		Columns: make(map[string]string),
	}

	switch parsed.Type {
	case QuerySelect, QueryDelete:
		parsed.Table = firstGroup(fromTableRe, query)
	case QueryInsert:
		parsed.Table = firstGroup(intoTableRe, query)
	case QueryUpdate:
		parsed.Table = firstGroup(updateTableRe, query)
	default:
		parsed.Table = firstGroup(tableKwRe, query)
	}

	collectSelectColumns(query, parsed.Columns)
	collectInsertColumns(query, parsed.Columns)
	collectWhereColumns(query, parsed.Columns)
	collectSetColumns(query, parsed.Columns)

	return parsed
}

func classifyQuery(query string) QueryType {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(trimmed, "SELECT"):
		return QuerySelect
	case strings.HasPrefix(trimmed, "INSERT"):
		return QueryInsert
	case strings.HasPrefix(trimmed, "UPDATE"):
		return QueryUpdate
	case strings.HasPrefix(trimmed, "DELETE"):
		return QueryDelete
	default:
		return QueryOther
	}
}

func firstGroup(re *regexp.Regexp, query string) string {
	if m := re.FindStringSubmatch(query); len(m) > 1 {
		return strings.ToLower(m[1])
	}
	return ""
}

func collectSelectColumns(query string, columns map[string]string) {
	m := selectListRe.FindStringSubmatch(query)
	if len(m) < 2 {
		return
	}
	for _, raw := range strings.Split(m[1], ",") {
		name := normalizeColumnRef(raw)
		if name != "" {
			ensureColumn(columns, name, "")
		}
	}
}

func collectInsertColumns(query string, columns map[string]string) {
	m := insertColsRe.FindStringSubmatch(query)
	if len(m) < 2 {
		return
	}
	names := strings.Split(m[1], ",")

	// Pair column names with VALUES literals positionally when possible.
	var literals []string
	if idx := strings.Index(strings.ToUpper(query), "VALUES"); idx >= 0 {
		rest := query[idx+len("VALUES"):]
		if open := strings.Index(rest, "("); open >= 0 {
			// Last closing paren, so function-call literals like NOW() survive.
			if closing := strings.LastIndex(rest, ")"); closing > open {
				literals = strings.Split(rest[open+1:closing], ",")
			}
		}
	}

	for i, raw := range names {
		name := normalizeColumnRef(raw)
		if name == "" {
			continue
		}
		hint := ""
		if i < len(literals) {
			hint = hintFromLiteral(strings.TrimSpace(literals[i]))
		}
		ensureColumn(columns, name, hint)
	}
}

func collectWhereColumns(query string, columns map[string]string) {
	for _, m := range wherePredRe.FindAllStringSubmatch(query, -1) {
		name := normalizeColumnRef(m[1])
		if name == "" {
			continue
		}
		ensureColumn(columns, name, hintFromLiteral(strings.TrimSpace(m[2])))
	}
}

func collectSetColumns(query string, columns map[string]string) {
	if classifyQuery(query) != QueryUpdate {
		return
	}
	m := setClauseRe.FindStringSubmatch(query)
	if len(m) < 2 {
		return
	}
	for _, pair := range strings.Split(m[1], ",") {
		pm := setPairRe.FindStringSubmatch(pair)
		if len(pm) < 3 {
			continue
		}
		name := normalizeColumnRef(pm[1])
		if name == "" {
			continue
		}
		ensureColumn(columns, name, hintFromLiteral(strings.TrimSpace(pm[2])))
	}
}

// ensureColumn keeps the most specific hint seen for a column: a non-empty
// hint always beats an empty one.
func ensureColumn(columns map[string]string, name, hint string) {
	if existing, ok := columns[name]; !ok || (existing == "" && hint != "") {
		columns[name] = hint
	}
}

// normalizeColumnRef strips table qualifiers, aliases and casts from a column
// reference and rejects anything that is not a plain identifier.
func normalizeColumnRef(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" || name == "*" {
		return ""
	}

	// "col AS alias" -> col
	if idx := strings.Index(strings.ToUpper(name), " AS "); idx >= 0 {
		name = name[:idx]
	}
	// "t.col" -> col
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	// "col::type" -> col
	if idx := strings.Index(name, "::"); idx >= 0 {
		name = name[:idx]
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if !identifierRe.MatchString(name) {
		return ""
	}
	return name
}

// hintFromLiteral infers a column type from the right-hand side of a
// predicate or assignment. Parameter placeholders carry no information.
func hintFromLiteral(literal string) string {
	if literal == "" {
		return ""
	}
	upper := strings.ToUpper(literal)

	switch {
	case strings.HasPrefix(literal, "$") || literal == "?":
		return ""
	case strings.HasPrefix(literal, "'"):
		return "text"
	case upper == "NOW()" || upper == "CURRENT_TIMESTAMP" || upper == "CURRENT_TIMESTAMP()":
		return "timestamptz"
	case upper == "GEN_RANDOM_UUID()" || upper == "UUID_GENERATE_V4()":
		return "uuid"
	case upper == "TRUE" || upper == "FALSE":
		return "boolean"
	case upper == "NULL":
		return ""
	}

	if _, err := strconv.Atoi(literal); err == nil {
		return "integer"
	}
	if _, err := strconv.ParseFloat(literal, 64); err == nil {
		return "numeric(10,2)"
	}
	return ""
}

// Cast is an inline ::type cast found in query text.
type Cast struct {
	Column     string
	TargetType string
}

// FindUserIDCasts reports explicit casts applied to user_id-shaped columns.
// An inline cast on a key column usually means the stored type is wrong and
// being papered over at every call site.
func FindUserIDCasts(query string) []Cast {
	var casts []Cast
	for _, m := range userIDCastRe.FindAllStringSubmatch(query, -1) {
		casts = append(casts, Cast{
			Column:     strings.ToLower(m[1]),
			TargetType: strings.ToLower(m[2]),
		})
	}
	return casts
}
