package safety

import (
	"fmt"
	"strings"
)

// forbiddenFragments are substrings that can terminate a statement or open a
// comment. Any identifier containing one is rejected outright instead of
// escaped, since discovered names should never contain them.
var forbiddenFragments = []string{";", "--", "/*", "*/", "\x00"}

// QuoteIdentifier validates a discovered table or column name and returns it
// wrapped in PostgreSQL double quotes with internal quotes doubled. Every
// dynamically built piece of SQL in this service must route names through
// here before formatting them into a statement.
func QuoteIdentifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("identifier is empty")
	}

	for _, fragment := range forbiddenFragments {
		if strings.Contains(name, fragment) {
			return "", fmt.Errorf("identifier %q contains forbidden sequence %q", name, fragment)
		}
	}

	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

// QuoteQualified quotes a schema-qualified name as "schema"."name".
func QuoteQualified(schema, name string) (string, error) {
	quotedSchema, err := QuoteIdentifier(schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}

	quotedName, err := QuoteIdentifier(name)
	if err != nil {
		return "", fmt.Errorf("invalid object name: %w", err)
	}

	return quotedSchema + "." + quotedName, nil
}

// Unquote reverses QuoteIdentifier. It is used by tests and by the fixer when
// reporting the plain name back to the operator.
func Unquote(quoted string) string {
	if len(quoted) < 2 || !strings.HasPrefix(quoted, `"`) || !strings.HasSuffix(quoted, `"`) {
		return quoted
	}
	inner := quoted[1 : len(quoted)-1]
	return strings.ReplaceAll(inner, `""`, `"`)
}
