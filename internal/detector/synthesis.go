package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"schema-doctor/internal/codescan"
	"schema-doctor/internal/safety"
	"schema-doctor/internal/schema"
)

// allowedTypePattern is the allow-list for every type name that may appear in
// generated DDL. Anything else aborts synthesis.
var allowedTypePattern = regexp.MustCompile(`^(?:integer|bigint|smallint|serial|bigserial|text|boolean|uuid|jsonb|date|timestamp|timestamptz|numeric\(\d+,\d+\)|varchar\(\d+\))$`)

// forbiddenDDLTokens must never appear in a synthesized statement. The
// statement is built from quoted identifiers and allow-listed types only, so
// finding one means an input slipped past validation.
var forbiddenDDLTokens = []string{";", "--", "/*", "*/", "drop ", "truncate ", "grant ", "revoke "}

// AllowedColumnType reports whether a type name is acceptable in generated DDL.
func AllowedColumnType(t string) bool {
	return allowedTypePattern.MatchString(strings.ToLower(strings.TrimSpace(t)))
}

// SynthesizeCreateTable aggregates every query pattern for a missing table
// into a best-effort CREATE TABLE IF NOT EXISTS. It declines (returns an
// error) when the table is referenced too rarely to trust, or when the result
// would fail validation. Tables on the synthesis bypass list skip the
// occurrence threshold.
func (d *Detector) SynthesizeCreateTable(table string, pats []codescan.QueryPattern, snap *schema.Snapshot) (string, error) {
	if len(pats) < d.cfg.Detector.SynthesisMinOccurrences && !d.synthesisBypass(table) {
		return "", fmt.Errorf("table %s referenced %d times, below threshold %d",
			table, len(pats), d.cfg.Detector.SynthesisMinOccurrences)
	}

	quotedTable, err := safety.QuoteIdentifier(table)
	if err != nil {
		return "", fmt.Errorf("unsafe table name: %w", err)
	}

	columns, err := d.synthesizedColumns(table, pats, snap)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns could be synthesized for %s", table)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		quotedTable, strings.Join(columns, ",\n    "))

	if err := validateSynthesizedDDL(stmt); err != nil {
		return "", err
	}
	return stmt, nil
}

// synthesizedColumns builds the ordered column definition list: id first,
// then every referenced column with its most specific inferred type, then
// created_at when the query text suggests the table is timestamped.
func (d *Detector) synthesizedColumns(table string, pats []codescan.QueryPattern, snap *schema.Snapshot) ([]string, error) {
	referenced := make(map[string]bool)
	for _, p := range pats {
		for col := range p.Columns {
			referenced[col] = true
		}
	}

	names := make([]string, 0, len(referenced))
	for col := range referenced {
		if col == "id" || col == "created_at" {
			continue // handled explicitly below
		}
		names = append(names, col)
	}
	sort.Strings(names)

	columns := []string{`"id" SERIAL PRIMARY KEY`}

	for _, col := range names {
		quotedCol, err := safety.QuoteIdentifier(col)
		if err != nil {
			return nil, fmt.Errorf("unsafe column name %q: %w", col, err)
		}

		colType := majorityType(pats, col)
		if colType == "text" {
			// Majority vote had nothing specific; fall back to conventions.
			colType = d.inferrer.InferColumnType(col, "")
		}
		if !AllowedColumnType(colType) {
			return nil, fmt.Errorf("unrecognized column type %q for %s.%s", colType, table, col)
		}

		def := fmt.Sprintf("%s %s", quotedCol, colType)
		if ref, ok := referencedTable(col, snap); ok {
			quotedRef, err := safety.QuoteIdentifier(ref)
			if err == nil {
				def += fmt.Sprintf(` REFERENCES %s("id")`, quotedRef)
			}
		}
		columns = append(columns, def)
	}

	if referenced["created_at"] || suggestsTimestamps(pats) {
		columns = append(columns, `"created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()`)
	}

	return columns, nil
}

// suggestsTimestamps reports whether any query against the table implies
// rows carry creation timestamps.
func suggestsTimestamps(pats []codescan.QueryPattern) bool {
	for _, p := range pats {
		upper := strings.ToUpper(p.Query)
		if strings.Contains(upper, "CREATED_AT") || strings.Contains(upper, "NOW()") ||
			strings.Contains(upper, "CURRENT_TIMESTAMP") {
			return true
		}
	}
	return false
}

func (d *Detector) synthesisBypass(table string) bool {
	for _, t := range d.cfg.Detector.SynthesisBypassTables {
		if t == table {
			return true
		}
	}
	return false
}

// validateSynthesizedDDL is the final gate before a generated statement is
// attached to an issue as its fix.
func validateSynthesizedDDL(stmt string) error {
	lower := strings.ToLower(stmt)
	for _, token := range forbiddenDDLTokens {
		if strings.Contains(lower, token) {
			return fmt.Errorf("synthesized DDL contains forbidden token %q", strings.TrimSpace(token))
		}
	}
	return nil
}
