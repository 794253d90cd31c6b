package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/codescan"
	"schema-doctor/internal/issue"
	"schema-doctor/internal/safety"
	"schema-doctor/internal/schema"
)

// Detector compares a live schema snapshot against code-derived expectations
// and internal consistency rules. Detect is deterministic: the same inputs
// always produce the same ordered issue set, so issue ids are stable across
// scans.
type Detector struct {
	cfg      *config.Config
	inferrer *codescan.Inferrer
	logger   *zap.Logger
}

// New creates an issue detector.
func New(cfg *config.Config, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		inferrer: codescan.NewInferrer(cfg.Heuristics),
		logger:   logger.Named("detector"),
	}
}

// Detect runs every schema-vs-schema and code-vs-schema rule. Each rule is
// independent and additive. Duplicate-data probes live in DuplicateProber
// because they touch the database; everything here is a pure function of its
// inputs.
func (d *Detector) Detect(snap *schema.Snapshot, patterns map[string][]codescan.QueryPattern) []issue.Issue {
	var issues []issue.Issue

	issues = append(issues, d.detectTypeMismatches(snap)...)
	issues = append(issues, d.detectMissingFKIndexes(snap)...)
	issues = append(issues, d.detectMissingPrimaryKeys(snap)...)
	issues = append(issues, d.detectMissingTables(snap, patterns)...)
	issues = append(issues, d.detectMissingColumns(snap, patterns)...)

	d.logger.Info("detection complete", zap.Int("issues", len(issues)))
	return issues
}

// detectTypeMismatches flags foreign-key-shaped columns whose declared type
// disagrees with the key type of the table they point at.
func (d *Detector) detectTypeMismatches(snap *schema.Snapshot) []issue.Issue {
	var issues []issue.Issue

	for _, table := range snap.Tables {
		for _, col := range snap.Columns[table.Name] {
			base, ok := referencedTable(col.Name, snap)
			if !ok || base == table.Name {
				continue
			}

			keyType, ok := primaryKeyType(snap, base)
			if !ok {
				continue
			}

			if typeClass(col.DataType) == typeClass(keyType) {
				continue
			}

			target := normalizeDDLType(keyType)
			issues = append(issues, issue.Issue{
				Type:          issue.TypeMismatch,
				Severity:      issue.Critical,
				Table:         table.Name,
				Column:        col.Name,
				CurrentState:  fmt.Sprintf("%s.%s is %s", table.Name, col.Name, col.DataType),
				ExpectedState: fmt.Sprintf("%s to match %s key type %s", target, base, keyType),
				FixSQL:        d.alterColumnTypeSQL(table.Name, col.Name, target),
				CreatedAt:     time.Now(),
			})
		}
	}

	return issues
}

// detectMissingFKIndexes flags foreign key constraints whose leading column
// has no index, making referential checks and joins sequential scans.
func (d *Detector) detectMissingFKIndexes(snap *schema.Snapshot) []issue.Issue {
	var issues []issue.Issue

	for _, table := range snap.Tables {
		indexed := snap.IndexedColumns(table.Name)
		for _, con := range snap.Constraints[table.Name] {
			if con.Type != "FOREIGN KEY" || len(con.Columns) == 0 {
				continue
			}
			col := con.Columns[0]
			if indexed[col] {
				continue
			}

			issues = append(issues, issue.Issue{
				Type:          issue.MissingIndex,
				Severity:      issue.Medium,
				Table:         table.Name,
				Column:        col,
				CurrentState:  fmt.Sprintf("foreign key %s on %s.%s has no index", con.Name, table.Name, col),
				ExpectedState: fmt.Sprintf("index on %s.%s", table.Name, col),
				FixSQL:        d.createIndexSQL(table.Name, col),
				CreatedAt:     time.Now(),
			})
		}
	}

	return issues
}

// detectMissingPrimaryKeys flags tables with no primary key. No automatic
// fix: choosing the key column requires human judgment.
func (d *Detector) detectMissingPrimaryKeys(snap *schema.Snapshot) []issue.Issue {
	var issues []issue.Issue

	for _, table := range snap.Tables {
		if snap.HasPrimaryKey(table.Name) {
			continue
		}

		issues = append(issues, issue.Issue{
			Type:          issue.MissingPrimaryKey,
			Severity:      issue.High,
			Table:         table.Name,
			CurrentState:  fmt.Sprintf("table %s has no primary key", table.Name),
			ExpectedState: "every table carries a primary key",
			CreatedAt:     time.Now(),
		})
	}

	return issues
}

// detectMissingTables flags tables the corpus actively queries that do not
// exist, synthesizing a best-effort CREATE TABLE from aggregated patterns.
func (d *Detector) detectMissingTables(snap *schema.Snapshot, patterns map[string][]codescan.QueryPattern) []issue.Issue {
	var issues []issue.Issue

	for _, table := range sortedTables(patterns) {
		if snap.HasTable(table) {
			continue
		}

		pats := patterns[table]
		fixSQL, err := d.SynthesizeCreateTable(table, pats, snap)
		if err != nil {
			d.logger.Warn("table synthesis declined",
				zap.String("table", table), zap.Error(err))
			fixSQL = ""
		}

		issues = append(issues, issue.Issue{
			Type:          issue.MissingTable,
			Severity:      issue.Critical,
			Table:         table,
			CurrentState:  fmt.Sprintf("table %s does not exist", table),
			ExpectedState: fmt.Sprintf("table %s referenced by %d call sites", table, len(pats)),
			FixSQL:        fixSQL,
			AffectedFiles: patternFiles(pats),
			Queries:       patternQueries(pats),
			CreatedAt:     time.Now(),
		})
	}

	return issues
}

// detectMissingColumns flags code-referenced columns absent from an existing
// table, with an ADD COLUMN fix typed by majority vote across call sites.
func (d *Detector) detectMissingColumns(snap *schema.Snapshot, patterns map[string][]codescan.QueryPattern) []issue.Issue {
	var issues []issue.Issue

	for _, table := range sortedTables(patterns) {
		if !snap.HasTable(table) {
			continue
		}

		pats := patterns[table]
		for _, col := range sortedMissingColumns(snap, table, pats) {
			colType := majorityType(pats, col)
			issues = append(issues, issue.Issue{
				Type:          issue.MissingColumn,
				Severity:      issue.High,
				Table:         table,
				Column:        col,
				CurrentState:  fmt.Sprintf("%s has no column %s", table, col),
				ExpectedState: fmt.Sprintf("%s %s referenced by code", col, colType),
				FixSQL:        d.addColumnSQL(table, col, colType),
				AffectedFiles: patternFiles(pats),
				CreatedAt:     time.Now(),
			})
		}
	}

	return issues
}

func (d *Detector) alterColumnTypeSQL(table, column, target string) string {
	quotedTable, err := safety.QuoteIdentifier(table)
	if err != nil {
		return ""
	}
	quotedCol, err := safety.QuoteIdentifier(column)
	if err != nil {
		return ""
	}
	if !AllowedColumnType(target) {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		quotedTable, quotedCol, target, quotedCol, target)
}

func (d *Detector) createIndexSQL(table, column string) string {
	quotedTable, err := safety.QuoteIdentifier(table)
	if err != nil {
		return ""
	}
	quotedCol, err := safety.QuoteIdentifier(column)
	if err != nil {
		return ""
	}
	indexName, err := safety.QuoteIdentifier(fmt.Sprintf("idx_%s_%s", table, column))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, quotedTable, quotedCol)
}

func (d *Detector) addColumnSQL(table, column, colType string) string {
	quotedTable, err := safety.QuoteIdentifier(table)
	if err != nil {
		return ""
	}
	quotedCol, err := safety.QuoteIdentifier(column)
	if err != nil {
		return ""
	}
	if !AllowedColumnType(colType) {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", quotedTable, quotedCol, colType)
}

// referencedTable resolves a foreign-key-shaped column name ("user_id") to
// the snapshot table it points at ("users"), if one exists.
func referencedTable(column string, snap *schema.Snapshot) (string, bool) {
	if !strings.HasSuffix(column, "_id") || column == "_id" {
		return "", false
	}
	base := strings.TrimSuffix(column, "_id")

	for _, candidate := range []string{base + "s", base + "es", base} {
		if snap.HasTable(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// primaryKeyType returns the declared type of a table's single-column
// primary key.
func primaryKeyType(snap *schema.Snapshot, table string) (string, bool) {
	pk, ok := snap.PrimaryKeyOf(table)
	if !ok || len(pk.Columns) != 1 {
		return "", false
	}
	col, ok := snap.ColumnOf(table, pk.Columns[0])
	if !ok {
		return "", false
	}
	return col.DataType, true
}

// typeClass buckets declared types so that equivalent representations
// (integer vs bigint) do not raise false mismatches.
func typeClass(dataType string) string {
	t := strings.ToLower(dataType)
	switch {
	case strings.Contains(t, "int") || strings.Contains(t, "serial"):
		return "integer"
	case strings.Contains(t, "char") || t == "text":
		return "text"
	case strings.Contains(t, "uuid"):
		return "uuid"
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "real") || strings.Contains(t, "double"):
		return "numeric"
	case strings.Contains(t, "timestamp") || t == "date":
		return "timestamp"
	case strings.Contains(t, "bool"):
		return "boolean"
	default:
		return t
	}
}

// normalizeDDLType maps an introspected type to the name used in generated DDL.
func normalizeDDLType(dataType string) string {
	switch typeClass(dataType) {
	case "integer":
		return "integer"
	case "uuid":
		return "uuid"
	case "text":
		return "text"
	case "numeric":
		return "numeric(10,2)"
	case "timestamp":
		return "timestamptz"
	case "boolean":
		return "boolean"
	default:
		return strings.ToLower(dataType)
	}
}

// majorityType picks the most common inferred type for a column across every
// call site, with deterministic lexicographic tie-breaking.
func majorityType(pats []codescan.QueryPattern, column string) string {
	counts := make(map[string]int)
	for _, p := range pats {
		if t, ok := p.Columns[column]; ok && t != "" {
			counts[t]++
		}
	}
	if len(counts) == 0 {
		return "text"
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	best := types[0]
	for _, t := range types[1:] {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return best
}

func sortedTables(patterns map[string][]codescan.QueryPattern) []string {
	tables := make([]string, 0, len(patterns))
	for t := range patterns {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func sortedMissingColumns(snap *schema.Snapshot, table string, pats []codescan.QueryPattern) []string {
	missing := make(map[string]bool)
	for _, p := range pats {
		for col := range p.Columns {
			if _, ok := snap.ColumnOf(table, col); !ok {
				missing[col] = true
			}
		}
	}

	cols := make([]string, 0, len(missing))
	for c := range missing {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func patternFiles(pats []codescan.QueryPattern) []string {
	seen := make(map[string]bool)
	var files []string
	for _, p := range pats {
		if !seen[p.File] {
			seen[p.File] = true
			files = append(files, p.File)
		}
	}
	sort.Strings(files)
	return files
}

func patternQueries(pats []codescan.QueryPattern) []string {
	var queries []string
	for _, p := range pats {
		queries = append(queries, p.Query)
	}
	sort.Strings(queries)
	return queries
}
