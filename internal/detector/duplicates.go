package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/codescan"
	"schema-doctor/internal/database"
	"schema-doctor/internal/issue"
	"schema-doctor/internal/safety"
	"schema-doctor/internal/schema"
)

// systemColumns are excluded from whole-row duplication probes because they
// differ by construction.
var systemColumns = map[string]bool{
	"id": true, "created_at": true, "updated_at": true,
}

// DuplicateProber runs the data-level duplicate checks. These are the only
// detection paths that touch the database, so they live apart from the pure
// Detector and degrade per-probe on error.
type DuplicateProber struct {
	pool     *pgxpool.Pool
	cfg      *config.Config
	inferrer *codescan.Inferrer
	logger   *zap.Logger
}

// NewDuplicateProber creates a duplicate-data prober.
func NewDuplicateProber(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) *DuplicateProber {
	return &DuplicateProber{
		pool:     pool,
		cfg:      cfg,
		inferrer: codescan.NewInferrer(cfg.Heuristics),
		logger:   logger.Named("duplicate-prober"),
	}
}

// Probe checks declared unique constraints, convention-implied uniqueness and
// whole-row duplication. Every resulting issue carries no fix SQL: resolving
// duplicates is judgment-dependent and never safe to automate blindly.
func (p *DuplicateProber) Probe(ctx context.Context, snap *schema.Snapshot) ([]issue.Issue, error) {
	if p.pool == nil {
		return nil, database.ErrNoPool
	}

	var issues []issue.Issue
	probesLeft := p.cfg.Detector.MaxDuplicateProbes

	for _, table := range snap.Tables {
		probed := make(map[string]bool)

		// Declared unique constraints are violated-by-definition findings.
		for _, con := range snap.Constraints[table.Name] {
			if con.Type != "UNIQUE" || len(con.Columns) == 0 || probesLeft == 0 {
				continue
			}
			probesLeft--
			probed[strings.Join(con.Columns, ",")] = true

			count, err := p.duplicateGroups(ctx, table.Name, con.Columns)
			if err != nil {
				p.logger.Warn("duplicate probe failed",
					zap.String("table", table.Name), zap.Error(err))
				continue
			}
			if count > 0 {
				issues = append(issues, duplicateIssue(table.Name, con.Columns, count, issue.Critical,
					fmt.Sprintf("unique constraint %s is violated", con.Name)))
			}
		}

		// Convention-implied uniqueness, reported at lower confidence.
		for _, col := range snap.Columns[table.Name] {
			if probesLeft == 0 {
				break
			}
			if !p.inferrer.ShouldBeUnique(col.Name) || probed[col.Name] {
				continue
			}
			if hasUniqueGuarantee(snap, table.Name, col.Name) {
				continue
			}
			probesLeft--

			count, err := p.duplicateGroups(ctx, table.Name, []string{col.Name})
			if err != nil {
				p.logger.Warn("duplicate probe failed",
					zap.String("table", table.Name), zap.String("column", col.Name), zap.Error(err))
				continue
			}
			if count > 0 {
				issues = append(issues, duplicateIssue(table.Name, []string{col.Name}, count, issue.Medium,
					fmt.Sprintf("column %s is conventionally unique but has no constraint", col.Name)))
			}
		}

		// Whole-row duplication across non-system columns.
		if probesLeft > 0 {
			if cols := nonSystemColumns(snap, table.Name); len(cols) > 0 {
				probesLeft--
				count, err := p.duplicateGroups(ctx, table.Name, cols)
				if err != nil {
					p.logger.Warn("whole-row duplicate probe failed",
						zap.String("table", table.Name), zap.Error(err))
				} else if count > 0 {
					issues = append(issues, duplicateIssue(table.Name, cols, count, issue.Medium,
						"entire rows are duplicated"))
				}
			}
		}

		// FK-shaped columns without a declared constraint can hold orphans.
		for _, col := range snap.Columns[table.Name] {
			if probesLeft == 0 {
				break
			}
			parent, ok := referencedTable(col.Name, snap)
			if !ok || hasFKConstraint(snap, table.Name, col.Name) {
				continue
			}
			probesLeft--

			count, err := p.orphanCount(ctx, table.Name, col.Name, parent)
			if err != nil {
				p.logger.Warn("orphan probe failed",
					zap.String("table", table.Name), zap.String("column", col.Name), zap.Error(err))
				continue
			}
			if count > 0 {
				issues = append(issues, p.orphanIssue(table.Name, col.Name, parent, count))
			}
		}
	}

	return issues, nil
}

// orphanCount counts child rows whose FK-shaped value has no matching parent
// id.
func (p *DuplicateProber) orphanCount(ctx context.Context, table, column, parent string) (int64, error) {
	sql, err := p.orphanSQL("SELECT COUNT(*) FROM", table, column, parent)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := p.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *DuplicateProber) orphanSQL(verb, table, column, parent string) (string, error) {
	quotedTable, err := safety.QuoteQualified(p.cfg.Database.Schema, table)
	if err != nil {
		return "", err
	}
	quotedCol, err := safety.QuoteIdentifier(column)
	if err != nil {
		return "", err
	}
	quotedParent, err := safety.QuoteQualified(p.cfg.Database.Schema, parent)
	if err != nil {
		return "", err
	}
	// NOT EXISTS rather than NOT IN: a single NULL parent id makes
	// NOT IN match nothing.
	return fmt.Sprintf(
		"%s %s WHERE %s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s AS parent WHERE parent.\"id\" = %s.%s)",
		verb, quotedTable, quotedCol, quotedParent, quotedTable, quotedCol), nil
}

func (p *DuplicateProber) orphanIssue(table, column, parent string, count int64) issue.Issue {
	fixSQL, err := p.orphanSQL("DELETE FROM", table, column, parent)
	if err != nil {
		fixSQL = ""
	}
	return issue.Issue{
		Type:          issue.OrphanedData,
		Severity:      issue.High,
		Table:         table,
		Column:        column,
		CurrentState:  fmt.Sprintf("%d rows reference missing %s rows via %s", count, parent, column),
		ExpectedState: fmt.Sprintf("every non-null %s matches an id in %s", column, parent),
		FixSQL:        fixSQL,
		CreatedAt:     time.Now(),
	}
}

// hasFKConstraint reports whether a declared foreign key already covers the
// column, which makes orphans impossible.
func hasFKConstraint(snap *schema.Snapshot, table, column string) bool {
	for _, con := range snap.Constraints[table] {
		if con.Type == "FOREIGN KEY" && len(con.Columns) == 1 && con.Columns[0] == column {
			return true
		}
	}
	return false
}

// duplicateGroups counts value groups that occur more than once over the
// given column set.
func (p *DuplicateProber) duplicateGroups(ctx context.Context, table string, columns []string) (int64, error) {
	quotedTable, err := safety.QuoteQualified(p.cfg.Database.Schema, table)
	if err != nil {
		return 0, err
	}

	quotedCols := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted, err := safety.QuoteIdentifier(col)
		if err != nil {
			return 0, err
		}
		quotedCols = append(quotedCols, quoted)
	}
	colList := strings.Join(quotedCols, ", ")

	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) dup",
		colList, quotedTable, colList)

	var count int64
	if err := p.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func duplicateIssue(table string, columns []string, groups int64, severity issue.Severity, current string) issue.Issue {
	return issue.Issue{
		Type:          issue.DuplicateData,
		Severity:      severity,
		Table:         table,
		Column:        strings.Join(columns, ","),
		CurrentState:  fmt.Sprintf("%s (%d duplicated groups)", current, groups),
		ExpectedState: fmt.Sprintf("values of (%s) unique per row", strings.Join(columns, ", ")),
		CreatedAt:     time.Now(),
	}
}

// hasUniqueGuarantee reports whether a column is already covered by a unique
// constraint, a unique index, or the primary key.
func hasUniqueGuarantee(snap *schema.Snapshot, table, column string) bool {
	for _, con := range snap.Constraints[table] {
		if (con.Type == "UNIQUE" || con.Type == "PRIMARY KEY") &&
			len(con.Columns) == 1 && con.Columns[0] == column {
			return true
		}
	}
	for _, idx := range snap.Indexes[table] {
		if idx.Unique && len(idx.Columns) == 1 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}

func nonSystemColumns(snap *schema.Snapshot, table string) []string {
	var cols []string
	for _, col := range snap.Columns[table] {
		if !systemColumns[col.Name] {
			cols = append(cols, col.Name)
		}
	}
	return cols
}
