package fixer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/database"
	"schema-doctor/internal/issue"
	"schema-doctor/internal/safety"
)

// allowedAlterTypes is the fixer's own allow-list for ALTER ... TYPE targets.
// The detector validates too; the fixer re-checks everything it executes.
var allowedAlterTypes = map[string]bool{
	"integer": true, "bigint": true, "smallint": true,
	"text": true, "uuid": true, "boolean": true,
	"timestamptz": true, "timestamp": true, "numeric(10,2)": true,
}

var alterTypeTargetRe = regexp.MustCompile(`(?i)\bTYPE\s+([a-z0-9(),]+)\s+USING\b`)

// backupper is what Fix needs from the backup layer.
type backupper interface {
	EnsureRegistry(ctx context.Context) error
	TableExists(ctx context.Context, table string) (bool, error)
	BackupTable(ctx context.Context, is issue.Issue) (backupID, backupTable string, err error)
}

// Fixer applies one issue's remediation inside a transaction, with a durable
// backup taken first and a full rollback on any failure.
type Fixer struct {
	pool    *pgxpool.Pool
	cfg     *config.Config
	backups backupper
	begin   func(ctx context.Context) (pgx.Tx, error)
	logger  *zap.Logger
}

// New creates a fixer sharing the service's connection pool.
func New(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) *Fixer {
	return &Fixer{
		pool:    pool,
		cfg:     cfg,
		backups: NewBackupManager(pool, cfg.Database.Schema, cfg.BackupRetention(), logger),
		begin: func(ctx context.Context) (pgx.Tx, error) {
			return pool.Begin(ctx)
		},
		logger: logger.Named("fixer"),
	}
}

// Fix applies the issue's remediation. The returned FixResult always reports
// what happened; the error return is reserved for refusals and pool-level
// failures where no attempt was made.
func (f *Fixer) Fix(ctx context.Context, is issue.Issue) (*issue.FixResult, error) {
	if f.pool == nil {
		return nil, database.ErrNoPool
	}
	if !is.AutoFixable() {
		return nil, fmt.Errorf("issue %s has no automated fix and requires manual review", is.ID())
	}

	result := &issue.FixResult{IssueID: is.ID()}

	if err := f.backups.EnsureRegistry(ctx); err != nil {
		return f.fail(result, err), nil
	}

	// Backup before the fix transaction so it survives a rollback. Skipped
	// when there is nothing to copy (no table, or the table does not exist
	// yet as with MISSING_TABLE).
	if is.Table != "" && is.Type != issue.MissingTable {
		exists, err := f.backups.TableExists(ctx, is.Table)
		if err != nil {
			return f.fail(result, err), nil
		}
		if exists {
			backupID, backupTable, err := f.backups.BackupTable(ctx, is)
			if err != nil {
				return f.fail(result, err), nil
			}
			result.BackupID = backupID
			result.RollbackAvailable = true
			result.ActionsTaken = append(result.ActionsTaken,
				fmt.Sprintf("backed up %s to %s", is.Table, backupTable))
		}
	}

	f.recordCodeEdits(is, result)

	tx, err := f.begin(ctx)
	if err != nil {
		return f.fail(result, fmt.Errorf("failed to begin transaction: %w", err)), nil
	}

	if err := f.applyFix(ctx, tx, is, result); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			f.logger.Error("rollback failed", zap.Error(rbErr))
		}
		result.ActionsTaken = append(result.ActionsTaken, "rolled back transaction")
		return f.fail(result, err), nil
	}

	if err := tx.Commit(ctx); err != nil {
		return f.fail(result, fmt.Errorf("failed to commit fix: %w", err)), nil
	}

	result.Success = true
	result.FinishedAt = time.Now()
	f.logger.Info("applied fix",
		zap.String("issue_id", is.ID()),
		zap.String("issue_type", string(is.Type)),
		zap.String("table", is.Table))

	return result, nil
}

// applyFix dispatches to the type-specific handler. Every handler validates
// its inputs again even though the detector already did.
func (f *Fixer) applyFix(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	switch is.Type {
	case issue.TypeMismatch:
		return f.fixTypeMismatch(ctx, tx, is, result)
	case issue.MissingTable:
		return f.fixMissingTable(ctx, tx, is, result)
	case issue.MissingColumn:
		return f.fixMissingColumn(ctx, tx, is, result)
	case issue.MissingIndex:
		return f.fixMissingIndex(ctx, tx, is, result)
	case issue.OrphanedData:
		return f.fixOrphanedData(ctx, tx, is, result)
	default:
		return fmt.Errorf("no automated handler for issue type %s", is.Type)
	}
}

// fixTypeMismatch re-validates the target type against the allow-list and,
// for integer targets, pre-flights that every stored value survives the cast.
func (f *Fixer) fixTypeMismatch(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	target, err := AlterTypeTarget(is.FixSQL)
	if err != nil {
		return err
	}

	if target == "integer" || target == "bigint" || target == "smallint" {
		quotedTable, err := safety.QuoteQualified(f.cfg.Database.Schema, is.Table)
		if err != nil {
			return err
		}
		quotedCol, err := safety.QuoteIdentifier(is.Column)
		if err != nil {
			return err
		}

		var unconvertible int64
		probe := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s::text !~ '^-?[0-9]+$'`,
			quotedTable, quotedCol, quotedCol)
		if err := tx.QueryRow(ctx, probe).Scan(&unconvertible); err != nil {
			return fmt.Errorf("cast pre-flight failed: %w", err)
		}
		if unconvertible > 0 {
			return fmt.Errorf("%d values in %s.%s cannot be cast to %s",
				unconvertible, is.Table, is.Column, target)
		}
		result.ActionsTaken = append(result.ActionsTaken,
			fmt.Sprintf("verified all %s.%s values cast cleanly to %s", is.Table, is.Column, target))
	}

	if _, err := tx.Exec(ctx, is.FixSQL); err != nil {
		return fmt.Errorf("type change failed: %w", err)
	}
	result.ActionsTaken = append(result.ActionsTaken,
		fmt.Sprintf("altered %s.%s to %s", is.Table, is.Column, target))
	return nil
}

func (f *Fixer) fixMissingTable(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	if err := ValidateStatementShape(is.FixSQL, "CREATE TABLE IF NOT EXISTS"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, is.FixSQL); err != nil {
		return fmt.Errorf("table creation failed: %w", err)
	}
	result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("created table %s", is.Table))
	return nil
}

func (f *Fixer) fixMissingColumn(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	if err := ValidateStatementShape(is.FixSQL, "ALTER TABLE"); err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(is.FixSQL), "ADD COLUMN") {
		return fmt.Errorf("missing-column fix is not an ADD COLUMN statement")
	}
	if _, err := tx.Exec(ctx, is.FixSQL); err != nil {
		return fmt.Errorf("column addition failed: %w", err)
	}
	result.ActionsTaken = append(result.ActionsTaken,
		fmt.Sprintf("added column %s.%s", is.Table, is.Column))
	return nil
}

func (f *Fixer) fixMissingIndex(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	if err := ValidateStatementShape(is.FixSQL, "CREATE INDEX IF NOT EXISTS"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, is.FixSQL); err != nil {
		return fmt.Errorf("index creation failed: %w", err)
	}
	result.ActionsTaken = append(result.ActionsTaken,
		fmt.Sprintf("created index on %s.%s", is.Table, is.Column))
	return nil
}

func (f *Fixer) fixOrphanedData(ctx context.Context, tx pgx.Tx, is issue.Issue, result *issue.FixResult) error {
	if err := ValidateStatementShape(is.FixSQL, "DELETE FROM"); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, is.FixSQL)
	if err != nil {
		return fmt.Errorf("orphan cleanup failed: %w", err)
	}
	result.ActionsTaken = append(result.ActionsTaken,
		fmt.Sprintf("removed %d orphaned rows from %s", tag.RowsAffected(), is.Table))
	return nil
}

// recordCodeEdits copies each affected source file aside and notes the
// suggested edits. Source changes are never applied automatically.
func (f *Fixer) recordCodeEdits(is issue.Issue, result *issue.FixResult) {
	if len(is.CodeEdits) == 0 {
		return
	}

	backupDir := filepath.Join(f.cfg.CodeScan.ProjectRoot, ".schema-doctor", "code_backups")
	stamp := time.Now().UTC().Format("20060102150405")

	for _, edit := range is.CodeEdits {
		src := filepath.Join(f.cfg.CodeScan.ProjectRoot, edit.File)
		content, err := os.ReadFile(src)
		if err != nil {
			f.logger.Warn("failed to back up source file for suggested edit",
				zap.String("file", edit.File), zap.Error(err))
			continue
		}

		dst := filepath.Join(backupDir, stamp+"_"+strings.ReplaceAll(edit.File, string(os.PathSeparator), "_"))
		if err := os.MkdirAll(backupDir, 0o755); err == nil {
			if err := os.WriteFile(dst, content, 0o644); err != nil {
				f.logger.Warn("failed to write code backup", zap.String("file", dst), zap.Error(err))
				continue
			}
		}

		result.ActionsTaken = append(result.ActionsTaken,
			fmt.Sprintf("recorded suggested edit for %s:%d (%s), original backed up", edit.File, edit.Line, edit.Description))
	}
}

func (f *Fixer) fail(result *issue.FixResult, err error) *issue.FixResult {
	result.Success = false
	result.Errors = append(result.Errors, err.Error())
	result.FinishedAt = time.Now()
	f.logger.Warn("fix attempt failed",
		zap.String("issue_id", result.IssueID),
		zap.Error(err))
	return result
}

// AlterTypeTarget extracts and validates the target type from an
// ALTER ... TYPE ... USING statement.
func AlterTypeTarget(fixSQL string) (string, error) {
	m := alterTypeTargetRe.FindStringSubmatch(fixSQL)
	if len(m) < 2 {
		return "", fmt.Errorf("fix SQL is not an ALTER TYPE statement")
	}
	target := strings.ToLower(strings.TrimSpace(m[1]))
	if !allowedAlterTypes[target] {
		return "", fmt.Errorf("target type %q is not on the allow-list", target)
	}
	return target, nil
}

// ValidateStatementShape checks that fix SQL starts with the expected verb
// and carries no statement terminators or comment markers.
func ValidateStatementShape(fixSQL, expectedPrefix string) error {
	trimmed := strings.TrimSpace(fixSQL)
	if !strings.HasPrefix(strings.ToUpper(trimmed), expectedPrefix) {
		return fmt.Errorf("fix SQL does not start with %s", expectedPrefix)
	}
	for _, token := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(trimmed, token) {
			return fmt.Errorf("fix SQL contains forbidden sequence %q", token)
		}
	}
	return nil
}
