package fixer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/internal/issue"
	"schema-doctor/internal/safety"
)

const backupRegistryDDL = `
	CREATE TABLE IF NOT EXISTS healing_backups (
		backup_id    UUID PRIMARY KEY,
		backup_table TEXT NOT NULL,
		source_table TEXT NOT NULL,
		column_name  TEXT,
		issue_type   TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		retain_until TIMESTAMPTZ
	)
`

// BackupManager snapshots tables into backup copies before destructive fixes
// and records them in the registry. Backups are deliberately created outside
// the fix transaction so they survive a rollback. They are retained until an
// operator removes them; this service never deletes one.
type BackupManager struct {
	pool       *pgxpool.Pool
	schemaName string
	retention  time.Duration
	logger     *zap.Logger
}

// NewBackupManager creates a backup manager.
func NewBackupManager(pool *pgxpool.Pool, schemaName string, retention time.Duration, logger *zap.Logger) *BackupManager {
	return &BackupManager{
		pool:       pool,
		schemaName: schemaName,
		retention:  retention,
		logger:     logger.Named("backup"),
	}
}

// EnsureRegistry idempotently creates the backup registry table.
func (b *BackupManager) EnsureRegistry(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, backupRegistryDDL); err != nil {
		return fmt.Errorf("failed to create backup registry: %w", err)
	}
	return nil
}

// TableExists reports whether a table is present in the monitored schema.
func (b *BackupManager) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, b.schemaName, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return exists, nil
}

// BackupTable copies every row of the affected table into a timestamped
// backup table named deterministically from the issue id, and registers it.
func (b *BackupManager) BackupTable(ctx context.Context, is issue.Issue) (backupID, backupTable string, err error) {
	backupTable = fmt.Sprintf("backup_%s_%s_%s",
		is.Table, is.ID()[:8], time.Now().UTC().Format("20060102150405"))

	quotedBackup, err := safety.QuoteIdentifier(backupTable)
	if err != nil {
		return "", "", fmt.Errorf("unsafe backup table name: %w", err)
	}
	quotedSource, err := safety.QuoteQualified(b.schemaName, is.Table)
	if err != nil {
		return "", "", fmt.Errorf("unsafe source table name: %w", err)
	}

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quotedBackup, quotedSource)
	if _, err := b.pool.Exec(ctx, stmt); err != nil {
		return "", "", fmt.Errorf("failed to create backup table: %w", err)
	}

	backupID = uuid.NewString()
	_, err = b.pool.Exec(ctx, `
		INSERT INTO healing_backups (backup_id, backup_table, source_table, column_name, issue_type, retain_until)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		backupID, backupTable, is.Table, is.Column, string(is.Type), time.Now().Add(b.retention))
	if err != nil {
		return "", "", fmt.Errorf("failed to register backup: %w", err)
	}

	b.logger.Info("created backup table",
		zap.String("backup_table", backupTable),
		zap.String("source_table", is.Table),
		zap.String("backup_id", backupID))

	return backupID, backupTable, nil
}
