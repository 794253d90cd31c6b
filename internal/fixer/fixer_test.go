package fixer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/issue"
)

func TestAlterTypeTarget(t *testing.T) {
	sql := `ALTER TABLE "sessions" ALTER COLUMN "user_id" TYPE integer USING "user_id"::integer`
	target, err := AlterTypeTarget(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != "integer" {
		t.Errorf("target = %q, want integer", target)
	}
}

func TestAlterTypeTargetRejectsUnlistedType(t *testing.T) {
	sql := `ALTER TABLE "t" ALTER COLUMN "c" TYPE bytea USING "c"::bytea`
	if _, err := AlterTypeTarget(sql); err == nil {
		t.Error("expected rejection of type outside the allow-list")
	}
}

func TestAlterTypeTargetRejectsNonAlter(t *testing.T) {
	if _, err := AlterTypeTarget("DROP TABLE users"); err == nil {
		t.Error("expected rejection of non-ALTER statement")
	}
}

func TestValidateStatementShape(t *testing.T) {
	valid := `CREATE TABLE IF NOT EXISTS "wallet_ledger" ("id" SERIAL PRIMARY KEY)`
	if err := ValidateStatementShape(valid, "CREATE TABLE IF NOT EXISTS"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cases := []struct {
		sql    string
		prefix string
	}{
		{`DROP TABLE users`, "CREATE TABLE IF NOT EXISTS"},
		{`CREATE TABLE IF NOT EXISTS t (id int); DROP TABLE users`, "CREATE TABLE IF NOT EXISTS"},
		{`CREATE TABLE IF NOT EXISTS t (id int) -- comment`, "CREATE TABLE IF NOT EXISTS"},
		{`CREATE TABLE IF NOT EXISTS t (id int) /* hidden */`, "CREATE TABLE IF NOT EXISTS"},
	}

	for _, c := range cases {
		if err := ValidateStatementShape(c.sql, c.prefix); err == nil {
			t.Errorf("ValidateStatementShape(%q) = nil, want error", c.sql)
		}
	}
}

func TestFixFailsFastWithoutPool(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Schema = "public"
	f := New(nil, cfg, zap.NewNop())

	dup := issue.Issue{Type: issue.DuplicateData, Table: "users", Column: "email"}
	if dup.AutoFixable() {
		t.Fatal("duplicate-data issue must not be auto-fixable")
	}

	if _, err := f.Fix(context.Background(), dup); err == nil {
		t.Error("expected Fix to fail fast without a pool")
	} else if !strings.Contains(err.Error(), "pool unavailable") {
		t.Errorf("unexpected error: %v", err)
	}
}

type fakeTx struct {
	execSQL    []string
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error        { t.rolledBack = true; return nil }
func (t *fakeTx) Conn() *pgx.Conn                           { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects            { return pgx.LargeObjects{} }

func (t *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.execSQL = append(t.execSQL, sql)
	return pgconn.NewCommandTag("ALTER TABLE"), nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

type stubBackups struct {
	backedUp bool
}

func (s *stubBackups) EnsureRegistry(ctx context.Context) error { return nil }

func (s *stubBackups) TableExists(ctx context.Context, table string) (bool, error) {
	return true, nil
}

func (s *stubBackups) BackupTable(ctx context.Context, is issue.Issue) (string, string, error) {
	s.backedUp = true
	return "backup-1", "backup_" + is.Table, nil
}

func newStubbedFixer(tx *fakeTx, backups *stubBackups) *Fixer {
	cfg := &config.Config{}
	cfg.Database.Schema = "public"
	return &Fixer{
		pool:    new(pgxpool.Pool),
		cfg:     cfg,
		backups: backups,
		begin:   func(ctx context.Context) (pgx.Tx, error) { return tx, nil },
		logger:  zap.NewNop(),
	}
}

func TestFixRollsBackWhenHandlerRejectsStatement(t *testing.T) {
	tx := &fakeTx{}
	backups := &stubBackups{}
	f := newStubbedFixer(tx, backups)

	// Shape validation inside the handler rejects this, forcing the
	// failure path after the backup and transaction begin.
	is := issue.Issue{
		Type:   issue.MissingColumn,
		Table:  "users",
		Column: "age",
		FixSQL: "DROP TABLE users",
	}

	result, err := f.Fix(context.Background(), is)
	if err != nil {
		t.Fatalf("Fix returned refusal error: %v", err)
	}
	if result.Success {
		t.Error("result reports success despite handler failure")
	}
	if !tx.rolledBack {
		t.Error("transaction was not rolled back")
	}
	if tx.committed {
		t.Error("transaction was committed on the failure path")
	}
	if len(tx.execSQL) != 0 {
		t.Errorf("rejected statement reached Exec: %v", tx.execSQL)
	}
	if len(result.Errors) == 0 {
		t.Error("failure was not recorded in result.Errors")
	}
	if !backups.backedUp || !result.RollbackAvailable {
		t.Error("backup should have completed before the failed transaction")
	}
	var sawRollback bool
	for _, a := range result.ActionsTaken {
		if a == "rolled back transaction" {
			sawRollback = true
		}
	}
	if !sawRollback {
		t.Errorf("rollback action missing from %v", result.ActionsTaken)
	}
}

func TestFixRollsBackWhenExecFails(t *testing.T) {
	tx := &fakeTx{execErr: errors.New("deadlock detected")}
	f := newStubbedFixer(tx, &stubBackups{})

	is := issue.Issue{
		Type:   issue.MissingColumn,
		Table:  "users",
		Column: "age",
		FixSQL: `ALTER TABLE "users" ADD COLUMN IF NOT EXISTS "age" integer`,
	}

	result, err := f.Fix(context.Background(), is)
	if err != nil {
		t.Fatalf("Fix returned refusal error: %v", err)
	}
	if result.Success || !tx.rolledBack || tx.committed {
		t.Errorf("success=%v rolledBack=%v committed=%v, want failure with rollback",
			result.Success, tx.rolledBack, tx.committed)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "deadlock") {
		t.Errorf("exec error not surfaced: %v", result.Errors)
	}
}

func TestFixCommitsOnSuccess(t *testing.T) {
	tx := &fakeTx{}
	f := newStubbedFixer(tx, &stubBackups{})

	is := issue.Issue{
		Type:   issue.MissingColumn,
		Table:  "users",
		Column: "age",
		FixSQL: `ALTER TABLE "users" ADD COLUMN IF NOT EXISTS "age" integer`,
	}

	result, err := f.Fix(context.Background(), is)
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if !result.Success || !tx.committed || tx.rolledBack {
		t.Errorf("success=%v committed=%v rolledBack=%v, want committed success",
			result.Success, tx.committed, tx.rolledBack)
	}
	if len(tx.execSQL) != 1 || tx.execSQL[0] != is.FixSQL {
		t.Errorf("executed %v, want the fix statement once", tx.execSQL)
	}
}
