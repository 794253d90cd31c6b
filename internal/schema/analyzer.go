package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/internal/database"
)

// Analyzer extracts structural snapshots from the live database. Each of the
// six introspection queries is wrapped individually: losing one slice (for
// example on an older engine without a catalog view) degrades that slice to
// empty rather than aborting the scan.
type Analyzer struct {
	pool       *pgxpool.Pool
	schemaName string
	logger     *zap.Logger

	mu   sync.Mutex
	last *Snapshot
}

// NewAnalyzer creates a schema analyzer bound to one pg schema (usually "public").
func NewAnalyzer(pool *pgxpool.Pool, schemaName string, logger *zap.Logger) *Analyzer {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Analyzer{
		pool:       pool,
		schemaName: schemaName,
		logger:     logger.Named("schema-analyzer"),
	}
}

// Snapshot captures the current structure of the database. Connection-level
// failures propagate; per-slice failures degrade with a warning.
func (a *Analyzer) Snapshot(ctx context.Context) (*Snapshot, error) {
	if a.pool == nil {
		return nil, database.ErrNoPool
	}

	snap := &Snapshot{
		Columns:     make(map[string][]Column),
		Constraints: make(map[string][]Constraint),
		Indexes:     make(map[string][]Index),
		CapturedAt:  time.Now(),
	}

	tables, err := a.extractTables(ctx)
	if err != nil {
		// No table list means nothing else is worth introspecting.
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	snap.Tables = tables

	if snap.Columns, err = a.extractColumns(ctx); err != nil {
		a.logger.Warn("column introspection degraded", zap.Error(err))
		snap.Columns = make(map[string][]Column)
	}
	if snap.Constraints, err = a.extractConstraints(ctx); err != nil {
		a.logger.Warn("constraint introspection degraded", zap.Error(err))
		snap.Constraints = make(map[string][]Constraint)
	}
	if snap.Indexes, err = a.extractIndexes(ctx); err != nil {
		a.logger.Warn("index introspection degraded", zap.Error(err))
		snap.Indexes = make(map[string][]Index)
	}
	if snap.Routines, err = a.extractRoutines(ctx); err != nil {
		a.logger.Warn("routine introspection degraded", zap.Error(err))
		snap.Routines = nil
	}
	if snap.Triggers, err = a.extractTriggers(ctx); err != nil {
		a.logger.Warn("trigger introspection degraded", zap.Error(err))
		snap.Triggers = nil
	}

	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	a.logger.Info("captured schema snapshot",
		zap.Int("tables", len(snap.Tables)),
		zap.Int("routines", len(snap.Routines)),
		zap.Int("triggers", len(snap.Triggers)))

	return snap, nil
}

// Last returns the most recent snapshot captured by this analyzer, if any.
// The monitor reuses it within one scan cycle instead of re-introspecting.
func (a *Analyzer) Last() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Analyzer) extractTables(ctx context.Context) ([]Table, error) {
	query := `
		SELECT
			t.table_name,
			COALESCE(pg_get_userbyid(c.relowner), '') AS owner,
			COALESCE(pg_total_relation_size(c.oid), 0) AS size_bytes,
			COALESCE(obj_description(c.oid, 'pg_class'), '') AS comment
		FROM information_schema.tables t
		LEFT JOIN pg_class c ON c.relname = t.table_name
			AND c.relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = $1)
		WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_name
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Owner, &t.SizeBytes, &t.Comment); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	return tables, rows.Err()
}

func (a *Analyzer) extractColumns(ctx context.Context) (map[string][]Column, error) {
	query := `
		SELECT
			table_name,
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length,
			numeric_precision
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string][]Column)
	for rows.Next() {
		var tableName, nullable string
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &nullable,
			&col.DefaultValue, &col.MaxLength, &col.Precision); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		columns[tableName] = append(columns[tableName], col)
	}

	return columns, rows.Err()
}

func (a *Analyzer) extractConstraints(ctx context.Context) (map[string][]Constraint, error) {
	query := `
		SELECT
			tc.table_name,
			tc.constraint_name,
			tc.constraint_type,
			COALESCE(array_agg(kcu.column_name ORDER BY kcu.ordinal_position)
				FILTER (WHERE kcu.column_name IS NOT NULL), '{}') AS columns,
			COALESCE(MAX(ccu.table_name) FILTER (WHERE tc.constraint_type = 'FOREIGN KEY'), '') AS ref_table,
			COALESCE(MAX(ccu.column_name) FILTER (WHERE tc.constraint_type = 'FOREIGN KEY'), '') AS ref_column,
			COALESCE(MAX(rc.update_rule), '') AS update_rule,
			COALESCE(MAX(rc.delete_rule), '') AS delete_rule
		FROM information_schema.table_constraints tc
		LEFT JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		LEFT JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.constraint_schema = rc.constraint_schema
		WHERE tc.table_schema = $1
		GROUP BY tc.table_name, tc.constraint_name, tc.constraint_type
		ORDER BY tc.table_name, tc.constraint_name
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	constraints := make(map[string][]Constraint)
	for rows.Next() {
		var tableName string
		var c Constraint
		if err := rows.Scan(&tableName, &c.Name, &c.Type, &c.Columns,
			&c.ReferencedTable, &c.ReferencedColumn, &c.UpdateRule, &c.DeleteRule); err != nil {
			return nil, err
		}
		constraints[tableName] = append(constraints[tableName], c)
	}

	return constraints, rows.Err()
}

func (a *Analyzer) extractIndexes(ctx context.Context) (map[string][]Index, error) {
	query := `
		SELECT
			t.relname AS table_name,
			i.relname AS index_name,
			array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)) AS columns,
			ix.indisunique,
			ix.indisprimary
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r' AND n.nspname = $1
		GROUP BY t.relname, i.relname, ix.indisunique, ix.indisprimary
		ORDER BY t.relname, i.relname
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	indexes := make(map[string][]Index)
	for rows.Next() {
		var tableName string
		var idx Index
		if err := rows.Scan(&tableName, &idx.Name, &idx.Columns, &idx.Unique, &idx.Primary); err != nil {
			return nil, err
		}
		indexes[tableName] = append(indexes[tableName], idx)
	}

	return indexes, rows.Err()
}

func (a *Analyzer) extractRoutines(ctx context.Context) ([]Routine, error) {
	query := `
		SELECT routine_name, routine_type, COALESCE(data_type, '')
		FROM information_schema.routines
		WHERE routine_schema = $1
		ORDER BY routine_name
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routines []Routine
	for rows.Next() {
		var r Routine
		if err := rows.Scan(&r.Name, &r.Kind, &r.ReturnType); err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}

	return routines, rows.Err()
}

func (a *Analyzer) extractTriggers(ctx context.Context) ([]Trigger, error) {
	query := `
		SELECT trigger_name, event_object_table, event_manipulation,
			action_timing, COALESCE(action_statement, '')
		FROM information_schema.triggers
		WHERE trigger_schema = $1
		ORDER BY trigger_name
	`

	rows, err := a.pool.Query(ctx, query, a.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.Name, &t.Table, &t.Event, &t.Timing, &t.Statement); err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}

	return triggers, rows.Err()
}
