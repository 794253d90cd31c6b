package detector

import (
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/codescan"
	"schema-doctor/internal/issue"
	"schema-doctor/internal/schema"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Database.URL = "postgres://test"
	cfg.Database.Schema = "public"
	cfg.Detector.SynthesisMinOccurrences = 3
	cfg.Detector.SynthesisBypassTables = []string{"payments"}
	cfg.Heuristics = config.HeuristicsConfig{
		SuffixTypes:    map[string]string{"_id": "integer", "_at": "timestamptz"},
		PrefixTypes:    map[string]string{"is_": "boolean"},
		KeywordTypes:   map[string]string{"price": "numeric(10,2)"},
		DefaultType:    "text",
		UniqueSuffixes: []string{"_key", "_token"},
		UniqueNames:    []string{"email"},
	}
	return cfg
}

func newTestDetector() *Detector {
	return New(testConfig(), zap.NewNop())
}

// snapshot with users(id integer PK) and sessions(user_id text).
func mismatchSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		Tables: []schema.Table{{Name: "sessions"}, {Name: "users"}},
		Columns: map[string][]schema.Column{
			"users":    {{Name: "id", DataType: "integer"}},
			"sessions": {{Name: "id", DataType: "integer"}, {Name: "user_id", DataType: "text"}},
		},
		Constraints: map[string][]schema.Constraint{
			"users":    {{Name: "users_pkey", Type: "PRIMARY KEY", Columns: []string{"id"}}},
			"sessions": {{Name: "sessions_pkey", Type: "PRIMARY KEY", Columns: []string{"id"}}},
		},
		Indexes: map[string][]schema.Index{},
	}
}

func TestDetectTypeMismatchOnForeignKeyShapedColumn(t *testing.T) {
	d := newTestDetector()
	issues := d.Detect(mismatchSnapshot(), nil)

	var mismatches []issue.Issue
	for _, is := range issues {
		if is.Type == issue.TypeMismatch {
			mismatches = append(mismatches, is)
		}
	}

	if len(mismatches) != 1 {
		t.Fatalf("got %d TYPE_MISMATCH issues, want 1: %+v", len(mismatches), issues)
	}

	m := mismatches[0]
	if m.Severity != issue.Critical {
		t.Errorf("severity = %s, want CRITICAL", m.Severity)
	}
	if m.Table != "sessions" || m.Column != "user_id" {
		t.Errorf("issue targets %s.%s, want sessions.user_id", m.Table, m.Column)
	}
	if !strings.Contains(m.FixSQL, `ALTER TABLE "sessions" ALTER COLUMN "user_id" TYPE integer USING "user_id"::integer`) {
		t.Errorf("unexpected fix SQL: %s", m.FixSQL)
	}
}

func TestDetectNoMismatchWhenTypesAgree(t *testing.T) {
	snap := mismatchSnapshot()
	snap.Columns["sessions"][1].DataType = "bigint" // same type class as integer

	d := newTestDetector()
	for _, is := range d.Detect(snap, nil) {
		if is.Type == issue.TypeMismatch {
			t.Errorf("unexpected TYPE_MISMATCH: %+v", is)
		}
	}
}

func TestDetectMissingFKIndexAndPrimaryKey(t *testing.T) {
	snap := &schema.Snapshot{
		Tables: []schema.Table{{Name: "orders"}},
		Columns: map[string][]schema.Column{
			"orders": {{Name: "user_id", DataType: "integer"}},
		},
		Constraints: map[string][]schema.Constraint{
			"orders": {{
				Name: "orders_user_fk", Type: "FOREIGN KEY",
				Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumn: "id",
			}},
		},
		Indexes: map[string][]schema.Index{},
	}

	d := newTestDetector()
	issues := d.Detect(snap, nil)

	byType := make(map[issue.Type]issue.Issue)
	for _, is := range issues {
		byType[is.Type] = is
	}

	missingIdx, ok := byType[issue.MissingIndex]
	if !ok {
		t.Fatal("expected MISSING_INDEX issue")
	}
	if !strings.Contains(missingIdx.FixSQL, `CREATE INDEX IF NOT EXISTS "idx_orders_user_id"`) {
		t.Errorf("unexpected index fix: %s", missingIdx.FixSQL)
	}

	missingPK, ok := byType[issue.MissingPrimaryKey]
	if !ok {
		t.Fatal("expected MISSING_PRIMARY_KEY issue")
	}
	if missingPK.FixSQL != "" {
		t.Errorf("missing primary key must not carry auto-fix SQL, got %s", missingPK.FixSQL)
	}
	if missingPK.Severity != issue.High {
		t.Errorf("severity = %s, want HIGH", missingPK.Severity)
	}
}

func TestPrimaryIndexSuppressesMissingPrimaryKey(t *testing.T) {
	// Constraint introspection degraded to nothing, but the index listing
	// still shows the primary key. That signal must suppress the report.
	snap := &schema.Snapshot{
		Tables: []schema.Table{{Name: "orders"}},
		Columns: map[string][]schema.Column{
			"orders": {{Name: "id", DataType: "integer"}},
		},
		Constraints: map[string][]schema.Constraint{},
		Indexes: map[string][]schema.Index{
			"orders": {{Name: "orders_pkey", Columns: []string{"id"}, Unique: true, Primary: true}},
		},
	}

	d := newTestDetector()
	for _, is := range d.Detect(snap, nil) {
		if is.Type == issue.MissingPrimaryKey {
			t.Errorf("reported missing primary key despite primary index: %s", is.CurrentState)
		}
	}
}

func walletPatterns(n int) map[string][]codescan.QueryPattern {
	pats := make([]codescan.QueryPattern, 0, n)
	for i := 0; i < n; i++ {
		pats = append(pats, codescan.QueryPattern{
			File:      "billing/wallet.go",
			Line:      10 + i,
			QueryType: codescan.QuerySelect,
			Table:     "wallet_ledger",
			Columns:   map[string]string{"credits": "integer", "user_id": "integer"},
			Query:     "SELECT credits FROM wallet_ledger WHERE user_id = $1",
		})
	}
	return map[string][]codescan.QueryPattern{"wallet_ledger": pats}
}

func TestDetectMissingTableWithSynthesis(t *testing.T) {
	snap := mismatchSnapshot()
	d := newTestDetector()

	issues := d.Detect(snap, walletPatterns(10))

	var missing *issue.Issue
	for i := range issues {
		if issues[i].Type == issue.MissingTable {
			missing = &issues[i]
		}
	}
	if missing == nil {
		t.Fatal("expected MISSING_TABLE issue for wallet_ledger")
	}
	if missing.Severity != issue.Critical {
		t.Errorf("severity = %s, want CRITICAL", missing.Severity)
	}

	fix := missing.FixSQL
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "wallet_ledger"`,
		`"id" SERIAL PRIMARY KEY`,
		`"credits" integer`,
		`"user_id" integer REFERENCES "users"("id")`,
	} {
		if !strings.Contains(fix, want) {
			t.Errorf("fix SQL missing %q:\n%s", want, fix)
		}
	}
}

func TestSynthesisDeclinesBelowThreshold(t *testing.T) {
	d := newTestDetector()
	snap := mismatchSnapshot()

	pats := walletPatterns(1)["wallet_ledger"]
	if _, err := d.SynthesizeCreateTable("wallet_ledger", pats, snap); err == nil {
		t.Error("expected synthesis to decline below the occurrence threshold")
	}
}

func TestSynthesisBypassTableMinimalColumns(t *testing.T) {
	d := newTestDetector()
	snap := &schema.Snapshot{Columns: map[string][]schema.Column{}, Constraints: map[string][]schema.Constraint{}, Indexes: map[string][]schema.Index{}}

	// Single reference, no extractable columns, but payments bypasses the
	// threshold: result must be a minimal valid table, never zero columns.
	pats := []codescan.QueryPattern{{
		File: "pay.go", QueryType: codescan.QuerySelect, Table: "payments",
		Columns: map[string]string{}, Query: "SELECT * FROM payments WHERE created_at > NOW()",
	}}

	stmt, err := d.SynthesizeCreateTable("payments", pats, snap)
	if err != nil {
		t.Fatalf("bypass table synthesis failed: %v", err)
	}
	if !strings.Contains(stmt, `"id" SERIAL PRIMARY KEY`) {
		t.Errorf("minimal synthesis lacks id column:\n%s", stmt)
	}
	if !strings.Contains(stmt, `"created_at" TIMESTAMPTZ`) {
		t.Errorf("query text suggests timestamps but created_at missing:\n%s", stmt)
	}
}

func TestSynthesisRejectsUnsafeNames(t *testing.T) {
	d := newTestDetector()
	snap := mismatchSnapshot()

	pats := []codescan.QueryPattern{
		{Table: "payments", Columns: map[string]string{"amount; drop table users": "integer"}},
		{Table: "payments", Columns: map[string]string{"amount; drop table users": "integer"}},
		{Table: "payments", Columns: map[string]string{"amount; drop table users": "integer"}},
	}

	if _, err := d.SynthesizeCreateTable("payments", pats, snap); err == nil {
		t.Error("expected rejection of unsafe column name")
	}
}

func TestDetectMissingColumn(t *testing.T) {
	snap := mismatchSnapshot()
	patterns := map[string][]codescan.QueryPattern{
		"users": {
			{File: "a.go", Columns: map[string]string{"credits": "integer"}},
			{File: "b.go", Columns: map[string]string{"credits": "integer"}},
			{File: "c.go", Columns: map[string]string{"credits": "text"}},
		},
	}

	d := newTestDetector()
	issues := d.Detect(snap, patterns)

	var missing *issue.Issue
	for i := range issues {
		if issues[i].Type == issue.MissingColumn && issues[i].Column == "credits" {
			missing = &issues[i]
		}
	}
	if missing == nil {
		t.Fatal("expected MISSING_COLUMN issue for users.credits")
	}
	if missing.Severity != issue.High {
		t.Errorf("severity = %s, want HIGH", missing.Severity)
	}
	// Majority vote across call sites: integer (2) beats text (1).
	if !strings.Contains(missing.FixSQL, `ADD COLUMN IF NOT EXISTS "credits" integer`) {
		t.Errorf("unexpected fix SQL: %s", missing.FixSQL)
	}
}

func TestDetectionIdempotence(t *testing.T) {
	d := newTestDetector()
	snap := mismatchSnapshot()
	patterns := walletPatterns(5)

	first := issueIDs(d.Detect(snap, patterns))
	second := issueIDs(d.Detect(snap, patterns))

	if len(first) == 0 {
		t.Fatal("expected at least one issue")
	}
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("detection not idempotent:\n%v\n%v", first, second)
	}
}

func issueIDs(issues []issue.Issue) []string {
	ids := make([]string, 0, len(issues))
	for _, is := range issues {
		ids = append(ids, is.ID())
	}
	sort.Strings(ids)
	return ids
}

func TestAllowedColumnType(t *testing.T) {
	allowed := []string{"integer", "bigint", "text", "boolean", "uuid", "jsonb", "timestamptz", "numeric(10,2)", "varchar(255)"}
	for _, typ := range allowed {
		if !AllowedColumnType(typ) {
			t.Errorf("AllowedColumnType(%q) = false, want true", typ)
		}
	}

	denied := []string{"", "integer; DROP TABLE x", "blob", "text)", "integer--"}
	for _, typ := range denied {
		if AllowedColumnType(typ) {
			t.Errorf("AllowedColumnType(%q) = true, want false", typ)
		}
	}
}

func TestOrphanSQLToleratesNullParentIDs(t *testing.T) {
	p := NewDuplicateProber(nil, testConfig(), zap.NewNop())

	sql, err := p.orphanSQL("DELETE FROM", "sessions", "user_id", "users")
	if err != nil {
		t.Fatalf("orphanSQL failed: %v", err)
	}

	// An anti-join keeps working when users.id contains NULLs, where
	// NOT IN would silently match nothing.
	want := `DELETE FROM "public"."sessions" WHERE "user_id" IS NOT NULL AND NOT EXISTS (SELECT 1 FROM "public"."users" AS parent WHERE parent."id" = "public"."sessions"."user_id")`
	if sql != want {
		t.Errorf("orphanSQL = %q, want %q", sql, want)
	}
}
