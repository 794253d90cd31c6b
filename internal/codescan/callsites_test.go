package codescan

import (
	"testing"
)

func TestParseQuerySelect(t *testing.T) {
	parsed := ParseQuery("SELECT credits, user_id FROM wallet_ledger WHERE user_id = $1")

	if parsed.Type != QuerySelect {
		t.Errorf("type = %s, want SELECT", parsed.Type)
	}
	if parsed.Table != "wallet_ledger" {
		t.Errorf("table = %q, want wallet_ledger", parsed.Table)
	}
	for _, col := range []string{"credits", "user_id"} {
		if _, ok := parsed.Columns[col]; !ok {
			t.Errorf("missing column %q in %v", col, parsed.Columns)
		}
	}
}

func TestParseQueryInsertWithValueHints(t *testing.T) {
	parsed := ParseQuery("INSERT INTO sessions (user_id, started_at, active) VALUES (42, NOW(), TRUE)")

	if parsed.Type != QueryInsert {
		t.Errorf("type = %s, want INSERT", parsed.Type)
	}
	if parsed.Table != "sessions" {
		t.Errorf("table = %q, want sessions", parsed.Table)
	}

	want := map[string]string{
		"user_id":    "integer",
		"started_at": "timestamptz",
		"active":     "boolean",
	}
	for col, hint := range want {
		if got := parsed.Columns[col]; got != hint {
			t.Errorf("column %s hint = %q, want %q", col, got, hint)
		}
	}
}

func TestParseQueryUpdateSetClause(t *testing.T) {
	parsed := ParseQuery("UPDATE users SET email = 'x@y.com', updated_at = NOW() WHERE id = $1")

	if parsed.Type != QueryUpdate {
		t.Errorf("type = %s, want UPDATE", parsed.Type)
	}
	if parsed.Table != "users" {
		t.Errorf("table = %q, want users", parsed.Table)
	}
	if parsed.Columns["email"] != "text" {
		t.Errorf("email hint = %q, want text", parsed.Columns["email"])
	}
	if parsed.Columns["updated_at"] != "timestamptz" {
		t.Errorf("updated_at hint = %q, want timestamptz", parsed.Columns["updated_at"])
	}
	if _, ok := parsed.Columns["id"]; !ok {
		t.Error("WHERE predicate column id not extracted")
	}
}

func TestParseQueryParameterizedGivesNoHint(t *testing.T) {
	parsed := ParseQuery("SELECT id FROM users WHERE token = $1")
	if hint := parsed.Columns["token"]; hint != "" {
		t.Errorf("parameterized predicate should give empty hint, got %q", hint)
	}
}

func TestParseQueryUUIDHint(t *testing.T) {
	parsed := ParseQuery("UPDATE accounts SET external_ref = gen_random_uuid() WHERE id = 1")
	if hint := parsed.Columns["external_ref"]; hint != "uuid" {
		t.Errorf("external_ref hint = %q, want uuid", hint)
	}
}

func TestParseQueryWhereFunctionCallHint(t *testing.T) {
	parsed := ParseQuery("SELECT id FROM users WHERE last_seen > NOW() AND active = TRUE")

	if hint := parsed.Columns["last_seen"]; hint != "timestamptz" {
		t.Errorf("last_seen hint = %q, want timestamptz", hint)
	}
	if hint := parsed.Columns["active"]; hint != "boolean" {
		t.Errorf("active hint = %q, want boolean", hint)
	}
}

func TestExtractGoCallSites(t *testing.T) {
	src := []byte(`package handlers

import "database/sql"

func load(db *sql.DB, id int) error {
	row := db.QueryRow("SELECT credits FROM wallet_ledger WHERE user_id = $1", id)
	_ = row
	_, err := db.Exec("UPDATE users SET active = TRUE WHERE id = $1", id)
	return err
}
`)

	sites, err := extractGoCallSites("handlers/load.go", src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("got %d call sites, want 2", len(sites))
	}
	if sites[0].Line != 6 {
		t.Errorf("first site line = %d, want 6", sites[0].Line)
	}
}

func TestExtractGoCallSitesSkipsNonSQL(t *testing.T) {
	src := []byte(`package handlers

func f(m map[string]func(string) error) error {
	return m["Query"]("not sql at all")
}
`)

	sites, err := extractGoCallSites("handlers/f.go", src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(sites) != 0 {
		t.Errorf("got %d call sites, want 0", len(sites))
	}
}

func TestRegexFallbackFindsQueries(t *testing.T) {
	src := []byte(`import psycopg2

def load(conn, user_id):
    cur = conn.cursor()
    cur.execute("SELECT credits FROM wallet_ledger WHERE user_id = %s", (user_id,))
    return cur.fetchone()
`)

	sites := extractRegexCallSites(src)
	if len(sites) != 1 {
		t.Fatalf("got %d sites, want 1", len(sites))
	}
	if sites[0].Line != 5 {
		t.Errorf("line = %d, want 5", sites[0].Line)
	}
	parsed := ParseQuery(sites[0].Query)
	if parsed.Table != "wallet_ledger" {
		t.Errorf("table = %q, want wallet_ledger", parsed.Table)
	}
}

func TestFindUserIDCasts(t *testing.T) {
	casts := FindUserIDCasts("SELECT * FROM sessions WHERE user_id::integer = $1")
	if len(casts) != 1 {
		t.Fatalf("got %d casts, want 1", len(casts))
	}
	if casts[0].Column != "user_id" || casts[0].TargetType != "integer" {
		t.Errorf("cast = %+v", casts[0])
	}

	if got := FindUserIDCasts("SELECT * FROM sessions WHERE status = 'x'"); len(got) != 0 {
		t.Errorf("expected no casts, got %v", got)
	}
}
