package issue

import (
	"testing"
	"time"
)

func TestIDStableAcrossScans(t *testing.T) {
	first := Issue{
		Type:          TypeMismatch,
		Table:         "sessions",
		Column:        "user_id",
		CurrentState:  "text",
		ExpectedState: "integer",
		CreatedAt:     time.Now(),
	}
	second := first
	second.CreatedAt = first.CreatedAt.Add(5 * time.Minute)
	second.AffectedFiles = []string{"handlers/session.go"}

	if first.ID() != second.ID() {
		t.Error("identical issues from different scans should share an id")
	}
}

func TestIDDistinguishesIssues(t *testing.T) {
	base := Issue{Type: MissingColumn, Table: "users", Column: "credits"}

	variants := []Issue{
		{Type: MissingColumn, Table: "users", Column: "balance"},
		{Type: MissingColumn, Table: "wallets", Column: "credits"},
		{Type: MissingTable, Table: "users", Column: "credits"},
		{Type: MissingColumn, Table: "users", Column: "credits", ExpectedState: "integer"},
	}

	for _, v := range variants {
		if v.ID() == base.ID() {
			t.Errorf("issue %+v should not collide with base", v)
		}
	}
}

func TestAutoFixable(t *testing.T) {
	fixable := Issue{Type: MissingIndex, Table: "orders", FixSQL: "CREATE INDEX ..."}
	if !fixable.AutoFixable() {
		t.Error("issue with fix SQL should be auto-fixable")
	}

	manual := Issue{Type: DuplicateData, Table: "users"}
	if manual.AutoFixable() {
		t.Error("issue without fix SQL must never be auto-fixable")
	}
}
