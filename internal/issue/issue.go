package issue

import (
	"crypto/md5"
	"fmt"
	"strings"
	"time"
)

// Type classifies a detected schema discrepancy
type Type string

const (
	MissingTable      Type = "MISSING_TABLE"
	MissingColumn     Type = "MISSING_COLUMN"
	TypeMismatch      Type = "TYPE_MISMATCH"
	MissingIndex      Type = "MISSING_INDEX"
	MissingPrimaryKey Type = "MISSING_PRIMARY_KEY"
	OrphanedData      Type = "ORPHANED_DATA"
	DuplicateData     Type = "DUPLICATE_DATA"
	TypeCastInQuery   Type = "TYPE_CAST_IN_QUERY"
)

// Severity ranks how urgently an issue needs attention
type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
)

// CodeEdit is a suggested source-level change that accompanies an issue.
// Edits are recorded for human review and never applied automatically.
type CodeEdit struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Suggested   string `json:"suggested,omitempty"`
}

// Issue is one classified discrepancy between the live schema and what the
// code corpus or internal consistency rules expect
type Issue struct {
	Type          Type       `json:"issue_type"`
	Severity      Severity   `json:"severity"`
	Table         string     `json:"table"`
	Column        string     `json:"column,omitempty"`
	CurrentState  string     `json:"current_state"`
	ExpectedState string     `json:"expected_state"`
	FixSQL        string     `json:"fix_sql,omitempty"`
	AffectedFiles []string   `json:"affected_files,omitempty"`
	Queries       []string   `json:"queries,omitempty"`
	CodeEdits     []CodeEdit `json:"code_edits,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ID derives a stable content hash so that the same discrepancy reported
// across scans collapses to one identifier. Cooldown throttling keys on it.
func (i Issue) ID() string {
	fingerprint := strings.Join([]string{
		string(i.Type),
		i.Table,
		i.Column,
		i.CurrentState,
		i.ExpectedState,
	}, "|")
	return fmt.Sprintf("%x", md5.Sum([]byte(fingerprint)))
}

// AutoFixable reports whether this issue carries a machine-generated
// remediation. Issues without fix SQL require manual review.
func (i Issue) AutoFixable() bool {
	return i.FixSQL != ""
}

// FixResult records one remediation attempt. It is append-only history and
// never mutated after creation.
type FixResult struct {
	IssueID           string    `json:"issue_id"`
	Success           bool      `json:"success"`
	ActionsTaken      []string  `json:"actions_taken"`
	Errors            []string  `json:"errors,omitempty"`
	BackupID          string    `json:"backup_id,omitempty"`
	RollbackAvailable bool      `json:"rollback_available"`
	FinishedAt        time.Time `json:"finished_at"`
}
