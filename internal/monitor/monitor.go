package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"schema-doctor/config"
	"schema-doctor/internal/codescan"
	"schema-doctor/internal/database"
	"schema-doctor/internal/detector"
	"schema-doctor/internal/fixer"
	"schema-doctor/internal/issue"
	"schema-doctor/internal/safety"
	"schema-doctor/internal/schema"
)

// RunState describes what the orchestrator is doing right now.
type RunState string

const (
	StateIdle     RunState = "IDLE"
	StateScanning RunState = "SCANNING"
	StateFixing   RunState = "FIXING"
)

const runsRegistryDDL = `
CREATE TABLE IF NOT EXISTS healing_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	issue_count INT NOT NULL,
	critical_count INT NOT NULL,
	fixes_applied INT NOT NULL,
	report JSONB NOT NULL
)`

// ScanResult is the outcome of one monitoring cycle.
type ScanResult struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Issues       []issue.Issue     `json:"issues"`
	Critical     []issue.Issue     `json:"critical"`
	Warnings     []issue.Issue     `json:"warnings"`
	FixResults   []issue.FixResult `json:"fix_results,omitempty"`
	FixesApplied int               `json:"fixes_applied"`
}

// StatusInfo is the externally visible orchestrator state.
type StatusInfo struct {
	State          RunState   `json:"state"`
	Running        bool       `json:"running"`
	LastScanAt     *time.Time `json:"last_scan_at,omitempty"`
	NextScanAt     *time.Time `json:"next_scan_at,omitempty"`
	OpenIssues     int        `json:"open_issues"`
	CriticalIssues int        `json:"critical_issues"`
	TotalFixes     int        `json:"total_fixes"`
}

// Monitor runs the scan/detect/fix cycle, either once on demand or on a
// periodic loop. One Monitor serializes its own cycles: a scan triggered
// while another is in flight is rejected rather than queued.
// issueFixer is the remediation seam the orchestrator drives.
type issueFixer interface {
	Fix(ctx context.Context, is issue.Issue) (*issue.FixResult, error)
}

type Monitor struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	analyzer *schema.Analyzer
	detect   *detector.Detector
	prober   *detector.DuplicateProber
	fix      issueFixer
	policy   *Policy
	state    *State
	logger   *zap.Logger

	mu         sync.Mutex
	runState   RunState
	lastResult *ScanResult
	lastScanAt time.Time
	totalFixes int
	running    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New wires the orchestrator from already constructed components.
func New(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		pool:     pool,
		analyzer: schema.NewAnalyzer(pool, cfg.Database.Schema, logger),
		detect:   detector.New(cfg, logger),
		prober:   detector.NewDuplicateProber(pool, cfg, logger),
		fix:      fixer.New(pool, cfg, logger),
		policy:   NewPolicy(cfg),
		state:    NewState(),
		logger:   logger,
		runState: StateIdle,
	}
}

// Status reports the current orchestrator state without blocking a running
// scan.
func (m *Monitor) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := StatusInfo{
		State:      m.runState,
		Running:    m.running,
		TotalFixes: m.totalFixes,
	}
	if !m.lastScanAt.IsZero() {
		t := m.lastScanAt
		info.LastScanAt = &t
		if m.running {
			next := t.Add(m.cfg.ScanInterval())
			info.NextScanAt = &next
		}
	}
	if m.lastResult != nil {
		info.OpenIssues = len(m.lastResult.Issues)
		info.CriticalIssues = len(m.lastResult.Critical)
	}
	return info
}

// LastResult returns the most recent completed cycle, or nil before the
// first scan.
func (m *Monitor) LastResult() *ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// RunScan executes one full cycle: snapshot and code scan in parallel,
// detection, duplicate probing, persistence, then policy-gated auto-fix of
// critical issues. Detection failures on auxiliary probes degrade to
// warnings; only a failed schema snapshot aborts the cycle.
func (m *Monitor) RunScan(ctx context.Context) (*ScanResult, error) {
	m.mu.Lock()
	if m.runState != StateIdle {
		m.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	m.runState = StateScanning
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.runState = StateIdle
		m.mu.Unlock()
	}()

	result := &ScanResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	var (
		wg         sync.WaitGroup
		snap       *schema.Snapshot
		snapErr    error
		castIssues []issue.Issue
		scanner    = codescan.NewScanner(m.cfg, m.logger)
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		snap, snapErr = m.analyzer.Snapshot(ctx)
	}()
	go func() {
		defer wg.Done()
		var err error
		castIssues, err = scanner.AnalyzeCodebase()
		if err != nil {
			m.logger.Warn("code scan failed, continuing with schema only", zap.Error(err))
		}
	}()
	wg.Wait()

	if snapErr != nil {
		return nil, fmt.Errorf("schema snapshot: %w", snapErr)
	}

	issues := m.detect.Detect(snap, scanner.Patterns())
	issues = append(issues, castIssues...)

	dupes, err := m.prober.Probe(ctx, snap)
	if err != nil {
		m.logger.Warn("duplicate probe incomplete", zap.Error(err))
	}
	issues = append(issues, dupes...)

	sort.Slice(issues, func(i, j int) bool { return issues[i].ID() < issues[j].ID() })
	result.Issues = issues
	for _, is := range issues {
		if is.Severity == issue.Critical {
			result.Critical = append(result.Critical, is)
		} else {
			result.Warnings = append(result.Warnings, is)
		}
	}

	m.logger.Info("scan complete",
		zap.String("run_id", result.RunID),
		zap.Int("issues", len(result.Issues)),
		zap.Int("critical", len(result.Critical)))

	m.autoFix(ctx, result)
	result.FinishedAt = time.Now()

	if err := m.persistRun(ctx, result); err != nil {
		m.logger.Warn("run persistence failed", zap.Error(err))
	}

	m.mu.Lock()
	m.lastResult = result
	m.lastScanAt = result.FinishedAt
	m.totalFixes += result.FixesApplied
	m.mu.Unlock()

	return result, nil
}

func (m *Monitor) autoFix(ctx context.Context, result *ScanResult) {
	// A stop request cancels the loop context, but an in-flight fix
	// transaction must reach commit or rollback on its own. Stop waits for
	// the cycle, so the detached context cannot outlive shutdown.
	fixCtx := context.WithoutCancel(ctx)

	for _, is := range result.Critical {
		if ctx.Err() != nil {
			return
		}
		cooldown, allowed := m.policy.Decide(is)
		if !allowed {
			continue
		}
		if !m.state.AllowAttempt(is.ID(), cooldown) {
			m.logger.Info("fix throttled",
				zap.String("issue_id", is.ID()),
				zap.String("table", is.Table))
			continue
		}

		m.mu.Lock()
		m.runState = StateFixing
		m.mu.Unlock()

		fr, err := m.fix.Fix(fixCtx, is)
		if fr != nil {
			result.FixResults = append(result.FixResults, *fr)
			if fr.Success {
				result.FixesApplied++
			}
		}
		if err != nil {
			m.logger.Error("auto-fix failed",
				zap.String("issue_id", is.ID()),
				zap.String("table", is.Table),
				zap.Error(err))
		}

		m.mu.Lock()
		m.runState = StateScanning
		m.mu.Unlock()
	}
}

func (m *Monitor) persistRun(ctx context.Context, result *ScanResult) error {
	if m.pool == nil {
		return database.ErrNoPool
	}
	if _, err := m.pool.Exec(ctx, runsRegistryDDL); err != nil {
		return fmt.Errorf("ensure healing_runs: %w", err)
	}
	report, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	_, err = m.pool.Exec(ctx,
		`INSERT INTO healing_runs (id, started_at, finished_at, issue_count, critical_count, fixes_applied, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.RunID, result.StartedAt, result.FinishedAt,
		len(result.Issues), len(result.Critical), result.FixesApplied, report)
	if err != nil {
		return fmt.Errorf("insert healing run: %w", err)
	}
	return nil
}

// FindIssue looks up an issue from the last scan by id.
func (m *Monitor) FindIssue(id string) (issue.Issue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastResult == nil {
		return issue.Issue{}, false
	}
	for _, is := range m.lastResult.Issues {
		if is.ID() == id {
			return is, true
		}
	}
	return issue.Issue{}, false
}

// FixIssue applies a fix for a previously detected issue on operator request.
// The severity/tier policy does not apply here, but the cooldown does, and
// issues without fix SQL are still refused.
func (m *Monitor) FixIssue(ctx context.Context, id string) (*issue.FixResult, error) {
	is, ok := m.FindIssue(id)
	if !ok {
		return nil, fmt.Errorf("issue %s not found in last scan", id)
	}
	if !is.AutoFixable() {
		return nil, fmt.Errorf("issue %s requires manual review", id)
	}

	cooldown := m.cfg.CriticalCooldown()
	if !m.state.AllowAttempt(id, cooldown) {
		return nil, fmt.Errorf("issue %s was attempted recently, retry after cooldown", id)
	}

	m.mu.Lock()
	m.runState = StateFixing
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.runState = StateIdle
		m.mu.Unlock()
	}()

	// Detached for the same reason as the scan loop: a dropped client
	// connection must not abort a fix statement mid-transaction.
	fr, err := m.fix.Fix(context.WithoutCancel(ctx), is)
	if fr != nil && fr.Success {
		m.mu.Lock()
		m.totalFixes++
		m.mu.Unlock()
	}
	return fr, err
}

// FixPreview describes what a fix would do without touching anything.
type FixPreview struct {
	IssueID       string `json:"issue_id"`
	Table         string `json:"table"`
	FixSQL        string `json:"fix_sql,omitempty"`
	Explanation   string `json:"explanation"`
	EstimatedRows int64  `json:"estimated_rows"`
	Risk          string `json:"risk"`
	Reversible    bool   `json:"reversible"`
	Downtime      string `json:"downtime"`
}

// PreviewFix builds a dry-run description of a fix, including a live row
// count of the affected table when it exists.
func (m *Monitor) PreviewFix(ctx context.Context, id string) (*FixPreview, error) {
	is, ok := m.FindIssue(id)
	if !ok {
		return nil, fmt.Errorf("issue %s not found in last scan", id)
	}

	preview := &FixPreview{
		IssueID: id,
		Table:   is.Table,
		FixSQL:  is.FixSQL,
	}
	preview.Explanation, preview.Risk, preview.Downtime, preview.Reversible = describeFix(is)

	if m.pool != nil {
		snap := m.analyzer.Last()
		if snap != nil && snap.HasTable(is.Table) {
			quoted, err := safety.QuoteIdentifier(is.Table)
			if err == nil {
				countCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := m.pool.QueryRow(countCtx,
					"SELECT COUNT(*) FROM "+quoted).Scan(&preview.EstimatedRows); err != nil {
					m.logger.Warn("row estimate failed", zap.String("table", is.Table), zap.Error(err))
				}
			}
		}
	}
	return preview, nil
}

func describeFix(is issue.Issue) (explanation, risk, downtime string, reversible bool) {
	switch is.Type {
	case issue.TypeMismatch:
		return fmt.Sprintf("Convert %s.%s from %s to %s. Existing rows are validated before conversion; non-conforming data aborts the fix.",
				is.Table, is.Column, is.CurrentState, is.ExpectedState),
			"medium", "table locked for the duration of the rewrite", true
	case issue.MissingTable:
		return fmt.Sprintf("Create table %s with columns inferred from application query patterns.", is.Table),
			"low", "none", true
	case issue.MissingColumn:
		return fmt.Sprintf("Add nullable column %s to %s. Existing rows are unaffected.", is.Column, is.Table),
			"low", "brief lock while the catalog updates", true
	case issue.MissingIndex:
		return fmt.Sprintf("Create an index on %s.%s to speed up foreign key lookups and joins.", is.Table, is.Column),
			"low", "writes blocked while the index builds", true
	case issue.MissingPrimaryKey:
		return fmt.Sprintf("Table %s has no primary key. Choosing a key column needs human judgment, so no automatic fix is offered.", is.Table),
			"manual", "n/a", false
	case issue.DuplicateData:
		return fmt.Sprintf("Table %s contains duplicate rows (%s). Deciding which rows to keep needs human judgment, so no automatic fix is offered.", is.Table, is.CurrentState),
			"manual", "n/a", false
	case issue.OrphanedData:
		return fmt.Sprintf("Remove rows in %s that reference missing parent rows. A backup copy is taken first.", is.Table),
			"high", "table locked while orphans are deleted", true
	case issue.TypeCastInQuery:
		return fmt.Sprintf("Application code in %s casts %s in SQL, hiding a schema type mismatch. Suggested code edits are recorded but never applied automatically.", strings.Join(is.AffectedFiles, ", "), is.Column),
			"manual", "n/a", false
	default:
		return "No description available for this issue type.", "unknown", "unknown", false
	}
}

// Start launches the periodic scan loop. It returns an error when the loop
// is already running.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.loopDone = make(chan struct{})
	m.running = true

	go m.loop(ctx)
	m.logger.Info("monitor started", zap.Duration("interval", m.cfg.ScanInterval()))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish. A fix
// transaction that already started runs to completion or rollback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.loopCancel
	done := m.loopDone
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.logger.Info("monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.loopDone)
	for {
		if _, err := m.RunScan(ctx); err != nil {
			m.logger.Error("scan cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ScanInterval()):
		}
	}
}
