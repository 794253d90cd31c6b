package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"schema-doctor/internal/issue"
	"schema-doctor/internal/monitor"
)

type REPL struct {
	scanner *bufio.Scanner
	monitor *monitor.Monitor
	running bool
}

func NewREPL(m *monitor.Monitor) *REPL {
	return &REPL{
		scanner: bufio.NewScanner(os.Stdin),
		monitor: m,
		running: true,
	}
}

func (r *REPL) Start() {
	fmt.Println("🩺 Schema Doctor CLI Started")
	fmt.Println("Commands: scan, issues, status, preview <id>, fix <id>, help, /end")
	fmt.Print("> ")

	for r.running && r.scanner.Scan() {
		input := strings.TrimSpace(r.scanner.Text())
		r.processCommand(input)

		if r.running {
			fmt.Print("> ")
		}
	}

	if err := r.scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func (r *REPL) processCommand(input string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "scan":
		r.runScan()
	case "issues":
		r.showIssues()
	case "status":
		r.showStatus()
	case "preview":
		if len(fields) < 2 {
			fmt.Println("usage: preview <issue-id>")
			return
		}
		r.previewFix(fields[1])
	case "fix":
		if len(fields) < 2 {
			fmt.Println("usage: fix <issue-id>")
			return
		}
		r.applyFix(fields[1])
	case "help":
		fmt.Println("Commands: scan, issues, status, preview <id>, fix <id>, help, /end")
	case "/end":
		fmt.Println("Goodbye! 👋")
		r.running = false
	default:
		fmt.Println("unsupported command, try 'help'")
	}
}

func (r *REPL) runScan() {
	fmt.Println("\n🔍 Scanning schema and codebase...")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := r.monitor.RunScan(ctx)
	if err != nil {
		fmt.Printf("Scan failed: %v\n", err)
		return
	}

	duration := time.Since(startTime)
	fmt.Printf("⏱️  Scan completed in %.2f seconds\n", duration.Seconds())
	r.displayScanResult(result)
}

func (r *REPL) displayScanResult(result *monitor.ScanResult) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("📊 SCHEMA HEALTH REPORT")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf("\n   Run ID: %s\n", result.RunID)
	fmt.Printf("   Issues: %d total (%d critical, %d warnings)\n",
		len(result.Issues), len(result.Critical), len(result.Warnings))

	if len(result.Critical) > 0 {
		fmt.Println("\n🚨 CRITICAL:")
		for _, is := range result.Critical {
			r.printIssue(is)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Println("\n⚠️  WARNINGS:")
		for _, is := range result.Warnings {
			r.printIssue(is)
		}
	}
	if len(result.FixResults) > 0 {
		fmt.Printf("\n🔧 FIXES APPLIED: %d\n", result.FixesApplied)
		for _, fr := range result.FixResults {
			status := "✅"
			if !fr.Success {
				status = "❌"
			}
			fmt.Printf("   %s %s\n", status, fr.IssueID)
			for _, action := range fr.ActionsTaken {
				fmt.Printf("      • %s\n", action)
			}
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
}

func (r *REPL) printIssue(is issue.Issue) {
	target := is.Table
	if is.Column != "" {
		target = fmt.Sprintf("%s.%s", is.Table, is.Column)
	}
	fmt.Printf("   • [%s] %s: %s\n", is.Type, target, is.CurrentState)
	fmt.Printf("     id: %s\n", is.ID())
}

func (r *REPL) showIssues() {
	result := r.monitor.LastResult()
	if result == nil {
		fmt.Println("No scan has run yet. Try 'scan' first.")
		return
	}
	r.displayScanResult(result)
}

func (r *REPL) showStatus() {
	info := r.monitor.Status()
	fmt.Printf("   State: %s\n", info.State)
	fmt.Printf("   Open issues: %d (%d critical)\n", info.OpenIssues, info.CriticalIssues)
	fmt.Printf("   Total fixes: %d\n", info.TotalFixes)
	if info.LastScanAt != nil {
		fmt.Printf("   Last scan: %s\n", info.LastScanAt.Format(time.RFC3339))
	}
}

func (r *REPL) previewFix(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	preview, err := r.monitor.PreviewFix(ctx, id)
	if err != nil {
		fmt.Printf("Preview failed: %v\n", err)
		return
	}

	fmt.Printf("\n   Table: %s (~%d rows)\n", preview.Table, preview.EstimatedRows)
	fmt.Printf("   Risk: %s, downtime: %s, reversible: %v\n",
		preview.Risk, preview.Downtime, preview.Reversible)
	fmt.Printf("   %s\n", preview.Explanation)
	if preview.FixSQL != "" {
		fmt.Printf("   SQL: %s\n", preview.FixSQL)
	}
}

func (r *REPL) applyFix(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := r.monitor.FixIssue(ctx, id)
	if err != nil {
		fmt.Printf("Fix failed: %v\n", err)
		return
	}

	if result.Success {
		fmt.Println("✅ Fix applied")
	} else {
		fmt.Println("❌ Fix rolled back")
	}
	for _, action := range result.ActionsTaken {
		fmt.Printf("   • %s\n", action)
	}
	for _, e := range result.Errors {
		fmt.Printf("   ! %s\n", e)
	}
	if result.BackupID != "" {
		fmt.Printf("   Backup: %s\n", result.BackupID)
	}
}
