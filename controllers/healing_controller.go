package controllers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"schema-doctor/internal/issue"
	"schema-doctor/internal/monitor"
)

type HealingController struct {
	monitor *monitor.Monitor
}

type FixRequest struct {
	IssueID string `json:"issue_id" validate:"required"`
}

type ScanResponse struct {
	Status string              `json:"status"`
	Error  string              `json:"error,omitempty"`
	Result *monitor.ScanResult `json:"result,omitempty"`
}

type IssuesSummary struct {
	Total        int            `json:"total"`
	Critical     int            `json:"critical"`
	Warnings     int            `json:"warnings"`
	AutoFixable  int            `json:"auto_fixable"`
	ManualReview int            `json:"manual_review"`
	ByType       map[string]int `json:"by_type"`
}

type IssuesResponse struct {
	Status  string                   `json:"status"`
	Error   string                   `json:"error,omitempty"`
	Summary *IssuesSummary           `json:"summary,omitempty"`
	Issues  map[string][]issue.Issue `json:"issues,omitempty"`
}

func NewHealingController(m *monitor.Monitor) *HealingController {
	return &HealingController{monitor: m}
}

// Status reports monitor state and last-scan counters.
func (hc *HealingController) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, hc.monitor.Status())
}

// Check runs one scan cycle synchronously.
func (hc *HealingController) Check(c echo.Context) error {
	result, err := hc.monitor.RunScan(c.Request().Context())
	if err != nil {
		code := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already in progress") {
			code = http.StatusConflict
		}
		return c.JSON(code, ScanResponse{Status: "error", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, ScanResponse{Status: "ok", Result: result})
}

// Start launches the periodic monitoring loop.
func (hc *HealingController) Start(c echo.Context) error {
	if err := hc.monitor.Start(); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "monitoring started",
	})
}

// Stop halts the loop, waiting for any in-flight cycle.
func (hc *HealingController) Stop(c echo.Context) error {
	hc.monitor.Stop()
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "monitoring stopped",
	})
}

// Issues returns the last scan's findings bucketed by issue type.
func (hc *HealingController) Issues(c echo.Context) error {
	result := hc.monitor.LastResult()
	if result == nil {
		return c.JSON(http.StatusOK, IssuesResponse{
			Status:  "ok",
			Summary: &IssuesSummary{ByType: map[string]int{}},
			Issues:  map[string][]issue.Issue{},
		})
	}

	byType := make(map[string][]issue.Issue)
	summary := IssuesSummary{
		Total:    len(result.Issues),
		Critical: len(result.Critical),
		Warnings: len(result.Warnings),
		ByType:   make(map[string]int),
	}
	for _, is := range result.Issues {
		key := string(is.Type)
		byType[key] = append(byType[key], is)
		summary.ByType[key]++
		if is.AutoFixable() {
			summary.AutoFixable++
		} else {
			summary.ManualReview++
		}
	}

	return c.JSON(http.StatusOK, IssuesResponse{
		Status:  "ok",
		Summary: &summary,
		Issues:  byType,
	})
}

// PreviewFix describes what a fix would do without executing it.
func (hc *HealingController) PreviewFix(c echo.Context) error {
	var req FixRequest
	if err := c.Bind(&req); err != nil || req.IssueID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "issue_id is required",
		})
	}

	preview, err := hc.monitor.PreviewFix(c.Request().Context(), req.IssueID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"preview": preview,
	})
}

// Fix applies a remediation on operator request. Issues without generated
// fix SQL are rejected, they need a human.
func (hc *HealingController) Fix(c echo.Context) error {
	var req FixRequest
	if err := c.Bind(&req); err != nil || req.IssueID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "issue_id is required",
		})
	}

	result, err := hc.monitor.FixIssue(c.Request().Context(), req.IssueID)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case strings.Contains(err.Error(), "not found"):
			code = http.StatusNotFound
		case strings.Contains(err.Error(), "manual review"),
			strings.Contains(err.Error(), "attempted recently"):
			code = http.StatusConflict
		}
		return c.JSON(code, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"result": result,
	})
}
