package handler

import (
	"strconv"
	"time"

	"runbox/internal/relay/repository"
	"runbox/internal/relay/service"
	"runbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RelayController handles execution HTTP endpoints.
type RelayController struct {
	relayService *service.RelayService
}

// NewRelayController creates a new RelayController.
func NewRelayController(relayService *service.RelayService) *RelayController {
	return &RelayController{relayService: relayService}
}

// Run handles execution requests.
func (h *RelayController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.Language == "" && req.LanguageToken == "" {
		response.BadRequest(c, "language or language_token is required")
		return
	}

	res, err := h.relayService.Execute(c.Request.Context(), service.ExecuteInput{
		Language:      req.Language,
		LanguageToken: req.LanguageToken,
		Code:          req.Code,
		Stdin:         req.Stdin,
		Args:          req.Args,
		CompilerFlags: req.CompilerFlags,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, RunResponse{
		Output:   res.Output,
		TimedOut: res.TimedOut,
		RealTime: res.RealTime,
		UserTime: res.UserTime,
		SysTime:  res.SysTime,
		CPUShare: res.CPUShare,
		ExitCode: res.ExitCode,
	})
}

// Languages lists the supported language identifiers.
func (h *RelayController) Languages(c *gin.Context) {
	response.Success(c, LanguagesResponse{Languages: h.relayService.Languages()})
}

// Cancel aborts every in-flight execution.
func (h *RelayController) Cancel(c *gin.Context) {
	response.Success(c, CancelResponse{Canceled: h.relayService.CancelActive()})
}

// History returns a page of recorded executions, newest first.
func (h *RelayController) History(c *gin.Context) {
	page := parsePositive(c.DefaultQuery("page", "1"), 1)
	pageSize := parsePositive(c.DefaultQuery("page_size", "20"), 20)

	items, total, err := h.relayService.History(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	view := make([]HistoryItem, 0, len(items))
	for _, item := range items {
		view = append(view, newHistoryItem(item))
	}
	response.SuccessWithPagination(c, view, total, page, pageSize)
}

// Health reports liveness plus the number of in-flight runs.
func (h *RelayController) Health(c *gin.Context) {
	response.Success(c, HealthResponse{
		Status:     "ok",
		ActiveRuns: h.relayService.ActiveRuns(),
	})
}

func parsePositive(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func newHistoryItem(exec repository.Execution) HistoryItem {
	return HistoryItem{
		ExecutionID: exec.ExecutionID,
		Language:    exec.Language,
		Output:      exec.Output,
		ExitCode:    exec.ExitCode,
		TimedOut:    exec.TimedOut,
		RealTime:    exec.RealTime,
		UserTime:    exec.UserTime,
		SysTime:     exec.SysTime,
		CPUShare:    exec.CPUShare,
		CreatedAt:   exec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// RunRequest defines an execution payload.
type RunRequest struct {
	Language      string   `json:"language"`
	LanguageToken string   `json:"language_token"`
	Code          string   `json:"code" binding:"required"`
	Stdin         string   `json:"stdin"`
	Args          []string `json:"args"`
	CompilerFlags []string `json:"compiler_flags"`
	TimeoutMs     int64    `json:"timeout_ms"`
}

// RunResponse defines an execution response payload.
type RunResponse struct {
	Output   string  `json:"output"`
	TimedOut bool    `json:"timed_out"`
	RealTime float64 `json:"real_time"`
	UserTime float64 `json:"user_time"`
	SysTime  float64 `json:"sys_time"`
	CPUShare float64 `json:"cpu_share"`
	ExitCode int     `json:"exit_code"`
}

// LanguagesResponse lists supported language identifiers.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}

// CancelResponse reports how many runs were signalled.
type CancelResponse struct {
	Canceled int `json:"canceled"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

// HistoryItem is one recorded execution in a history page.
type HistoryItem struct {
	ExecutionID string  `json:"execution_id"`
	Language    string  `json:"language"`
	Output      string  `json:"output"`
	ExitCode    int     `json:"exit_code"`
	TimedOut    bool    `json:"timed_out"`
	RealTime    float64 `json:"real_time"`
	UserTime    float64 `json:"user_time"`
	SysTime     float64 `json:"sys_time"`
	CPUShare    float64 `json:"cpu_share"`
	CreatedAt   string  `json:"created_at"`
}
