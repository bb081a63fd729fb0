package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/query"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/scoring"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http/handlers"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// selfAlias lets callers address their own records without knowing their ID.
const selfAlias = "me"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type startSessionRequest struct {
	ModuleID     string     `json:"moduleId"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type recordMetricsRequest struct {
	ExerciseID string             `json:"exerciseId"`
	Metrics    map[string]float64 `json:"metrics"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleStartSession starts a session now, or schedules it when scheduledFor is set.
func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.ModuleID) == "" {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_input", "moduleId is required")
		return
	}

	caller := handlers.CallerID(c)
	ctx := c.Request.Context()

	if req.ScheduledFor != nil {
		sess, err := s.deps.Lifecycle.Schedule(ctx, caller, req.ModuleID, *req.ScheduledFor)
		if err != nil {
			s.respondError(c, err)
			return
		}
		handlers.Respond(c, http.StatusCreated, sess)
		return
	}

	sess, err := s.deps.Lifecycle.Start(ctx, caller, req.ModuleID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusCreated, sess)
}

// handleListSessions returns the caller's sessions, newest first.
func (s *Server) handleListSessions(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	sessions, err := s.deps.Lifecycle.ListSessions(c.Request.Context(), handlers.CallerID(c), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.deps.Lifecycle.GetSession(c.Request.Context(), handlers.CallerID(c), c.Param("sessionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, sess)
}

func (s *Server) handleBeginSession(c *gin.Context) {
	sess, err := s.deps.Lifecycle.Begin(c.Request.Context(), handlers.CallerID(c), c.Param("sessionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, sess)
}

func (s *Server) handleRecordMetrics(c *gin.Context) {
	var req recordMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	sess, err := s.deps.Lifecycle.RecordMetrics(c.Request.Context(), handlers.CallerID(c), c.Param("sessionId"), req.ExerciseID, req.Metrics)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, sess)
}

// handleCompleteSession scores the session and applies it to the caller's progress.
func (s *Server) handleCompleteSession(c *gin.Context) {
	var perf scoring.Performance
	if err := c.ShouldBindJSON(&perf); err != nil {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	result, err := s.deps.Lifecycle.Complete(c.Request.Context(), handlers.CallerID(c), c.Param("sessionId"), perf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, result)
}

func (s *Server) handleAbandonSession(c *gin.Context) {
	sess, err := s.deps.Lifecycle.Abandon(c.Request.Context(), handlers.CallerID(c), c.Param("sessionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, sess)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetProgress(c *gin.Context) {
	userID, ok := s.ownUserID(c)
	if !ok {
		return
	}

	dto, err := s.deps.Progress.Handle(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, dto)
}

func (s *Server) handleGetCertifications(c *gin.Context) {
	userID, ok := s.ownUserID(c)
	if !ok {
		return
	}

	certs, err := s.deps.Certifications.Handle(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, certs)
}

// ownUserID resolves the :userId parameter and rejects other users' records.
func (s *Server) ownUserID(c *gin.Context) (string, bool) {
	caller := handlers.CallerID(c)
	userID := c.Param("userId")
	if userID == selfAlias {
		return caller, true
	}
	if userID != caller {
		s.respondError(c, shared.ErrProgressForbidden)
		return "", false
	}
	return userID, true
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListModules(c *gin.Context) {
	handlers.Respond(c, http.StatusOK, s.deps.Modules.Handle())
}

func (s *Server) handleGetModule(c *gin.Context) {
	def, err := s.deps.Modules.Get(c.Param("moduleId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, def)
}

func (s *Server) handleGetGuidance(c *gin.Context) {
	g, err := s.deps.Guidance.Handle(c.Request.Context(), handlers.CallerID(c), c.Param("moduleId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, g)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	result, err := s.deps.Leaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.respondError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, result)
}

// handleExportLeaderboard streams the leaderboard as an XLSX workbook.
func (s *Server) handleExportLeaderboard(c *gin.Context) {
	if s.deps.Flags != nil && s.deps.ExportFeature != "" &&
		!s.deps.Flags.IsEnabled(s.deps.ExportFeature, handlers.CallerID(c)) {
		handlers.AbortWithError(c, http.StatusNotFound, "not_found", "Route not found")
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	if limit == 0 {
		limit = query.MaxLeaderboardLimit
	}

	var buf bytes.Buffer
	if _, err := s.deps.Exporter.Export(c.Request.Context(), &buf, limit); err != nil {
		s.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("leaderboard-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// parseLimit reads ?limit=. Absent means 0; anything else must be a
// non-negative integer.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsPersistence(err):
		return http.StatusInternalServerError, "persistence_failure"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyCertified(err):
		return http.StatusConflict, "already_certified"
	case shared.IsInvalidState(err):
		return http.StatusConflict, "invalid_state"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as an error envelope. Server errors are logged
// and their details hidden from the caller.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.String("code", code),
			logger.Err(err),
		)
		if code == "internal_error" {
			message = "Internal server error"
		}
	}

	handlers.AbortWithError(c, status, code, message)
}
