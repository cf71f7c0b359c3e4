package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/repositories"
	"github.com/clementinec/wrtvoice/internal/websocket"
	"github.com/clementinec/wrtvoice/usecase"
)

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	registry *usecase.Registry,
	archive repositories.TranscriptArchive,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"service":       "wrtvoice-server",
			"live_sessions": registry.Count(),
		})
	})

	v1 := e.Group("/api/v1")

	v1.POST("/sessions", func(c echo.Context) error {
		return startSession(c, registry, logger)
	})
	v1.DELETE("/sessions/:id", func(c echo.Context) error {
		return endSession(c, registry, logger)
	})
	v1.GET("/sessions", func(c echo.Context) error {
		return listSessions(c, archive, logger)
	})
	v1.GET("/sessions/:id", func(c echo.Context) error {
		return getSession(c, archive, logger)
	})

	// WebSocket endpoint; the session must exist before the socket opens.
	e.GET("/ws", func(c echo.Context) error {
		return openSessionSocket(hub, c, registry, logger)
	})
}

func startSession(c echo.Context, registry *usecase.Registry, logger *zap.Logger) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind start session request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	orch, greeting, err := registry.Start(c.Request().Context(), usecase.StartOptions{
		TranscriptionModel:   req.TranscriptionModel,
		PhraseTimeoutSeconds: req.PhraseTimeoutSeconds,
	})
	if err != nil {
		logger.Error("Failed to start session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_start_failed",
			Message: "Could not start a session",
		})
	}

	return c.JSON(http.StatusCreated, StartSessionResponse{
		SessionID:            orch.ID(),
		PhraseTimeoutSeconds: orch.PhraseTimeout().Seconds(),
		InitialMessage:       greeting,
	})
}

func endSession(c echo.Context, registry *usecase.Registry, logger *zap.Logger) error {
	id := c.Param("id")
	turns, err := registry.End(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "session_not_found",
				Message: "No live session with that ID",
			})
		}
		logger.Error("Failed to end session", zap.String("sessionID", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_end_failed",
			Message: "Could not end the session",
		})
	}

	return c.JSON(http.StatusOK, EndSessionResponse{
		SessionID: id,
		Turns:     turns,
	})
}

func listSessions(c echo.Context, archive repositories.TranscriptArchive, logger *zap.Logger) error {
	summaries, err := archive.List(c.Request().Context())
	if err != nil {
		logger.Error("Failed to list archived sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_list_failed",
			Message: "Could not list archived sessions",
		})
	}

	resp := ListSessionsResponse{Sessions: make([]SessionSummary, 0, len(summaries))}
	for _, s := range summaries {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			SessionID: s.SessionID,
			StartedAt: s.StartedAt,
			TurnCount: s.TurnCount,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func getSession(c echo.Context, archive repositories.TranscriptArchive, logger *zap.Logger) error {
	id := c.Param("id")
	record, err := archive.Load(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrTranscriptNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "transcript_not_found",
				Message: "No archived transcript with that ID",
			})
		}
		logger.Error("Failed to load transcript", zap.String("sessionID", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_load_failed",
			Message: "Could not load the transcript",
		})
	}
	return c.JSON(http.StatusOK, record)
}

// openSessionSocket attaches a WebSocket transport to a live session.
func openSessionSocket(hub *websocket.Hub, c echo.Context, registry *usecase.Registry, logger *zap.Logger) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_session_id",
			Message: "session_id query parameter is required",
		})
	}

	orch, ok := registry.Get(sessionID)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No live session with that ID",
		})
	}

	return websocket.HandleWebSocket(hub, c, orch, logger)
}
