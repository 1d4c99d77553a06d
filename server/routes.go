package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/repnote/repnote/ai/agent"
	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/internal/version"
	"github.com/repnote/repnote/store"
)

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthz)
	if s.Exporter != nil {
		e.GET("/metrics", echo.WrapHandler(s.Exporter.Handler()))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/chat", s.chat)
	v1.GET("/messages", s.listMessages)
	v1.GET("/logs", s.listLogs)
	v1.DELETE("/logs", s.clearLogs)
	v1.GET("/personas", s.listPersonas)
}

type chatRequest struct {
	Text string `json:"text"`
	// Audio is a completed recording, base64-encoded, with its MIME type.
	Audio     string `json:"audio,omitempty"`
	AudioMIME string `json:"audio_mime_type,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Muted     bool   `json:"muted,omitempty"`
}

type chatResponse struct {
	Messages []store.ChatMessage `json:"messages"`
	// Audio is the synthesized reply, mp3-encoded, base64 on the wire.
	// Absent when the run was muted, speech is disabled, or synthesis failed.
	Audio []byte `json:"audio,omitempty"`
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var audio *llm.AudioPayload
	if req.Audio != "" {
		data, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "audio is not valid base64")
		}
		audio = &llm.AudioPayload{Data: data, MIMEType: req.AudioMIME}
	}

	if strings.TrimSpace(req.Text) == "" && audio == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "either text or audio is required")
	}

	result, accepted := s.Pipeline.Handle(c.Request().Context(), agent.Request{
		Text:      req.Text,
		Audio:     audio,
		PersonaID: req.Persona,
		Muted:     req.Muted,
	})
	if !accepted {
		// Single-flight: a run is already active and this input was dropped.
		return echo.NewHTTPError(http.StatusConflict, "another request is being processed")
	}

	return c.JSON(http.StatusOK, chatResponse{Messages: result.Messages, Audio: result.Audio})
}

func (s *Server) listMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"messages": s.Transcript.List()})
}

func (s *Server) listLogs(c echo.Context) error {
	logs := s.Store.ReadAll(c.Request().Context())
	if logs == nil {
		logs = []*store.WorkoutLog{}
	}
	return c.JSON(http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) clearLogs(c echo.Context) error {
	if err := s.Store.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear logs")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listPersonas(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"personas": s.Personas.List()})
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.GetCurrentVersion(s.Profile.Mode),
	})
}
