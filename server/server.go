// Package server exposes the journaling pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/repnote/repnote/ai/agent"
	"github.com/repnote/repnote/ai/metrics"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/internal/profile"
	"github.com/repnote/repnote/store"
)

type Server struct {
	e *echo.Echo

	Profile  *profile.Profile
	Store    *store.Store
	Pipeline *agent.Pipeline
	Personas *persona.Registry
	Exporter *metrics.Exporter

	// Transcript is the render sink: the ordered, append-only sequence of
	// chat messages produced by pipeline runs.
	Transcript *Transcript
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(_ context.Context, profile *profile.Profile, st *store.Store, pipeline *agent.Pipeline, personas *persona.Registry, transcript *Transcript, exporter *metrics.Exporter) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:          e,
		Profile:    profile,
		Store:      st,
		Pipeline:   pipeline,
		Personas:   personas,
		Exporter:   exporter,
		Transcript: transcript,
	}
	s.registerRoutes(e)
	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "addr", addr)
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	slog.Info("server stopped")
}
