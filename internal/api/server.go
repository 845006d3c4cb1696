package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"standalone/internal/journal"
	"standalone/internal/service"
)

// StatusSource reports the orchestrator state.
type StatusSource interface {
	State() service.State
	Status() string
}

// HistorySource returns recorded transitions, newest first.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server serves the launcher endpoints mounted on the web container.
type Server struct {
	status  StatusSource
	history HistorySource
	metrics http.Handler
}

// NewServer creates the launcher API. history and metrics may be nil.
func NewServer(status StatusSource, history HistorySource, metrics http.Handler) *Server {
	return &Server{
		status:  status,
		history: history,
		metrics: metrics,
	}
}

// Register mounts /launcher/status, /launcher/history and /metrics.
func (s *Server) Register(r *gin.Engine) {
	launcher := r.Group("/launcher")
	{
		launcher.GET("/status", s.StatusHandler)
		launcher.GET("/history", s.HistoryHandler)
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
}
