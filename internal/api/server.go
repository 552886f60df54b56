package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/manager"
)

// Manager is the part of *manager.Manager the HTTP surface needs.
type Manager interface {
	Enqueue(ctx context.Context, target any, args []any, opts ...manager.EnqueueOption) (int64, error)
	Inspect(ctx context.Context, queue string) (broker.Stats, error)
	State() manager.State
}

type Server struct {
	Manager Manager
	Logger  *slog.Logger
}

func NewServer(m Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Manager: m,
		Logger:  logger.With("component", "api"),
	}
}

// Routes registers the handlers on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("POST /queues/{queue}/jobs", s.HandleEnqueue)
	mux.HandleFunc("GET /queues/{queue}", s.HandleStats)
	return mux
}
