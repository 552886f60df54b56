package api

import (
	"log/slog"
	"os"
)

// NewTestServer builds a server that only logs errors.
func NewTestServer(m Manager) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return NewServer(m, logger)
}
