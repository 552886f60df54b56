package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/manager"
)

func (s *Server) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	queueName := r.PathValue("queue")

	var req EnqueueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Func == "" {
		http.Error(w, "func is required", http.StatusBadRequest)
		return
	}

	args, _ := Normalize(req.Args).([]any)
	opts := []manager.EnqueueOption{manager.InQueue(queueName)}
	if len(req.Kwargs) > 0 {
		kwargs, _ := Normalize(req.Kwargs).(map[string]any)
		opts = append(opts, manager.WithKwargs(kwargs))
	}

	length, err := s.Manager.Enqueue(r.Context(), req.Func, args, opts...)
	if err != nil {
		s.Logger.Warn("enqueue rejected",
			"queue", queueName,
			"func", req.Func,
			"error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("job enqueued",
		"queue", queueName,
		"func", req.Func,
		"queue_length", length)

	writeJSON(w, http.StatusCreated, EnqueueResponse{
		Queue:       queueName,
		QueueLength: length,
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Manager.Inspect(r.Context(), r.PathValue("queue"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.Manager.State()
	if state != manager.Started {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "%s\n", state)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\n")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, manager.ErrInvalidQueue):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotCallable), errors.Is(err, jobs.ErrArgumentMismatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Normalize turns json.Number leaves into int64 or float64 so arguments
// encode as the numeric kind their job parameters expect.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	}
	return v
}
