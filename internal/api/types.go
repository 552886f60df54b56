package api

// EnqueueRequest names a registered job and its arguments. JSON numbers
// arrive as int64 when integral and float64 otherwise.
type EnqueueRequest struct {
	Func   string         `json:"func"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

type EnqueueResponse struct {
	Queue       string `json:"queue"`
	QueueLength int64  `json:"queue_length"`
}
