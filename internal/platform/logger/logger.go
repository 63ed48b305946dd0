package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger: JSON to stdout so log shippers can index
// the request_id and engagement_id attributes handlers attach.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
