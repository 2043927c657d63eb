package camrec

import (
	"log/slog"

	"github.com/gogpu/camrec/internal/logging"
)

// SetLogger configures the logger for camrec and all its sub-packages.
// By default, camrec produces no log output. Pass nil to restore the
// silent default.
//
// SetLogger is safe for concurrent use with logging from the render,
// recording and capture goroutines.
//
// Log levels used by camrec:
//   - [slog.LevelDebug]: per-frame diagnostics (dropped frames, ring allocations)
//   - [slog.LevelInfo]: lifecycle (preview, recording sessions, backend selected)
//   - [slog.LevelWarn]: degraded paths (stage link failure, encoder rejecting frames)
//
// Example:
//
//	camrec.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) { logging.Set(l) }

// Logger returns the current logger.
func Logger() *slog.Logger { return logging.Logger() }
