package loom

import "log/slog"

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(slog.DiscardHandler)
