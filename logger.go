package kvprobe

import (
	"io"
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler writing to w
// and configures the log level based on the KVPROBE_LOG_LEVEL environment variable.
// It defaults to Info level if not specified.
//
// The probe transcript goes to stdout, so callers normally pass os.Stderr here.
func ConfigureLogging(w io.Writer) {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("KVPROBE_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel sets the logging level for the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
