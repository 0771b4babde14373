package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger: human-readable console output in
// development, JSON otherwise, with an optional rotating file sink.
func New(appEnv, logFile string) zerolog.Logger {
	var sink io.Writer = os.Stdout
	if logFile != "" {
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	if appEnv == "development" {
		sink = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.RFC3339}
	}

	return zerolog.New(sink).With().Timestamp().Logger()
}
