package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // if running in debug mode

	logFile *os.File = nil

	// AdHocLogger can be used when creating a named logger is not worth it.
	AdHocLogger zerolog.Logger

	once sync.Once

	globalLogger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	AdHocLogger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ad-hoc-logger").Caller().Logger()
}

// GetLogger returns a child of the process-wide logger tagged with the given
// service name. The first caller decides the writer configuration; the
// service tag is per returned logger.
func GetLogger(serviceName string) zerolog.Logger {

	once.Do(func() {

		if !isDevelopment {
			globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
			return
		}

		// Set up zerolog for development mode (human-readable logs)
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}
		var w zerolog.LevelWriter
		if logFile != nil {
			w = zerolog.MultiLevelWriter(consoleWriter, logFile)
		} else {
			w = zerolog.MultiLevelWriter(consoleWriter)
		}
		globalLogger = zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Caller().Logger()
	})

	return globalLogger.With().Str("service", serviceName).Logger()
}

func SetDevelopment(value bool) {
	isDevelopment = value
}

func SetLogFile(file *os.File) {
	logFile = file
}
