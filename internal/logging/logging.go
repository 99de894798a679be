// Package logging owns the process-wide zerolog logger: one Init at
// startup builds the writer stack (stderr or a caller-supplied writer,
// optional console formatting, optional log file), and packages that
// want a tagged logger carve a child off the shared root with
// Component.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level re-exports zerolog's level type so callers can configure the
// logger without importing zerolog themselves.
type Level = zerolog.Level

// Levels accepted by Config.Level and returned by ParseLevel.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Logger is the process-wide root logger, replaced by each Init call.
var Logger zerolog.Logger

// Config describes the writer stack Init builds.
type Config struct {
	Level      Level
	Output     io.Writer // defaults to os.Stderr
	Pretty     bool      // human-readable console output instead of raw JSON
	TimeFormat string    // defaults to time.RFC3339
	LogToFile  bool      // additionally append to a timestamped log file
	LogDir     string    // directory for log files, defaults to os.TempDir()
}

func (c Config) withDefaults() Config {
	if c.Output == nil {
		c.Output = os.Stderr
	}
	if c.TimeFormat == "" {
		c.TimeFormat = time.RFC3339
	}
	if c.LogDir == "" {
		c.LogDir = os.TempDir()
	}
	return c
}

// DefaultConfig is stderr JSON at info level, no log file.
func DefaultConfig() Config {
	return Config{Level: InfoLevel}
}

var (
	fileMu  sync.Mutex
	logFile *os.File
)

// Init rebuilds the root Logger from cfg. Safe to call more than once;
// a log file opened by a previous Init is closed first.
func Init(cfg Config) {
	cfg = cfg.withDefaults()
	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := consoleWriter(cfg)
	if f := rotateLogFile(cfg); f != nil {
		out = zerolog.MultiLevelWriter(out, f)
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

func consoleWriter(cfg Config) io.Writer {
	if !cfg.Pretty {
		return cfg.Output
	}
	return zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
}

// rotateLogFile swaps the package's log file for a freshly created
// agentcore-<timestamp>.log under cfg.LogDir. Returns nil when file
// logging is off or the file cannot be created, leaving the console
// writer as the only output.
func rotateLogFile(cfg Config) *os.File {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if !cfg.LogToFile {
		return nil
	}

	name := "agentcore-" + time.Now().Format("20060102-150405") + ".log"
	f, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	logFile = f
	return f
}

// GetLogFilePath reports the active log file's path, or "" when no
// file is open.
func GetLogFilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// Close releases the log file, if one is open.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// ParseLevel maps a level name (case-insensitive; WARN and WARNING are
// both accepted) to a Level, defaulting to InfoLevel for anything
// unrecognized.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Component returns a child logger tagged with a component name, the
// shape every internal package logs with.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Debug starts a debug-level event on the root logger.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info-level event on the root logger.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn-level event on the root logger.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error-level event on the root logger.
func Error() *zerolog.Event { return Logger.Error() }

func init() {
	Init(DefaultConfig())
}
