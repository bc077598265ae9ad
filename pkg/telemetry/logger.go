package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level identifies the kind of a workflow log event. Beyond the usual
// severities, workflow runs emit two extra kinds: dry-run lines describing
// an action that was simulated instead of performed, and detect lines
// showing the fully resolved command a simulated action would have run.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warn"
	LevelError   Level = "error"
	LevelDryRun  Level = "dry-run"
	LevelDetect  Level = "detect"
)

// Logger is the dual-sink workflow logger. Every event is rendered once on
// the console and appended verbatim to the persistent log file. Writes to
// the file are unbuffered so a crash loses nothing already emitted, and a
// failing file sink silently degrades the logger to console-only.
type Logger struct {
	zl     zerolog.Logger
	config LoggingConfig
	file   *os.File
}

// NewLogger creates a logger from the given configuration. The log file is
// opened once, in append mode; if it cannot be opened the logger still
// works with the console sink alone.
func NewLogger(cfg LoggingConfig) *Logger {
	var console io.Writer = os.Stderr
	if cfg.ConsoleOutput == "stdout" {
		console = os.Stdout
	}
	return NewLoggerWithConsole(cfg, console)
}

// NewLoggerWithConsole creates a logger whose console sink is the given
// writer. The CLI passes the command's error stream; tests pass a buffer.
func NewLoggerWithConsole(cfg LoggingConfig, console io.Writer) *Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:         console,
		TimeFormat:  consoleTimeFormat(cfg.TimeFormat),
		NoColor:     cfg.NoColor,
		FormatLevel: formatLevel(cfg.NoColor),
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	default: // rfc3339
		zerolog.TimeFieldFormat = time.RFC3339
	}

	var sink io.Writer = consoleWriter
	var file *os.File
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			file = f
			sink = zerolog.MultiLevelWriter(consoleWriter, &failsafeWriter{w: f})
		}
	}

	zl := zerolog.New(sink).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))

	return &Logger{
		zl:     zl,
		config: cfg,
		file:   file,
	}
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{
		zl:     l.zl.With().Str("component", component).Logger(),
		config: l.config,
		file:   l.file,
	}
}

// Emit writes one event at the given level. Unknown levels fall back to
// info. Emit never returns an error.
func (l *Logger) Emit(level Level, msg string) {
	switch level {
	case LevelDebug:
		l.Debug(msg)
	case LevelWarning:
		l.Warn(msg)
	case LevelError:
		l.Error(msg)
	case LevelDryRun:
		l.DryRun(msg)
	case LevelDetect:
		l.Detect(msg)
	default:
		l.Info(msg)
	}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// DryRun logs a simulated action. Dry-run lines bypass the level filter so
// a preview is always complete.
func (l *Logger) DryRun(msg string) {
	l.emitKind(LevelDryRun, msg)
}

// DryRunf logs a formatted simulated action.
func (l *Logger) DryRunf(format string, args ...interface{}) {
	l.emitKind(LevelDryRun, fmt.Sprintf(format, args...))
}

// Detect logs the resolved command behind a simulated action, or a state
// detection result.
func (l *Logger) Detect(msg string) {
	l.emitKind(LevelDetect, msg)
}

// emitKind writes an event whose level field carries one of the extra
// workflow kinds. NoLevel events are not subject to level filtering, which
// keeps dry-run previews intact even at a raised log level.
func (l *Logger) emitKind(kind Level, msg string) {
	l.zl.WithLevel(zerolog.NoLevel).Str(zerolog.LevelFieldName, string(kind)).Msg(msg)
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger(), config: l.config, file: l.file}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zl:     l.zl.With().Interface(key, value).Logger(),
		config: l.config,
		file:   l.file,
	}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithWorkflow adds a workflow field to the logger.
func (l *Logger) WithWorkflow(workflow string) *Logger {
	return l.WithField("workflow", workflow)
}

// WithStep adds a step field to the logger.
func (l *Logger) WithStep(step string) *Logger {
	return l.WithField("step", step)
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zl:     l.zl.With().Err(err).Logger(),
		config: l.config,
		file:   l.file,
	}
}

// FilePath returns the persistent log file path, or "" when the file sink
// is disabled. Final reports point users here.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.config.FilePath
}

// Close releases the file sink. Safe on a console-only logger.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// failsafeWriter drops the file sink permanently after the first write
// error. A full disk or a revoked permission must never fail a run.
type failsafeWriter struct {
	w    io.Writer
	dead bool
}

func (f *failsafeWriter) Write(p []byte) (int, error) {
	if f.dead {
		return len(p), nil
	}
	if _, err := f.w.Write(p); err != nil {
		f.dead = true
	}
	return len(p), nil
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// consoleTimeFormat returns the timestamp layout for console output.
func consoleTimeFormat(format string) string {
	if format == "unix" {
		return zerolog.TimeFormatUnix
	}
	return time.RFC3339
}

// formatLevel renders the level column on the console, including the two
// workflow-specific kinds.
func formatLevel(noColor bool) zerolog.Formatter {
	return func(i interface{}) string {
		s, ok := i.(string)
		if !ok {
			return "???"
		}
		var label string
		var color int
		switch s {
		case zerolog.LevelDebugValue:
			label, color = "DBG", 33
		case zerolog.LevelInfoValue:
			label, color = "INF", 32
		case zerolog.LevelWarnValue:
			label, color = "WRN", 31
		case zerolog.LevelErrorValue:
			label, color = "ERR", 31
		case string(LevelDryRun):
			label, color = "DRY", 36
		case string(LevelDetect):
			label, color = "DET", 35
		default:
			label, color = strings.ToUpper(s), 37
			if len(label) > 3 {
				label = label[:3]
			}
		}
		if noColor {
			return label
		}
		return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, label)
	}
}
