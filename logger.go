package restcore

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging contract used for debug output.
// keysAndValues alternate key, value, key, value.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes leveled lines to the standard logger. Intended for
// examples and tests; production callers should prefer the zerolog adapter.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a console logger on stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.New(os.Stderr, "restcore ", log.LstdFlags)}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.print("DEBUG", msg, keysAndValues)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.print("INFO", msg, keysAndValues)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.print("WARN", msg, keysAndValues)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.print("ERROR", msg, keysAndValues)
}

func (l *SimpleLogger) print(level, msg string, keysAndValues []interface{}) {
	line := level + " " + msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Println(line)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface, mapping the
// alternating key/value pairs to structured fields.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Info(), msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Warn(), msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Error(), msg, keysAndValues)
}

func (l *ZerologLogger) emit(e *zerolog.Event, msg string, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		e = e.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	e.Msg(msg)
}

// DebugConfig selects which request lifecycle events are logged. Logging is
// entirely off unless Enabled is set and the client has a Logger.
type DebugConfig struct {
	Enabled       bool
	LogRequests   bool
	LogRetries    bool
	LogRateLimit  bool
	LogPool       bool
	LogCircuit    bool
	LogNormalizer bool
	// RequestIDGen produces the correlation ID attached to log lines and
	// terminal errors for one logical request.
	RequestIDGen func() string
}

// DefaultDebugConfig enables all event categories with UUID request IDs;
// callers still have to flip Enabled.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:   true,
		LogRetries:    true,
		LogRateLimit:  true,
		LogPool:       true,
		LogCircuit:    true,
		LogNormalizer: true,
		RequestIDGen:  uuid.NewString,
	}
}
