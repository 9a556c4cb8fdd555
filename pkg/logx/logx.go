// Package logx provides component-scoped logging with session-aware debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes lines of the form "[ts] [component] LEVEL: message".
type Logger struct {
	component string
	sessionID string
	logger    *log.Logger
}

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled     bool
	FileLogging bool
	LogDir      string
	Domains     map[string]bool // nil enables every domain
}

// LogEntry is a captured log line served by the debug endpoint.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	SessionID string `json:"session_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

type ringBuffer struct {
	entries []LogEntry
	mu      sync.RWMutex
	maxSize int
}

type ctxKey int

const (
	sessionKey ctxKey = iota
	componentKey
)

//nolint:gochecknoglobals // process-wide logging state
var (
	debugConfig = &DebugConfig{}
	debugMu     sync.RWMutex

	output   io.Writer = os.Stderr
	outputMu sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env driven debug switches
	configureFromEnv()
}

func configureFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugConfig.Enabled = true
	}
	if v := os.Getenv("DEBUG_FILE"); v == "1" || strings.EqualFold(v, "true") {
		debugConfig.FileLogging = true
	}
	debugConfig.LogDir = "logs"
	if dir := os.Getenv("DEBUG_LOG_DIR"); dir != "" {
		debugConfig.LogDir = dir
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = parseDomains(strings.Split(domains, ","))
	}
}

func parseDomains(domains []string) map[string]bool {
	if len(domains) == 0 {
		return nil
	}
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			set[d] = true
		}
	}
	return set
}

// NewLogger creates a logger for a named component.
func NewLogger(component string) *Logger {
	return &Logger{component: component, logger: log.New(writer{}, "", 0)}
}

// writer resolves the shared output at write time so SetOutput affects existing loggers.
type writer struct{}

func (writer) Write(p []byte) (int, error) {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output.Write(p) //nolint:wrapcheck // passthrough
}

// SetOutput redirects all loggers. Tests use it to capture output.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// SetDebugConfig configures global debug logging settings.
func SetDebugConfig(enabled, fileLogging bool, logDir string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugConfig.Enabled = enabled
	debugConfig.FileLogging = fileLogging
	if logDir != "" {
		debugConfig.LogDir = logDir
	}
	if fileLogging {
		if err := os.MkdirAll(debugConfig.LogDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory %s: %v\n", debugConfig.LogDir, err)
		}
	}
}

// SetDebugDomains restricts debug output to the named domains. Empty enables all.
func SetDebugDomains(domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugConfig.Domains = parseDomains(domains)
}

func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain reports whether Debug output for domain is emitted.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (b *ringBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) filter(component string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		e := b.entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) && !strings.EqualFold(e.Domain, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampFormat, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// GetRecentLogEntries returns captured entries, optionally filtered by component or domain.
func GetRecentLogEntries(component string, since time.Time) []LogEntry {
	return buffer.filter(component, since)
}

func (l *Logger) emit(level Level, domain, message string) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	label := l.component
	if l.sessionID != "" {
		label = l.component + " " + l.sessionID
	}
	if domain != "" {
		l.logger.Printf("[%s] [%s] %s: [%s] %s", timestamp, label, level, domain, message)
	} else {
		l.logger.Printf("[%s] [%s] %s: %s", timestamp, label, level, message)
	}
	buffer.add(LogEntry{
		Timestamp: timestamp,
		Component: l.component,
		SessionID: l.sessionID,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.emit(LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.emit(LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.emit(LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.emit(LevelError, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Component() string { return l.component }

// WithSession returns a copy of the logger tagged with a session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{component: l.component, sessionID: sessionID, logger: l.logger}
}

// WithComponent returns a copy of the logger under a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, sessionID: l.sessionID, logger: l.logger}
}

// WithSessionID stores the session id on ctx for Debug and FromContext.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionIDFrom returns the session id carried on ctx, if any.
func SessionIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithComponentName stores a component name on ctx for Debug.
func WithComponentName(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FromContext returns a logger for component tagged with the session on ctx.
func FromContext(ctx context.Context, component string) *Logger {
	l := NewLogger(component)
	if id := SessionIDFrom(ctx); id != "" {
		return l.WithSession(id)
	}
	return l
}

// Debug logs a debug message filtered by domain.
//
//	DEBUG=1                              # all domains
//	DEBUG=1 DEBUG_DOMAINS=gateway,tools  # selected domains
//	DEBUG=1 DEBUG_FILE=1                 # also append to DEBUG_LOG_DIR/<domain>.log
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if c, ok := ctx.Value(componentKey).(string); ok && c != "" {
			component = c
		}
	}
	l := NewLogger(component).WithSession(SessionIDFrom(ctx))
	message := fmt.Sprintf(format, args...)
	l.emit(LevelDebug, domain, message)
	appendDebugFile(domain, component, message)
}

func appendDebugFile(domain, component, message string) {
	debugMu.RLock()
	fileLogging := debugConfig.FileLogging
	dir := debugConfig.LogDir
	debugMu.RUnlock()
	if !fileLogging {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	path := filepath.Join(dir, domain+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open debug log %s: %v\n", path, err)
		return
	}
	defer func() { _ = f.Close() }()
	fmt.Fprintf(f, "[%s] [%s] DEBUG: %s\n", time.Now().UTC().Format(timestampFormat), component, message)
}

//nolint:gochecknoglobals // default logger for package-level helpers
var defaultLogger = NewLogger("proxie")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
