package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, discard, or file path
}

// sink is the current destination. Level lives outside it in a LevelVar
// shared by every handler, so SetLevel never rebuilds the handler.
type sink struct {
	w      io.Writer
	file   *os.File // non-nil when w is a file opened by Init
	color  bool
	format string
}

var (
	level slog.LevelVar

	mu      sync.Mutex
	current = sink{w: os.Stderr, format: "text"}
	slogger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.color = isTerminal(os.Stderr.Fd())
	rebuildLocked()
}

// rebuildLocked installs a handler for current. Caller holds mu.
func rebuildLocked() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if current.format == "json" {
		h = slog.NewJSONHandler(current.w, opts)
	} else {
		h = NewColorTextHandler(current.w, opts, current.color)
	}
	slogger.Store(slog.New(h))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

// openOutput resolves an output name to a writer. The returned file is
// non-nil when the caller owns it.
func openOutput(name string) (io.Writer, *os.File, bool, error) {
	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nil, isTerminal(os.Stderr.Fd()), nil
	case "stdout":
		return os.Stdout, nil, isTerminal(os.Stdout.Fd()), nil
	case "discard":
		return io.Discard, nil, false, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, f, false, nil
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, f, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		mu.Lock()
		if current.file != nil {
			_ = current.file.Close()
		}
		current.w, current.file, current.color = w, f, color
		rebuildLocked()
		mu.Unlock()
	}
	SetLevel(cfg.Level)
	SetFormat(cfg.Format)
	return nil
}

// InitWithWriter sends output to w. Used by tests and embedding callers.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	mu.Lock()
	current.w, current.file, current.color = w, nil, enableColor
	rebuildLocked()
	mu.Unlock()
	SetLevel(lvl)
	SetFormat(format)
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := parseLevel(name); ok {
		level.Set(l)
	}
}

// CurrentLevel returns the minimum level name.
func CurrentLevel() string {
	return level.Level().String()
}

// SetFormat switches between "text" and "json". Other values are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if current.format != format {
		current.format = format
		rebuildLocked()
	}
}

func enabled(l slog.Level) bool { return l >= level.Level() }

func log(ctx context.Context, l slog.Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	args = appendContextFields(ctx, args)
	slogger.Load().Log(ctx, l, msg, args...)
}

// Debug logs at debug level. Args are alternating keys and values.
func Debug(msg string, args ...any) { log(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any) { log(context.Background(), slog.LevelInfo, msg, args) }

func Warn(msg string, args ...any) { log(context.Background(), slog.LevelWarn, msg, args) }

func Error(msg string, args ...any) { log(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level, prefixed with the fields of ctx's LogContext.
func DebugCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelDebug, msg, args) }

func InfoCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelInfo, msg, args) }

func WarnCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelWarn, msg, args) }

func ErrorCtx(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelError, msg, args) }

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	fields := []struct{ key, val string }{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyConnectionID, lc.ConnectionID},
		{KeySessionID, lc.SessionID},
		{KeyPrincipal, lc.Principal},
		{KeyPerformative, lc.Performative},
	}
	out := make([]any, 0, 2*len(fields)+len(args))
	for _, f := range fields {
		if f.val != "" {
			out = append(out, f.key, f.val)
		}
	}
	return append(out, args...)
}

// With returns a logger with args bound. It does not follow later
// SetFormat or Init calls.
func With(args ...any) *slog.Logger {
	return slogger.Load().With(args...)
}
