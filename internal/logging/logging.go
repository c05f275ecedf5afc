// Package logging provides the process-wide zap logger for the blobfm
// binaries, request-scoped loggers and HTTP access logging.
//
// Capability signatures travel in query strings, so nothing in this package
// ever logs a raw query: see RedactQuery.
package logging

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader is read from and echoed on every request.
const RequestIDHeader = "X-Request-ID"

// redacted replaces secret query values in logs.
const redacted = "REDACTED"

// secretParams are query parameters whose values are bearer credentials.
var secretParams = []string{"sig"}

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

var (
	global *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
	// Service is attached to every entry as "service" when set.
	Service string
}

// Init builds the global logger. Unknown levels fall back to info.
func Init(cfg Config) error {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	level = zap.NewAtomicLevelAt(lvl)
	zc.Level = level

	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}
	if cfg.Service != "" {
		zc.InitialFields = map[string]interface{}{"service": cfg.Service}
	}

	logger, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	global = logger
	return nil
}

// InitNop silences logging; used by tests and quiet CLI runs.
func InitNop() {
	global = zap.NewNop()
}

// Sync flushes buffered entries.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}

// SetLevel changes the level of the logger built by Init.
func SetLevel(l string) {
	var lvl zapcore.Level
	if lvl.UnmarshalText([]byte(l)) == nil {
		level.SetLevel(lvl)
	}
}

// L returns the global logger, building a production logger on first use.
func L() *zap.Logger {
	if global == nil {
		global, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return global
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// WithContext returns the logger stored in ctx, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return L()
}

// WithRequestID stores requestID and a logger carrying it in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return context.WithValue(ctx, loggerKey, WithContext(ctx).With(zap.String("request_id", requestID)))
}

// GetRequestID returns the request ID stored in ctx.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RedactQuery returns q with every capability signature replaced.
func RedactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = v
	}
	for _, p := range secretParams {
		if out.Has(p) {
			out.Set(p, redacted)
		}
	}
	return out.Encode()
}

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware assigns or propagates X-Request-ID and writes one access log
// entry per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := WithRequestID(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		WithContext(ctx).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", RedactQuery(r.URL.Query())),
			zap.Int("status", status),
			zap.Int64("size", rec.size),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// LeveledLogger adapts the global logger to key/value leveled logging
// interfaces such as retryablehttp.LeveledLogger.
type LeveledLogger struct {
	s *zap.SugaredLogger
}

// NewLeveledLogger returns a LeveledLogger named after component.
func NewLeveledLogger(component string) *LeveledLogger {
	return &LeveledLogger{s: S().Named(component)}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, redactValues(keysAndValues)...)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, redactValues(keysAndValues)...)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, redactValues(keysAndValues)...)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, redactValues(keysAndValues)...)
}

// redactValues strips signatures from URL values that HTTP client
// libraries pass as key/value pairs.
func redactValues(kv []interface{}) []interface{} {
	out := make([]interface{}, len(kv))
	for i, v := range kv {
		out[i] = v
		switch u := v.(type) {
		case *url.URL:
			c := *u
			c.RawQuery = RedactQuery(u.Query())
			out[i] = c.String()
		case string:
			if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" && parsed.Host != "" {
				parsed.RawQuery = RedactQuery(parsed.Query())
				out[i] = parsed.String()
			}
		}
	}
	return out
}
