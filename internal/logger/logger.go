// Package logger: общий логгер сервиса поверх zap: префикс сервиса, уровни из LOG_LEVEL
// и логирование времени выполнения функций.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base   atomic.Pointer[zap.Logger]
	sugar  atomic.Pointer[zap.SugaredLogger]
	debug  atomic.Bool
	once   sync.Once
	prefix string
)

// slowCall: порог, начиная с которого DeferLogDuration пишет на уровне info.
const slowCall = 100 * time.Millisecond

// New строит JSON-логгер zap с заданным уровнем ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func initDefault() {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "":
		level = "info"
	case "trace":
		level = "debug"
	}
	l, err := New(level)
	if err != nil {
		l, _ = New("info")
	}
	install(l, level == "debug")
}

func install(l *zap.Logger, dbg bool) {
	if prefix != "" {
		l = l.With(zap.String("service", prefix))
	}
	base.Store(l)
	sugar.Store(l.Sugar())
	debug.Store(dbg)
}

func s() *zap.SugaredLogger {
	once.Do(func() {
		if sugar.Load() == nil {
			initDefault()
		}
	})
	return sugar.Load()
}

// SetPrefix задаёт имя сервиса (поле "service") для всех последующих логов.
func SetPrefix(p string) {
	prefix = p
	once.Do(func() {})
	if l := base.Load(); l != nil {
		install(l, debug.Load())
		return
	}
	initDefault()
}

// SetLevel пересобирает логгер с уровнем из конфигурации.
func SetLevel(level string) error {
	l, err := New(level)
	if err != nil {
		return err
	}
	once.Do(func() {})
	install(l, strings.EqualFold(level, "debug"))
	return nil
}

// Use подменяет backend (тесты передают zaptest.NewLogger(t)).
func Use(l *zap.Logger) {
	once.Do(func() {})
	base.Store(l)
	sugar.Store(l.Sugar())
	debug.Store(true)
}

// L возвращает структурный логгер для мест, где нужны поля.
func L() *zap.Logger {
	s()
	return base.Load()
}

// Sync сбрасывает буферы; вызывать перед выходом из процесса.
func Sync() {
	if l := base.Load(); l != nil {
		_ = l.Sync()
	}
}

func Info(v ...any) { s().Info(v...) }

func Infof(format string, v ...any) { s().Infof(format, v...) }

func Debugf(format string, v ...any) { s().Debugf(format, v...) }

func Error(v ...any) { s().Error(v...) }

func Errorf(format string, v ...any) { s().Errorf(format, v...) }

// LogDuration пишет имя функции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if !debug.Load() && elapsed < slowCall {
		return
	}
	L().Info("duration", zap.String("fn", fn), zap.Int64("duration_ms", elapsed.Milliseconds()))
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("chat.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
