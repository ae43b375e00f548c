//go:build !tinygo

package logs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by Get.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Zap wraps zap's SugaredLogger for host processes.
type Zap struct {
	*zap.SugaredLogger
}

var (
	global *Zap
	once   sync.Once
)

// Get returns the process-wide host logger. The first call fixes the level.
func Get(level string) *Zap {
	once.Do(func() {
		global = NewZap(level)
	})
	return global
}

func toZapLevel(level string) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewZap builds a console logger on stderr.
func NewZap(level string) *Zap {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(toZapLevel(level)),
	)
	return &Zap{SugaredLogger: zap.New(core).Sugar()}
}

// WriteLineString lets the host board log into zap.
func (z *Zap) WriteLineString(s string) { z.Named("device").Info(s) }

func (z *Zap) WriteLineBytes(b []byte) { z.WriteLineString(string(b)) }
