package fluid

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/fluid/gpucore"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for fluid and for every device in use
// by a live pipeline. By default, fluid produces no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by fluid:
//   - [slog.LevelDebug]: buffer sizes, stage layouts, dispatch dimensions
//   - [slog.LevelInfo]: lifecycle events (device opened, pipeline built)
//   - [slog.LevelWarn]: non-fatal issues (CPU fallback, release errors)
//
// Example:
//
//	fluid.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	devicesMu.Lock()
	defer devicesMu.Unlock()
	for dev := range devices {
		propagateLogger(dev, l)
	}
}

// Logger returns the current logger used by fluid.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a device if it implements the
// loggerSetter interface.
func propagateLogger(dev gpucore.Device, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// devices counts the live pipelines per device so that SetLogger reaches
// every device in use.
var (
	devicesMu sync.Mutex
	devices   = make(map[gpucore.Device]int)
)

// attachDevice registers a device user and hands it the current logger.
func attachDevice(dev gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[dev] == 0 {
		propagateLogger(dev, Logger())
	}
	devices[dev]++
}

// detachDevice releases a registration made by attachDevice.
func detachDevice(dev gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[dev] <= 1 {
		delete(devices, dev)
		return
	}
	devices[dev]--
}
