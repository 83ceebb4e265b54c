// Package logging sets up the three reopenable zap file sinks
// access.log, event.log and beacon.log, plus a stderr process logger.
// Nothing in this module writes to the Event or Beacon loggers; those
// two files are created, reopened and flushed only. Mirrors the
// teacher's webserver.Server.Logger indirection, but with structured
// fields instead of a bare *log.Logger.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Loggers bundles the three named sinks plus a catch-all process logger.
type Loggers struct {
	mu sync.Mutex

	Process *zap.SugaredLogger
	Access  *zap.SugaredLogger
	Event   *zap.SugaredLogger
	Beacon  *zap.SugaredLogger

	dir   string
	level zapcore.Level

	access *os.File
	event  *os.File
	beacon *os.File
}

// New builds the logger bundle. dir is log.path from the config; level
// is one of error|warn|info|debug|trace (trace maps to zap's Debug,
// zap has no finer level).
func New(dir, level string) (*Loggers, error) {
	lvl := parseLevel(level)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	l := &Loggers{dir: dir, level: lvl}
	if err := l.openSinks(); err != nil {
		return nil, err
	}
	return l, nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "error":
		return zapcore.ErrorLevel
	case "warn":
		return zapcore.WarnLevel
	case "debug", "trace":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Loggers) openSinks() error {
	var err error
	if l.access, err = openAppend(filepath.Join(l.dir, "access.log")); err != nil {
		return err
	}
	if l.event, err = openAppend(filepath.Join(l.dir, "event.log")); err != nil {
		return err
	}
	if l.beacon, err = openAppend(filepath.Join(l.dir, "beacon.log")); err != nil {
		return err
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	l.Access = zap.New(zapcore.NewCore(enc, zapcore.AddSync(l.access), l.level)).Sugar()
	l.Event = zap.New(zapcore.NewCore(enc, zapcore.AddSync(l.event), l.level)).Sugar()
	l.Beacon = zap.New(zapcore.NewCore(enc, zapcore.AddSync(l.beacon), l.level)).Sugar()
	l.Process = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stderr), l.level)).Sugar()
	return nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Reopen closes and reopens the rotating file sinks in place, for
// external log rotation triggered by SIGUSR1.
func (l *Loggers) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.Access.Sync()
	_ = l.Event.Sync()
	_ = l.Beacon.Sync()
	for _, f := range []*os.File{l.access, l.event, l.beacon} {
		_ = f.Close()
	}
	return l.openSinks()
}

// Sync flushes all sinks; call during graceful shutdown.
func (l *Loggers) Sync() {
	_ = l.Process.Sync()
	_ = l.Access.Sync()
	_ = l.Event.Sync()
	_ = l.Beacon.Sync()
}
