package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// dailyFile is a zapcore.WriteSyncer that reopens its file when the date changes.
type dailyFile struct {
	mu     sync.Mutex
	dir    string
	prefix string
	date   string
	file   *os.File
	now    func() time.Time
}

func (d *dailyFile) rotateIfNeeded() error {
	today := d.now().Format("2006-01-02")
	if d.date == today && d.file != nil {
		return nil
	}

	if d.file != nil {
		d.file.Close()
	}

	logPath := filepath.Join(d.dir, fmt.Sprintf("%s-%s.log", d.prefix, today))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	d.file = file
	d.date = today
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	sugar   = base.Sugar()
	logFile *dailyFile
)

// ParseLevel maps a config string onto a zap level. Unknown strings mean info.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// InitLogger sets up the global logger writing to stdout and a daily file in logDir.
func InitLogger(logDir, level string) error {
	if logDir == "" {
		logDir = "./logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	df := &dailyFile{dir: logDir, prefix: "ids-dashboard", now: time.Now}
	if err := df.rotateIfNeeded(); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	lvl := zap.NewAtomicLevelAt(ParseLevel(level))
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), df, lvl),
	)

	SetLogger(zap.New(core))
	mu.Lock()
	logFile = df
	mu.Unlock()
	return nil
}

// SetLogger replaces the global logger. Tests use it with zaptest-style observers.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()
}

// Logger returns the structured logger for fielded logs.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) { s().Debugf(format, args...) }

// Info logs an info message
func Info(format string, args ...interface{}) { s().Infof(format, args...) }

// Warn logs a warning message
func Warn(format string, args ...interface{}) { s().Warnf(format, args...) }

// Error logs an error message
func Error(format string, args ...interface{}) { s().Errorf(format, args...) }

// Close flushes and closes the log file.
func Close() {
	_ = Logger().Sync()
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
