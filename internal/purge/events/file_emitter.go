package events

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
)

const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10  // files
)

// FileEmitter appends one formatted line per event to a rotated file
type FileEmitter struct {
	writer    *lumberjack.Logger
	formatter *TemplateFormatter
	logger    *zap.Logger
}

// NewFileEmitter creates the audit file emitter
func NewFileEmitter(cfg configtypes.AuditLogConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory %s: %w", dir, err)
	}

	template := cfg.Template
	if template == "" {
		template = defaultTemplate
	}
	formatter, err := NewTemplateFormatter(template)
	if err != nil {
		return nil, fmt.Errorf("invalid template for audit log %s: %w", cfg.Path, err)
	}

	maxSize := cfg.Rotation.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	maxAge := cfg.Rotation.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	maxBackups := cfg.Rotation.MaxBackups
	if maxBackups == 0 {
		maxBackups = DefaultMaxBackups
	}

	return &FileEmitter{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxAge:     maxAge,
			MaxBackups: maxBackups,
			Compress:   cfg.Rotation.Compress,
		},
		formatter: formatter,
		logger:    logger,
	}, nil
}

// Emit writes the event. Write errors are logged, never returned.
func (f *FileEmitter) Emit(event *DispatchEvent) {
	line := f.formatter.Format(event)
	if _, err := f.writer.Write([]byte(line + "\n")); err != nil {
		f.logger.Warn("failed to write dispatch event to audit log",
			zap.Error(err),
			zap.String("request_id", event.RequestID))
	}
}

// Close closes the underlying file handle.
func (f *FileEmitter) Close() error {
	return f.writer.Close()
}
