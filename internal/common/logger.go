package common

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	defaultTimeFormat = "15:04:05"
	logFileName       = "waypoint.log"
	logFileMaxBytes   = 100 * 1024 * 1024
	logFileBackups    = 3
)

// SetupLogger builds the arbor logger described by the [logging] section.
// Console output is used when no file writer could be attached.
func SetupLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}

	outputs := config.Logging.Output
	wantFile := slices.Contains(outputs, "file")
	wantConsole := slices.Contains(outputs, "stdout") || slices.Contains(outputs, "console")

	logger := arbor.NewLogger()

	fileAttached := false
	if wantFile {
		dir, err := logDir(config.Logging.Dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, logFileName),
				TimeFormat: timeFormat,
				MaxSize:    logFileMaxBytes,
				MaxBackups: logFileBackups,
				TextOutput: true,
			})
			fileAttached = true
		}
	}

	if wantConsole || !fileAttached {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: timeFormat,
			TextOutput: true,
		})
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

// logDir resolves and creates the directory for the log file
func logDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		dir = filepath.Join(filepath.Dir(exe), "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
