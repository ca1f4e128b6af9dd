package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard logger. When a log file is set the
// output is tee'd to a rotating file as well as stdout. The returned closer
// releases the file and is safe to call when no file is configured.
func SetupLogging(cfg Log) io.Closer {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if cfg.File == "" {
		return io.NopCloser(nil)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		log.Printf("Warning: could not create log directory for %s: %v", cfg.File, err)
		return io.NopCloser(nil)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	log.Printf("Logging to file: %s", cfg.File)
	return fileWriter
}
