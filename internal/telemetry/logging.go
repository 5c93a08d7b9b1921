package telemetry

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where the standard logger writes.
type LogConfig struct {
	// File enables rotation into the given path; empty keeps stderr only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogging points the standard logger at stderr and, when configured, a
// rotating log file. The returned function closes the file.
func SetupLogging(cfg LogConfig) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Printf("logging: writing to %s (max %d MB)", cfg.File, cfg.MaxSizeMB)

	return func() {
		log.SetOutput(os.Stderr)
		_ = rotator.Close()
	}
}
