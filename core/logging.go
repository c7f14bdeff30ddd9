/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a rotated-file logger, the same lumberjack-backed
// pattern the teacher's logging setup uses for ZoneData.Logger: one
// sink per process (zones share it, prefixed by name in each log line)
// rather than one file per zone, since an authoritative server with
// hundreds of zones would otherwise open hundreds of file descriptors
// for no operational benefit.
func NewLogger(file string, maxSizeMB, maxBackups, maxAgeDays int) *log.Logger {
	if maxSizeMB == 0 {
		maxSizeMB = 100
	}
	if maxBackups == 0 {
		maxBackups = 5
	}
	if maxAgeDays == 0 {
		maxAgeDays = 30
	}
	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return log.New(w, "", log.LstdFlags)
}
