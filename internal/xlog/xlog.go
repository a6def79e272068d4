// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package xlog provides the structured logger used across every EdgeCoder
// component. It wraps log/slog the way the upstream node's own log package
// does: a process-wide root logger, named children per component, and a
// rotating file handler for on-disk logs.
package xlog

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	rootMu sync.Mutex
	root   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Config controls where the root logger writes and at what level.
type Config struct {
	Level    slog.Level
	FilePath string // empty disables file logging
	MaxSizeMB int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the process-wide root logger. Safe to call once at startup;
// components obtain children via New after this has run.
func Init(cfg Config) {
	rootMu.Lock()
	defer rootMu.Unlock()

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 5),
			MaxAge:     maxOr(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
	}
	root = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level}))
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Root returns the process-wide logger.
func Root() *slog.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// New returns a child logger tagged with "component"=name, the way every
// EdgeCoder subsystem (coordinator, gossip mesh, credit engine, BLE router)
// identifies its own log lines.
func New(name string, args ...any) *slog.Logger {
	return Root().With(append([]any{"component", name}, args...)...)
}
