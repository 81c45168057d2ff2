// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package log implements the structured, leveled logger used throughout the
// node. It favors plain key/value pairs over a formatting framework, matching
// the call shape used across the node's component packages.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
)

// Level is a logging severity.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[Level]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger writes leveled, structured records to an underlying writer.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	colorize bool
	ctx      []interface{}
}

// Root is the process-wide default logger.
var Root = New(os.Stderr)

// New constructs a Logger writing to w, with color enabled when w is a
// terminal (checked via isatty, the same way the node's CLI detects a TTY
// before enabling colored output elsewhere).
func New(w io.Writer) *Logger {
	colorize := false
	if f, ok := w.(*os.File); ok {
		colorize = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Logger{out: w, minLevel: LevelInfo, colorize: colorize}
}

// SetLevel adjusts the minimum level that will be emitted.
func (l *Logger) SetLevel(lv Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = lv
}

// With returns a child logger that always includes the given key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := make([]interface{}, 0, len(l.ctx)+len(kv))
	ctx = append(ctx, l.ctx...)
	ctx = append(ctx, kv...)
	return &Logger{out: l.out, minLevel: l.minLevel, colorize: l.colorize, ctx: ctx}
}

func (l *Logger) log(lv Level, msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lv < l.minLevel {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	tag := lv.String()
	if l.colorize {
		tag = levelColor[lv].Sprint(tag)
	}
	fmt.Fprintf(l.out, "%s [%s] %s", ts, tag, msg)
	all := make([]interface{}, 0, len(l.ctx)+len(kv))
	all = append(all, l.ctx...)
	all = append(all, kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.log(LevelTrace, msg, kv) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv) }

// Package-level convenience wrappers delegate to Root, mirroring the
// package-function logging call sites used across the node (log.Info(...)
// rather than threading a logger instance through every call).
func Trace(msg string, kv ...interface{}) { Root.Trace(msg, kv...) }
func Debug(msg string, kv ...interface{}) { Root.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { Root.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { Root.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { Root.Error(msg, kv...) }
