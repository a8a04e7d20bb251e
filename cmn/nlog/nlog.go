// Package nlog is a minimal, dependency-free logger: severities, optional
// log-directory rotation by day, and a stderr mirror for warnings and errors.
// Kept to what a batch ETL binary needs: direct writes, no background
// flush goroutine.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu           sync.Mutex
	logDir       string
	role         string
	toStderr     bool
	alsoToStderr bool
	file         *os.File
	fileDay      int
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", true, "log to standard error as well as files")
}

// SetLogDirRole configures an optional log directory; when set, every
// severity is additionally appended to "<dir>/<role>.<YYYY-MM-DD>.log".
func SetLogDirRole(dir, r string) {
	mu.Lock()
	defer mu.Unlock()
	logDir, role = dir, r
}

func Infof(format string, args ...any) { write(sevInfo, format, args...) }
func Infoln(args ...any) { write(sevInfo, fmt.Sprint(args...)) }
func Warningf(format string, args ...any) { write(sevWarn, format, args...) }
func Warningln(args ...any) { write(sevWarn, fmt.Sprint(args...)) }
func Errorf(format string, args ...any) { write(sevErr, format, args...) }
func Errorln(args ...any) { write(sevErr, fmt.Sprint(args...)) }

func Flush(...bool) {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Sync()
	}
}

func write(sev severity, format string, args ...any) {
	msg := format
	if len(args) > 0 || countVerbs(format) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	now := time.Now()
	line := fmt.Sprintf("%c%s %s\n", sevChar(sev), now.Format("0102 15:04:05.000000"), msg)

	mu.Lock()
	defer mu.Unlock()
	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if logDir == "" || toStderr {
		return
	}
	rotateLocked(now)
	if file != nil {
		file.WriteString(line)
	}
}

func countVerbs(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			n++
		}
	}
	return n
}

func rotateLocked(now time.Time) {
	day := now.YearDay() + now.Year()*366
	if file != nil && day == fileDay {
		return
	}
	if file != nil {
		file.Close()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s.%s.log", role, now.Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	file, fileDay = f, day
}

func sevChar(sev severity) byte {
	switch sev {
	case sevWarn:
		return 'W'
	case sevErr:
		return 'E'
	default:
		return 'I'
	}
}
