// Package nlog is corevault's own logger: timestamped, severity-split,
// size-rotated. One stream per severity.
/*
 * Copyright (c) 2024, corevault authors.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{sevInfo: 'I', sevWarn: 'W', sevErr: 'E'}

// MaxSize is the size, in bytes, at which a log file is rotated.
var MaxSize int64 = 4 * 1024 * 1024

type stream struct {
	mu      sync.Mutex
	file    *os.File
	written int64
	sev     severity
}

var (
	initOnce sync.Once
	logDir   string
	toStderr atomic.Bool
	pid      = os.Getpid()

	streams [3]*stream
)

func init() {
	for s := sevInfo; s <= sevErr; s++ {
		streams[s] = &stream{sev: s}
	}
}

// SetLogDir configures the directory log files are written to. Must be called
// before the first log line; if never called, log lines go to stderr only.
func SetLogDir(dir string) { logDir = dir }

// ToStderr forces every subsequent log line to also print to stderr —
// useful for CLI/embedding contexts with no log directory.
func ToStderr(v bool) { toStderr.Store(v) }

func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "%s", fmt.Sprintln(args...)) }
func Warningln(args ...any)               { log(sevWarn, 1, "%s", fmt.Sprintln(args...)) }
func Errorln(args ...any)                 { log(sevErr, 1, "%s", fmt.Sprintln(args...)) }

func log(sev severity, depth int, format string, args ...any) {
	initOnce.Do(func() {
		for s := sevInfo; s <= sevErr; s++ {
			if logDir != "" {
				_ = streams[s].open(logDir)
			}
		}
	})

	line := format1(sev, depth+1, format, args...)

	if toStderr.Load() || logDir == "" || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if logDir == "" {
		return
	}

	// severity fans out: Warning/Error lines also land in the Info stream.
	streams[sev].write(line)
	if sev != sevInfo {
		streams[sevInfo].write(line)
	}
}

func format1(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (s *stream) open(dir string) error {
	name := filepath.Join(dir, fmt.Sprintf("corevault.%s.%d.log", sevName(s.sev), pid))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.file = f
	s.mu.Unlock()
	return nil
}

func (s *stream) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	n, err := s.file.WriteString(line)
	if err != nil {
		return
	}
	s.written += int64(n)
	if s.written >= MaxSize {
		s.rotateLocked()
	}
}

// under s.mu
func (s *stream) rotateLocked() {
	_ = s.file.Close()
	name := filepath.Join(logDir, fmt.Sprintf("corevault.%s.%d.%d.log", sevName(s.sev), pid, time.Now().Unix()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.file = nil
		return
	}
	s.file = f
	s.written = 0
}

func sevName(s severity) string {
	switch s {
	case sevWarn:
		return "WARNING"
	case sevErr:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Flush syncs every open log file to disk; exit additionally closes the
// files at process shutdown.
func Flush(exit ...bool) {
	closing := len(exit) > 0 && exit[0]
	for _, s := range streams {
		s.mu.Lock()
		if s.file != nil {
			s.file.Sync()
			if closing {
				s.file.Close()
				s.file = nil
			}
		}
		s.mu.Unlock()
	}
}
