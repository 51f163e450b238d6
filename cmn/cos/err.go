// Package cos provides the low-level error taxonomy and small utilities shared
// across corevault's components: typed error values, IsKind helpers, and a
// bounded thread-safe error collector.
/*
 * Copyright (c) 2024, corevault authors.
 */
package cos

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
)

// Kind classifies an error into one of five classes.
type Kind int

const (
	KindNotFound Kind = iota
	KindInvalid
	KindUnavailable
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalid:
		return "Invalid"
	case KindUnavailable:
		return "Unavailable"
	case KindConflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// Err is corevault's uniform error value: a kind, a human message, and an
// optional wrapped cause. Every serving path maps Kind to an
// HTTP-like status via HTTPStatus.
type Err struct {
	Kind  Kind
	What  string
	Cause error
}

func (e *Err) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.What, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.What)
}

func (e *Err) Unwrap() error { return e.Cause }

// HTTPStatus maps the taxonomy onto HTTP status codes.
func (e *Err) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func NewNotFound(format string, a ...any) *Err {
	return &Err{Kind: KindNotFound, What: fmt.Sprintf(format, a...)}
}

func NewInvalid(format string, a ...any) *Err {
	return &Err{Kind: KindInvalid, What: fmt.Sprintf(format, a...)}
}

func NewUnavailable(format string, a ...any) *Err {
	return &Err{Kind: KindUnavailable, What: fmt.Sprintf(format, a...)}
}

func NewInternal(cause error, format string, a ...any) *Err {
	return &Err{Kind: KindInternal, What: fmt.Sprintf(format, a...), Cause: cause}
}

func IsKind(err error, k Kind) bool {
	var e *Err
	return errors.As(err, &e) && e.Kind == k
}

// Errs is a bounded, deduplicated, thread-safe error collector, used by the
// job manager to collect per-report store failures in DeleteTerminal without
// stopping at the first one.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, prev := range e.errs {
		if prev.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Join() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}

// ExitLogf fatally terminates the process after flushing logs — used only by
// cmd/corevaultd at unrecoverable startup failures, never from library code.
func ExitLogf(logErrorDepth func(string), f string, a ...any) {
	msg := "FATAL ERROR: " + fmt.Sprintf(f, a...)
	if logErrorDepth != nil {
		logErrorDepth(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
