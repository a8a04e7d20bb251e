// Package cos provides common low-level types and utilities shared across the
// module: error aggregation, a line reader, and ID generation.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"

	"github.com/caldera-data/retl/cmn/debug"
)

type (
	ErrNotFound struct {
		what string
	}
	// Errs aggregates up to maxErrs distinct errors observed while a stage
	// keeps making progress past per-unit failures (a skipped line, a
	// corrupt file) instead of aborting on the first one.
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch len(e.errs) {
	case 0:
		return ""
	case 1:
		return e.errs[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more error(s))", e.errs[0], len(e.errs)-1)
	}
}

const fatalPrefix = "FATAL ERROR: "

// Exitf prints a fatal message and terminates the process with status 1; the
// CLI uses it for an unknown command and for any error a subcommand returns.
func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(fatalPrefix+f, a...))
	os.Exit(1)
}
