//go:build debug

// Package debug provides build-tag-gated assertions: compiled to no-ops
// unless the binary is built with `-tags=debug`.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
)

func ON() bool { return true }

func Infof(format string, a ...any) { fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", a...) }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint("assertion failed", fmt.Sprint(args...)))
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
