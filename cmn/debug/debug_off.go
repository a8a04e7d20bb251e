//go:build !debug

// Package debug provides build-tag-gated assertions: compiled to no-ops
// unless the binary is built with `-tags=debug`.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package debug

func ON() bool { return false }

func Infof(_ string, _ ...any) {}

func Assert(_ bool, _ ...any) {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error) {}
