// Package cos provides common low-level types and utilities shared across the
// module.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package cos

import (
	"sync"

	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initShortID() {
	sid = shortid.MustNew(4, uuidABC, 1)
}

// GenRunID returns a short, filesystem-safe, process-unique run identifier
// used to name work directories and staging files.
func GenRunID() string {
	sidOnce.Do(initShortID)
	return sid.MustGenerate()
}
