/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package orch

import "github.com/caldera-data/retl/cmn/cos"

// NewRunID names a fresh work directory / staging run.
func NewRunID() string { return cos.GenRunID() }
