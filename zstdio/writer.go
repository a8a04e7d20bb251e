/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package zstdio

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// NewWriter wraps w with a level-19 zstd encoder.
func NewWriter(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
}
