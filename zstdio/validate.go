/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package zstdio

import (
	"io"

	"github.com/caldera-data/retl/orch"
	"github.com/klauspost/compress/zstd"
)

// QuickValidate attempts to decode up to maxBytes of path and stops; it
// catches header corruption cheaply without paying for a full decode of a
// multi-gigabyte month.
func QuickValidate(path string, maxBytes int64) error {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f, zstd.WithDecoderMaxWindow(1<<windowLogMax))
	if err != nil {
		return err
	}
	defer dec.Close()
	_, err = io.Copy(io.Discard, io.LimitReader(dec, maxBytes))
	return err
}

// ValidateFull decodes path to EOF, catching corruption anywhere in the
// stream including trailing bytes QuickValidate would miss.
func ValidateFull(path string) error {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f, zstd.WithDecoderMaxWindow(1<<windowLogMax))
	if err != nil {
		return err
	}
	defer dec.Close()
	_, err = io.Copy(io.Discard, dec)
	return err
}
