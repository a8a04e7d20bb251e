// Package sys reads host memory statistics directly from /proc.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package sys

import (
	"strconv"
	"strings"

	"github.com/caldera-data/retl/cmn/cos"
)

const meminfoPath = "/proc/meminfo"

// MemStat is a snapshot of host memory in bytes.
type MemStat struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// ReadMemStat parses /proc/meminfo's MemTotal and MemAvailable lines. Both
// are reported in kB by the kernel; the returned fields are in bytes. A
// kernel without MemAvailable (pre-3.14) falls back to MemFree, which
// under-counts reclaimable cache but never over-counts free memory.
func ReadMemStat() (MemStat, error) {
	var st MemStat
	var haveAvailable bool
	err := cos.ReadLines(meminfoPath, func(line string) error {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			st.TotalBytes = parseKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			st.AvailableBytes = parseKB(line)
			haveAvailable = true
		case strings.HasPrefix(line, "MemFree:") && !haveAvailable:
			st.AvailableBytes = parseKB(line)
		}
		return nil
	})
	return st, err
}

func parseKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}
