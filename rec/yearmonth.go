// Package rec holds the data model shared by every stage: the minimal
// projected record, the monthly-file job description, and the YearMonth
// value used for discovery, bounding, and bucketing by time.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package rec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth is a comparable "YYYY-MM" value with safe successor/predecessor
// arithmetic.
type YearMonth struct {
	Year  uint16
	Month uint8 // 1..=12
}

func NewYearMonth(year uint16, month uint8) YearMonth {
	if month < 1 || month > 12 {
		panic("rec: month must be 1..=12")
	}
	return YearMonth{Year: year, Month: month}
}

func (ym YearMonth) String() string { return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month) }

func (ym YearMonth) Next() (YearMonth, bool) {
	if ym.Month < 12 {
		return YearMonth{ym.Year, ym.Month + 1}, true
	}
	if ym.Year < 65535 {
		return YearMonth{ym.Year + 1, 1}, true
	}
	return YearMonth{}, false
}

func (ym YearMonth) Prev() (YearMonth, bool) {
	if ym.Month > 1 {
		return YearMonth{ym.Year, ym.Month - 1}, true
	}
	if ym.Year > 0 {
		return YearMonth{ym.Year - 1, 12}, true
	}
	return YearMonth{}, false
}

// Less reports whether ym sorts before other.
func (ym YearMonth) Less(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

func (ym YearMonth) LessEq(other YearMonth) bool { return ym == other || ym.Less(other) }

func ParseYearMonth(s string) (YearMonth, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return YearMonth{}, fmt.Errorf("rec: expected YYYY-MM, got %q", s)
	}
	y, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return YearMonth{}, fmt.Errorf("rec: invalid year in %q: %w", s, err)
	}
	m, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || m < 1 || m > 12 {
		return YearMonth{}, fmt.Errorf("rec: invalid month in %q", s)
	}
	return YearMonth{Year: uint16(y), Month: uint8(m)}, nil
}

// YearMonthFromEpoch buckets a Unix timestamp (UTC) into its calendar month.
// A timestamp whose year falls outside 0..65535 has its year clamped to that
// range (the month is kept) rather than erroring — a single corrupt created_utc value
// shouldn't abort a month-bounded scan.
func YearMonthFromEpoch(ts int64) YearMonth {
	t := time.Unix(ts, 0).UTC()
	year := t.Year()
	if year < 0 {
		year = 0
	}
	if year > 65535 {
		year = 65535
	}
	return YearMonth{Year: uint16(year), Month: uint8(t.Month())}
}

// IterYearMonths calls fn for every month in [start, end] inclusive, in
// ascending order, stopping early if fn returns false. Empty range if
// start > end.
func IterYearMonths(start, end YearMonth, fn func(YearMonth) bool) {
	if end.Less(start) {
		return
	}
	cur := start
	for {
		if !fn(cur) {
			return
		}
		if cur == end {
			return
		}
		next, ok := cur.Next()
		if !ok || end.Less(next) {
			return
		}
		cur = next
	}
}
