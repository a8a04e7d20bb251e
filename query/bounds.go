/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package query

import "github.com/caldera-data/retl/rec"

// Bounds is an inclusive [Lo, Hi] YearMonth range gating a record by its
// created_utc timestamp, independent of file-level date planning (a record
// can carry a stale timestamp relative to the monthly file it lives in).
type Bounds struct {
	Lo, Hi rec.YearMonth
	Set    bool
}

// BoundsTuple mirrors the original's "only gate if both ends given"
// behavior: a one-sided range has no record-level effect (the file-planning
// stage already clamped on the unset side).
func BoundsTuple(start, end *rec.YearMonth) Bounds {
	if start == nil || end == nil {
		return Bounds{}
	}
	return Bounds{Lo: *start, Hi: *end, Set: true}
}

// WithinBounds reports whether m falls within b's range. A record missing
// created_utc is rejected once bounds are set — there's no month to place it
// in. Unset bounds always pass.
func WithinBounds(m rec.Minimal, b Bounds) bool {
	if !b.Set {
		return true
	}
	if m.CreatedUTC == nil {
		return false
	}
	ym := rec.YearMonthFromEpoch(*m.CreatedUTC)
	return b.Lo.LessEq(ym) && ym.LessEq(b.Hi)
}
