// Package calendarview holds the interaction logic of the week-grid
// calendar: converting a pointer drop into a snapped slot and previewing
// conflicts. Its interval arithmetic must agree exactly with the server's
// availability check, so the overlap predicate here is the same half-open
// one the booking service uses.
package calendarview

import "time"

// SnapMinutes is the grid granularity a drop is rounded to.
const SnapMinutes = 10

// DropTarget describes where a drag gesture ended: the day column, the hour
// cell and the vertical pointer offset inside that cell.
type DropTarget struct {
	Day          time.Time // midnight of the day column, caller's location
	Hour         int       // 0-23
	OffsetPx     float64   // pointer offset from the top of the hour cell
	CellHeightPx float64   // rendered height of one hour cell
}

// SnapToSlot converts a drop target into a start time rounded to the
// nearest SnapMinutes and clamped so the result stays inside the hour cell
// the pointer was over.
func SnapToSlot(t DropTarget) time.Time {
	minutes := 0
	if t.CellHeightPx > 0 {
		frac := t.OffsetPx / t.CellHeightPx
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		raw := frac * 60
		minutes = int((raw+float64(SnapMinutes)/2)/float64(SnapMinutes)) * SnapMinutes
		if minutes >= 60 {
			minutes = 60 - SnapMinutes
		}
	}

	day := t.Day
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, minutes, 0, 0, day.Location())
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
