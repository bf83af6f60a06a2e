package calendar

import (
	"cloud.google.com/go/civil"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
)

// IndexStats reports what Index did with its input.
type IndexStats struct {
	Attached  int // events placed on a grid cell
	OffGrid   int // valid events whose start date is outside the grid
	Malformed int // events without a usable start
}

// Index returns a copy of grid with events attached to the cell matching
// each event's start date. Multi-day events appear only on their first day.
// Source order is preserved within a cell.
func Index(events []model.ClassifiedEvent, grid MonthGrid) (MonthGrid, IndexStats) {
	var stats IndexStats

	byDate := make(map[civil.Date][]model.ClassifiedEvent, len(events))
	for _, ev := range events {
		key, ok := ev.Start.CivilDate()
		if !ok {
			stats.Malformed++
			appLog.Debug("calendar index: skipping event without start date", "id", ev.ID)
			continue
		}
		byDate[key] = append(byDate[key], ev)
	}

	out := MonthGrid{Month: grid.Month, Cells: make([]DayCell, len(grid.Cells))}
	for i, cell := range grid.Cells {
		cell.Events = byDate[cell.Date]
		stats.Attached += len(cell.Events)
		out.Cells[i] = cell
	}

	total := len(events) - stats.Malformed
	stats.OffGrid = total - stats.Attached

	return out, stats
}
