// Package calendar is the month-view engine: grid layout, two-source event
// fetching with stale-result discarding, holiday classification, per-day
// indexing, visual emphasis, and day selection.
package calendar

import (
	"time"

	"cloud.google.com/go/civil"

	"orgcal/internal/model"
)

// DayCell is one square of the month grid.
type DayCell struct {
	Date           civil.Date              `json:"date"`
	InCurrentMonth bool                    `json:"inCurrentMonth"`
	IsToday        bool                    `json:"isToday"`
	Events         []model.ClassifiedEvent `json:"events"`
}

// IsRedDay reports whether the cell is a Sunday or carries a public holiday.
func (c DayCell) IsRedDay() bool {
	if c.Date.Weekday() == time.Sunday {
		return true
	}
	for _, ev := range c.Events {
		if ev.IsHoliday {
			return true
		}
	}
	return false
}

// MonthGrid is a Sunday-to-Saturday aligned run of full weeks covering Month.
type MonthGrid struct {
	Month civil.Date `json:"month"`
	Cells []DayCell  `json:"cells"`
}

// Weeks splits the grid into rows of seven cells.
func (g MonthGrid) Weeks() [][]DayCell {
	weeks := make([][]DayCell, 0, len(g.Cells)/7)
	for i := 0; i+7 <= len(g.Cells); i += 7 {
		weeks = append(weeks, g.Cells[i:i+7])
	}
	return weeks
}

// Cell returns the cell for d, if it is on the grid.
func (g MonthGrid) Cell(d civil.Date) (DayCell, bool) {
	if len(g.Cells) == 0 {
		return DayCell{}, false
	}
	i := d.DaysSince(g.Cells[0].Date)
	if i < 0 || i >= len(g.Cells) {
		return DayCell{}, false
	}
	return g.Cells[i], true
}

// AddMonths moves d's month by n, normalized to the first of the month.
func AddMonths(d civil.Date, n int) civil.Date {
	return civil.DateOf(time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC))
}

// FirstOfMonth normalizes any date to the first day of its month.
func FirstOfMonth(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
}

// MonthBounds returns the first and last day of ref's month.
func MonthBounds(ref civil.Date) (first, last civil.Date) {
	first = FirstOfMonth(ref)
	last = civil.DateOf(time.Date(first.Year, first.Month+1, 0, 0, 0, 0, 0, time.UTC))
	return first, last
}

// ComputeGrid lays out the month containing ref. Only ref's year and month
// matter. today is compared per cell to set IsToday; callers pass the current
// wall-clock date on every call since it changes at midnight.
func ComputeGrid(ref civil.Date, today civil.Date) MonthGrid {
	first, last := MonthBounds(ref)

	start := first.AddDays(-int(first.Weekday()))
	end := last.AddDays(int(time.Saturday - last.Weekday()))

	n := end.DaysSince(start) + 1
	cells := make([]DayCell, 0, n)
	for d := start; !d.After(end); d = d.AddDays(1) {
		cells = append(cells, DayCell{
			Date:           d,
			InCurrentMonth: d.Year == first.Year && d.Month == first.Month,
			IsToday:        d == today,
		})
	}

	return MonthGrid{Month: first, Cells: cells}
}
