package interval

import (
	"slices"
)

// Clip restricts p to the calendar year. ok is false when nothing of p falls inside the year.
func Clip(p Period, year int) (clipped Period, ok bool) {
	start, end := civil(p.Start), civil(p.End)
	switch {
	case start.Year() > year, end.Year() < year:
		return Period{}, false
	}
	bounds := YearBounds(year)
	if start.Year() < year {
		start = bounds.Start
	}
	if end.Year() > year {
		end = bounds.End
	}
	if start.After(end) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// Merge returns the union of periods as sorted, non-touching runs.
// Periods that touch (next starts the day after the current run ends) are joined.
func Merge(periods []Period) []Period {
	if len(periods) == 0 {
		return nil
	}
	sorted := make([]Period, 0, len(periods))
	for _, p := range periods {
		sorted = append(sorted, Period{Start: civil(p.Start), End: civil(p.End)})
	}
	slices.SortFunc(sorted, func(a, b Period) int {
		return a.Start.Compare(b.Start)
	})

	runs := make([]Period, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if !next.Start.After(current.End.AddDate(0, 0, 1)) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		runs = append(runs, current)
		current = next
	}
	return append(runs, current)
}

// TotalDaysInYear counts the distinct days of year covered by at least one period.
// Overlapping days are counted once. Any period ending before it starts is rejected
// with ErrInvalidPeriod.
func TotalDaysInYear(periods []Period, year int) (int, error) {
	clipped := make([]Period, 0, len(periods))
	for _, p := range periods {
		if err := p.Validate(); err != nil {
			return 0, err
		}
		if c, ok := Clip(p, year); ok {
			clipped = append(clipped, c)
		}
	}

	total := 0
	for _, run := range Merge(clipped) {
		total += run.Days()
	}
	return total, nil
}
