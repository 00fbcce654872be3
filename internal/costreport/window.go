package costreport

import "time"

const dateLayout = "2006-01-02"

// Window is the Cost Explorer time period of a report, as YYYY-MM-DD strings.
// Start is inclusive, End exclusive.
type Window struct {
	Start string
	End   string
}

// MonthToDate returns the window from the first of the current month (UTC)
// until today. Cost Explorer rejects an empty period, so on the first day of
// a month the window covers the entire previous month instead.
func MonthToDate(now time.Time) Window {
	now = now.UTC()
	if now.Day() == 1 {
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := end.AddDate(0, -1, 0)
		return Window{Start: start.Format(dateLayout), End: end.Format(dateLayout)}
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start.Format(dateLayout), End: now.Format(dateLayout)}
}

// Month returns the YYYY-MM month the window starts in.
func (w Window) Month() string {
	return w.Start[:len("2006-01")]
}
