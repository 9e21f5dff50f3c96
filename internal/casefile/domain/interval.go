package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var timeLayouts = []string{"15:04:05", "15:04"}

// MinimumBillableHours is the floor applied to derived event durations.
var MinimumBillableHours = decimal.RequireFromString("0.25")

// Interval combines the activity's date and time-of-day fields. A missing end date
// means the event ends on its start date.
func (a Activity) Interval() (time.Time, time.Time, error) {
	start, err := combine(a.StartDate, a.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endDate := strings.TrimSpace(a.EndDate)
	if endDate == "" {
		endDate = a.StartDate
	}
	end, err := combine(endDate, a.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, ErrInvalidTimeRange
	}
	return start, end, nil
}

// DurationHours returns max(minimum, end - start) in hours, rounded to 2 places.
func (a Activity) DurationHours(minimum decimal.Decimal) (decimal.Decimal, error) {
	start, end, err := a.Interval()
	if err != nil {
		return decimal.Zero, err
	}
	hours := decimal.NewFromInt(int64(end.Sub(start) / time.Second)).Div(decimal.NewFromInt(3600))
	if hours.LessThan(minimum) {
		hours = minimum
	}
	return hours.Round(2), nil
}

// CalendarDays returns the number of calendar days the activity spans, inclusive.
func (a Activity) CalendarDays() (decimal.Decimal, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(a.StartDate))
	if err != nil {
		return decimal.Zero, ErrInvalidTimeRange
	}
	endRaw := strings.TrimSpace(a.EndDate)
	if endRaw == "" {
		endRaw = strings.TrimSpace(a.StartDate)
	}
	end, err := time.Parse(dateLayout, endRaw)
	if err != nil || end.Before(start) {
		return decimal.Zero, ErrInvalidTimeRange
	}
	days := int64(end.Sub(start).Hours()/24) + 1
	return decimal.NewFromInt(days), nil
}

// StartsAt returns the parsed start for ordering; the zero time when malformed.
func (a Activity) StartsAt() time.Time {
	start, err := combine(a.StartDate, a.StartTime)
	if err != nil {
		return time.Time{}
	}
	return start
}

func combine(date, clock string) (time.Time, error) {
	day, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, ErrInvalidTimeRange
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return time.Time{}, ErrInvalidTimeRange
	}
	for _, layout := range timeLayouts {
		tod, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return day.Add(time.Duration(tod.Hour())*time.Hour +
			time.Duration(tod.Minute())*time.Minute +
			time.Duration(tod.Second())*time.Second), nil
	}
	return time.Time{}, ErrInvalidTimeRange
}
