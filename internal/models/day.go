package models

import (
	"fmt"
	"time"
)

const businessDayLayout = "2006-01-02"

// BusinessDay is a calendar date ("2006-01-02") in the business timezone.
// Numbering and waiting-time windows are scoped to one BusinessDay.
type BusinessDay string

func DayOf(t time.Time, loc *time.Location) BusinessDay {
	if loc == nil {
		loc = time.UTC
	}
	return BusinessDay(t.In(loc).Format(businessDayLayout))
}

func ParseBusinessDay(value string) (BusinessDay, error) {
	parsed, err := time.Parse(businessDayLayout, value)
	if err != nil {
		return "", fmt.Errorf("parse business day %q: %w", value, err)
	}
	return BusinessDay(parsed.Format(businessDayLayout)), nil
}

func (d BusinessDay) String() string {
	return string(d)
}

// Date returns midnight UTC of the day, suitable for DATE columns.
func (d BusinessDay) Date() time.Time {
	parsed, err := time.Parse(businessDayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return parsed
}
