package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
)

// Quantity applies the pricing model to an activity. Events measure their own interval,
// tasks only ever use hours someone entered. needsHours is set for a time-priced task
// with no usable hours on record.
func Quantity(activity *casefiledomain.Activity, model catalogdomain.PricingModel, minimum decimal.Decimal, taskHours *decimal.Decimal) (quantity decimal.Decimal, needsHours bool, err error) {
	if !model.TimeBased() {
		return decimal.NewFromInt(1), false, nil
	}

	if model == catalogdomain.PricingModelDaily {
		if activity.IsTask() && strings.TrimSpace(activity.StartDate) == "" {
			return decimal.NewFromInt(1), false, nil
		}
		days, err := activity.CalendarDays()
		return days, false, err
	}

	if activity.IsTask() {
		if taskHours != nil {
			if taskHours.LessThan(minimum) {
				return decimal.Zero, false, ErrHoursBelowMinimum
			}
			return taskHours.Round(2), false, nil
		}
		// Stored hours under the minimum count as missing.
		if hours, ok := activity.ExplicitHours(); ok && !hours.LessThan(minimum) {
			return hours.Round(2), false, nil
		}
		return decimal.Zero, true, nil
	}

	hours, err := activity.DurationHours(minimum)
	if err != nil {
		return decimal.Zero, false, err
	}
	return hours, false, nil
}
