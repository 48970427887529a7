package service

import (
	"errors"
	"fmt"
	"time"

	"pnldash/internal/models"
)

var (
	ErrInvalidRangeType    = errors.New("invalid range_type; use '7d', '30d', or 'custom'")
	ErrDashboardRangeType  = errors.New("invalid range_type; use '7d' or '30d'")
	ErrMissingCustomBounds = errors.New("custom range requires start and end dates")
	ErrInvalidDate         = errors.New("invalid date format; use YYYY-MM-DD")
	ErrStartAfterEnd       = errors.New("start date must be before end date")
	ErrEndInFuture         = errors.New("end date must not be after today")
	ErrRangeTooLong        = fmt.Errorf("custom range may span at most %d days", MaxCustomDays)
)

// MaxCustomDays caps a custom window; every day costs one exchange call.
const MaxCustomDays = 366

// IsValidationError reports errors that should be answered with 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRangeType) ||
		errors.Is(err, ErrDashboardRangeType) ||
		errors.Is(err, ErrMissingCustomBounds) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrStartAfterEnd) ||
		errors.Is(err, ErrEndInFuture) ||
		errors.Is(err, ErrRangeTooLong)
}

func ParseRangeType(s string) (models.RangeType, error) {
	switch rt := models.RangeType(s); rt {
	case models.Range7D, models.Range30D, models.RangeCustom:
		return rt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRangeType, s)
}

// ParseDashboardRange accepts only the precomputed windows; empty means 7d.
func ParseDashboardRange(s string) (models.RangeType, error) {
	if s == "" {
		return models.Range7D, nil
	}
	switch rt := models.RangeType(s); rt {
	case models.Range7D, models.Range30D:
		return rt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrDashboardRangeType, s)
}

func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ResolveRange validates the request parameters and produces the date window.
// Fixed windows end on today; custom windows use the given bounds.
func ResolveRange(rangeType, start, end string, today time.Time) (models.RangeSpec, error) {
	rt, err := ParseRangeType(rangeType)
	if err != nil {
		return models.RangeSpec{}, err
	}
	if rt != models.RangeCustom {
		e := Midnight(today)
		return models.RangeSpec{Type: rt, Start: e.AddDate(0, 0, -rt.Days()), End: e}, nil
	}

	if start == "" || end == "" {
		return models.RangeSpec{}, ErrMissingCustomBounds
	}
	s, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return models.RangeSpec{}, fmt.Errorf("%w: %q", ErrInvalidDate, start)
	}
	e, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return models.RangeSpec{}, fmt.Errorf("%w: %q", ErrInvalidDate, end)
	}
	if s.After(e) {
		return models.RangeSpec{}, ErrStartAfterEnd
	}
	if e.After(Midnight(today)) {
		return models.RangeSpec{}, fmt.Errorf("%w: %s", ErrEndInFuture, end)
	}
	rng := models.RangeSpec{Type: models.RangeCustom, Start: s, End: e}
	if rng.Length() > MaxCustomDays {
		return models.RangeSpec{}, fmt.Errorf("%w: %d days", ErrRangeTooLong, rng.Length())
	}
	return rng, nil
}

// RangeFromJob rebuilds the window a queued job asked for.
func RangeFromJob(job models.JobPayload, today time.Time) (models.RangeSpec, error) {
	return ResolveRange(string(job.RangeType), job.Start, job.End, today)
}
