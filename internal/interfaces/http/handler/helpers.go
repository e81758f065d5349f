package handler

import (
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
)

const dateLayout = "2006-01-02"

// parseDate reads a YYYY-MM-DD value as midnight in loc. Empty input yields
// nil.
func parseDate(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return nil, fmt.Errorf("must be a date in %s format", dateLayout)
	}
	return &t, nil
}

// endOfDay moves an inclusive upper date bound to the last instant of that day
func endOfDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return &end
}

// toFilter converts list parameters into the repository filter
func toFilter(req dto.ListRequest) shared.Filter {
	req.Normalize()
	return shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Search:   req.Search,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
