package pagination

import (
	"fmt"
	"strconv"

	"duet-backend/pkg/constants"
)

// Params represents pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Page is a paginated response. HasMore is set when a full page came back.
type Page[T any] struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
	Items   []T  `json:"items"`
}

// Parse reads page and limit query values. Missing values take defaults,
// out of range values are clamped, garbage is an error.
func Parse(pageStr, limitStr string) (Params, error) {
	page := 1
	limit := constants.DefaultPageSize

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < 1:
			limit = 1
		case l > constants.MaxPageSize:
			limit = constants.MaxPageSize
		default:
			limit = l
		}
	}

	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}, nil
}

// NewPage wraps items fetched with p
func NewPage[T any](p Params, items []T) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Page:    p.Page,
		Limit:   p.Limit,
		HasMore: len(items) == p.Limit,
		Items:   items,
	}
}
