package database

import (
	"fmt"
	"regexp"

	"github.com/jinzhu/gorm"
)

// PaginationParams are the common paging arguments accepted by the
// read apis. SortBy must be a plain column name; anything else is
// refused before it reaches the query.
type PaginationParams struct {
	Limit  int32  `json:"limit"`
	Page   int32  `json:"page"`
	Order  string `json:"order"`
	SortBy string `json:"sortby"`
}

type PaginationResponse struct {
	TotalRecords int `json:"totalrecords"`
	Records      int `json:"records"`
}

var columnExp = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Default fills any unset params. Returns itself for chaining.
func (p *PaginationParams) Default(limit int32, order, sortby string) *PaginationParams {
	if p.Limit == 0 {
		p.Limit = limit
	}
	if p.Order == "" {
		p.Order = order
	}
	if p.SortBy == "" {
		p.SortBy = sortby
	}
	return p
}

// Max caps the limit a caller can request.
func (p *PaginationParams) Max(max int32) *PaginationParams {
	if p.Limit > max {
		p.Limit = max
	}
	return p
}

// SimplePagination applies the params to a query.
func SimplePagination(db *gorm.DB, params PaginationParams) (*gorm.DB, error) {
	if params.Order != "asc" && params.Order != "desc" {
		return nil, fmt.Errorf("order must be 'asc' or 'desc'")
	}
	if !columnExp.MatchString(params.SortBy) {
		return nil, fmt.Errorf("invalid sort column %q", params.SortBy)
	}
	if params.Limit < 0 || params.Page < 0 {
		return nil, fmt.Errorf("limit and page must not be negative")
	}

	db = db.Order(fmt.Sprintf("%s %s", params.SortBy, params.Order)).
		Limit(params.Limit).
		Offset(params.Page * params.Limit)
	return db, nil
}

// TotalCount is the unpaginated row count for a model query.
func TotalCount(db *gorm.DB) int {
	var total int
	db.Limit(-1).Offset(-1).Count(&total)
	return total
}
