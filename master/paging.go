package master

import (
	"fmt"
	"math"
)

// PagingRequest selects one page of an ordered result. PageNumber is 1-based.
// The zero value means "all results".
type PagingRequest struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
}

var (
	// PagingRequestAll returns every result on one page.
	PagingRequestAll = PagingRequest{PageNumber: 1, PageSize: math.MaxInt}

	// PagingRequestNone returns no results, only the total count.
	PagingRequestNone = PagingRequest{PageNumber: 1, PageSize: 0}
)

// NewPagingRequest validates and builds a paging request.
func NewPagingRequest(pageNumber, pageSize int) (PagingRequest, error) {
	p := PagingRequest{PageNumber: pageNumber, PageSize: pageSize}
	if err := p.Validate(); err != nil {
		return PagingRequest{}, err
	}

	return p, nil
}

// Validate rejects non-positive page numbers and negative page sizes.
func (p PagingRequest) Validate() error {
	if p.IsZero() {
		return nil
	}

	if p.PageNumber < 1 || p.PageSize < 0 {
		return fmt.Errorf("%w: page %d size %d", ErrInvalidPagingRequest, p.PageNumber, p.PageSize)
	}

	return nil
}

// IsZero reports whether the request is unset.
func (p PagingRequest) IsZero() bool {
	return p == PagingRequest{}
}

// OrAll substitutes PagingRequestAll for the zero value.
func (p PagingRequest) OrAll() PagingRequest {
	if p.IsZero() {
		return PagingRequestAll
	}

	return p
}

// FirstItem is the 0-based offset of the page's first item.
func (p PagingRequest) FirstItem() int {
	p = p.OrAll()
	if p.PageSize == 0 {
		return 0
	}

	if p.PageNumber-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}

	return (p.PageNumber - 1) * p.PageSize
}

// Paging describes the page that was returned.
type Paging struct {
	Request    PagingRequest `json:"request"`
	TotalItems int           `json:"totalItems"`
}

// TotalPages is the number of pages of Request.PageSize needed for TotalItems.
func (p Paging) TotalPages() int {
	size := p.Request.OrAll().PageSize
	if size == 0 {
		return 0
	}

	if p.TotalItems == 0 {
		return 1
	}

	return (p.TotalItems-1)/size + 1
}

// IsLastPage reports whether no later page has items.
func (p Paging) IsLastPage() bool {
	return p.Request.OrAll().PageNumber >= p.TotalPages()
}

// Page slices items according to request and reports the total count.
func Page[T any](items []T, request PagingRequest) ([]T, Paging) {
	request = request.OrAll()
	paging := Paging{Request: request, TotalItems: len(items)}

	start := request.FirstItem()
	if start >= len(items) || request.PageSize == 0 {
		return []T{}, paging
	}

	end := len(items)
	if request.PageSize < end-start {
		end = start + request.PageSize
	}

	return items[start:end], paging
}
