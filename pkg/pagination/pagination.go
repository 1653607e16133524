package pagination

import (
	"fmt"
	"math"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

const (
	DefaultSize = 20
	MaxSize     = 100
	// MaxPage keeps Offset within int for every applied size.
	MaxPage = math.MaxInt / MaxSize
)

// Request is a zero-based page request. AppliedSize never exceeds MaxSize.
type Request struct {
	Page          int
	RequestedSize int
	AppliedSize   int
}

func (r Request) Offset() int { return r.Page * r.AppliedSize }

// Capped reports whether the requested size was reduced.
func (r Request) Capped() bool { return r.RequestedSize != r.AppliedSize }

// NewRequest validates page and size and caps size at MaxSize.
func NewRequest(page, size int) (Request, error) {
	if page < 0 {
		return Request{}, apperr.InvalidRequest(fmt.Sprintf("page must be >= 0, got %d", page))
	}
	if page > MaxPage {
		return Request{}, apperr.InvalidRequest(fmt.Sprintf("page must be <= %d, got %d", MaxPage, page))
	}
	if size < 1 {
		return Request{}, apperr.InvalidRequest(fmt.Sprintf("size must be >= 1, got %d", size))
	}
	return Request{Page: page, RequestedSize: size, AppliedSize: min(size, MaxSize)}, nil
}

type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	RequestedSize int   `json:"requestedSize"`
	AppliedSize   int   `json:"appliedSize"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Last          bool  `json:"last"`
}

func New[T any](req Request, content []T, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	size := int64(req.AppliedSize)
	totalPages := int((total + size - 1) / size)
	return Page[T]{
		Content:       content,
		Page:          req.Page,
		RequestedSize: req.RequestedSize,
		AppliedSize:   req.AppliedSize,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          req.Page >= totalPages-1,
	}
}

// Map converts the page content, keeping the metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(p.Content))
	for _, v := range p.Content {
		out = append(out, fn(v))
	}
	return Page[U]{
		Content:       out,
		Page:          p.Page,
		RequestedSize: p.RequestedSize,
		AppliedSize:   p.AppliedSize,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		Last:          p.Last,
	}
}
