package guestpager

import (
	"fmt"

	"github.com/samber/lo"
)

// LoadType is the intent of a load.
type LoadType int

const (
	// LoadRefresh (re)initializes the dataset around the current anchor.
	LoadRefresh LoadType = iota
	// LoadPrepend loads the page before the first loaded record.
	LoadPrepend
	// LoadAppend loads the page after the last loaded record.
	LoadAppend
)

func (t LoadType) String() string {
	switch t {
	case LoadRefresh:
		return "refresh"
	case LoadPrepend:
		return "prepend"
	case LoadAppend:
		return "append"
	default:
		return fmt.Sprintf("LoadType(%d)", int(t))
	}
}

func (t LoadType) Valid() bool {
	return t == LoadRefresh || t == LoadPrepend || t == LoadAppend
}

// PagingState is what the view currently holds: the loaded pages in display
// order and the index the user is looking at.
type PagingState struct {
	Pages [][]GuestRecord
	// AnchorPosition is an index into the flattened pages, nil before the first access.
	AnchorPosition *int
}

// NewPagingState wraps a flat list of loaded records as a single page.
func NewPagingState(items []GuestRecord, anchor *int) PagingState {
	if len(items) == 0 {
		return PagingState{AnchorPosition: anchor}
	}

	return PagingState{Pages: [][]GuestRecord{items}, AnchorPosition: anchor}
}

// Len is the number of loaded records.
func (s PagingState) Len() int {
	return lo.SumBy(s.Pages, func(page []GuestRecord) int { return len(page) })
}

// FirstItem returns the first record of the first non-empty page.
func (s PagingState) FirstItem() (GuestRecord, bool) {
	page, ok := lo.Find(s.Pages, func(p []GuestRecord) bool { return len(p) > 0 })
	if !ok {
		return GuestRecord{}, false
	}

	return page[0], true
}

// LastItem returns the last record of the last non-empty page.
func (s PagingState) LastItem() (GuestRecord, bool) {
	page, _, ok := lo.FindLastIndexOf(s.Pages, func(p []GuestRecord) bool { return len(p) > 0 })
	if !ok {
		return GuestRecord{}, false
	}

	return page[len(page)-1], true
}

// ClosestItemToPosition returns the loaded record nearest to position. Positions
// past either end clamp to the first or last record.
func (s PagingState) ClosestItemToPosition(position int) (GuestRecord, bool) {
	total := s.Len()
	if total == 0 {
		return GuestRecord{}, false
	}

	position = max(0, min(position, total-1))
	for _, page := range s.Pages {
		if position < len(page) {
			return page[position], true
		}
		position -= len(page)
	}

	return GuestRecord{}, false
}

// AnchorItem returns the record closest to the anchor, if both exist.
func (s PagingState) AnchorItem() (GuestRecord, bool) {
	if s.AnchorPosition == nil {
		return GuestRecord{}, false
	}

	return s.ClosestItemToPosition(*s.AnchorPosition)
}
