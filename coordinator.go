package guestpager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"
)

// LoadResult is the successful outcome of a load.
type LoadResult struct {
	// EndOfPaginationReached is true when there is nothing more to load in the
	// requested direction.
	EndOfPaginationReached bool
	// Page is the remote page that was fetched, 0 when no fetch was needed.
	Page int
	// Fetched is the number of records committed.
	Fetched int
}

// CommitGuard wraps a store commit. It may refuse to run it by returning an
// error without calling commit.
type CommitGuard func(ctx context.Context, commit func() error) error

func passThroughGuard(_ context.Context, commit func() error) error {
	return commit()
}

// Coordinator mediates between the paged view, the Store and a RemoteSource.
//
// IMPORTANT:
// Load must not be called concurrently for the same view. Pipeline serializes
// its own calls.
type Coordinator struct {
	source   RemoteSource
	store    *Store
	pageSize int
	guard    CommitGuard
	onTotal  func(total int)
	logger   *slog.Logger
}

type CoordinatorOption func(*Coordinator)

// WithPageSize sets the remote page size, normalized with NormalizePageSize.
func WithPageSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		c.pageSize = NormalizePageSize(size)
	}
}

// WithCommitGuard installs a guard around every store commit.
func WithCommitGuard(guard CommitGuard) CoordinatorOption {
	return func(c *Coordinator) {
		if guard != nil {
			c.guard = guard
		}
	}
}

// WithTotalCountHandler registers a callback receiving the total number of
// remote records whenever a committed page reports it. The Store keeps the
// same value, see Store.TotalCount.
func WithTotalCountHandler(fn func(total int)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onTotal = fn
	}
}

func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(source RemoteSource, store *Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		source:   source,
		store:    store,
		pageSize: DefaultPageSize,
		guard:    passThroughGuard,
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PageSize returns the remote page size.
func (c *Coordinator) PageSize() int {
	return c.pageSize
}

// Load resolves the page needed for loadType, fetches it and commits it.
//
// Fetch failures come back as *FetchError with the store untouched. The
// coordinator never retries.
func (c *Coordinator) Load(ctx context.Context, loadType LoadType, state PagingState) (LoadResult, error) {
	if !loadType.Valid() {
		return LoadResult{}, fmt.Errorf("invalid load type %s", loadType)
	}

	page, endReached, err := c.resolvePage(ctx, loadType, state)
	if err != nil {
		return LoadResult{}, err
	}
	if endReached {
		c.logger.DebugContext(ctx, "end of pagination from cursor", slog.String("load", loadType.String()))
		return LoadResult{EndOfPaginationReached: true}, nil
	}

	resp, err := c.source.FetchPage(ctx, page, c.pageSize)
	if err != nil {
		c.logger.WarnContext(ctx, "guest page fetch failed",
			slog.String("load", loadType.String()), slog.Int("page", page), slog.String("error", err.Error()))

		if !IsFetchError(err) {
			err = &FetchError{Page: page, Err: err}
		}
		return LoadResult{}, err
	}

	records := uniqueByLastID(resp.Records(page))
	cursors := pageCursors(page, records)
	total, hasTotal := resp.TotalCount()

	err = c.guard(ctx, func() error {
		return c.store.Transaction(ctx, func(tx *Store) error {
			if loadType == LoadRefresh {
				if err := tx.ClearAll(ctx); err != nil {
					return err
				}
			}

			if err := tx.UpsertCursors(ctx, cursors); err != nil {
				return err
			}
			if err := tx.UpsertRecords(ctx, records); err != nil {
				return err
			}

			if !hasTotal {
				return nil
			}
			return tx.SaveTotalCount(ctx, total)
		})
	})
	if err != nil {
		if !errors.Is(err, ErrStaleLoad) {
			c.logger.ErrorContext(ctx, "guest page commit failed",
				slog.String("load", loadType.String()), slog.Int("page", page), slog.String("error", err.Error()))
		}
		return LoadResult{}, err
	}

	if hasTotal && c.onTotal != nil {
		c.onTotal(total)
	}

	c.logger.DebugContext(ctx, "guest page committed",
		slog.String("load", loadType.String()), slog.Int("page", page), slog.Int("records", len(records)))

	return LoadResult{
		EndOfPaginationReached: resp.IsEmpty(),
		Page:                   page,
		Fetched:                len(records),
	}, nil
}

// resolvePage returns the remote page to fetch, or endReached when the cursors
// already say there is nothing more in that direction.
func (c *Coordinator) resolvePage(ctx context.Context, loadType LoadType, state PagingState) (page int, endReached bool, err error) {
	switch loadType {
	case LoadRefresh:
		cursor, err := c.cursorOf(ctx, state.AnchorItem)
		if err != nil {
			return 0, false, err
		}
		// A refresh re-fetches the page the anchor was loaded from.
		if cursor.HasNext() {
			return max(1, *cursor.NextPage-1), false, nil
		}

		return 1, false, nil

	case LoadPrepend:
		cursor, err := c.cursorOf(ctx, state.FirstItem)
		if err != nil {
			return 0, false, err
		}
		if !cursor.HasPrev() {
			return 0, true, nil
		}

		return *cursor.PrevPage, false, nil

	default:
		cursor, err := c.cursorOf(ctx, state.LastItem)
		if err != nil {
			return 0, false, err
		}
		if !cursor.HasNext() {
			return 0, true, nil
		}

		return *cursor.NextPage, false, nil
	}
}

func (c *Coordinator) cursorOf(ctx context.Context, pick func() (GuestRecord, bool)) (*PageCursor, error) {
	rec, ok := pick()
	if !ok {
		return nil, nil
	}

	return c.store.CursorFor(ctx, rec.ID)
}

// uniqueByLastID drops repeated ids inside one page, keeping the last
// occurrence. A single upsert statement may not touch a row twice on postgres.
func uniqueByLastID(records []GuestRecord) []GuestRecord {
	reversed := slices.Clone(records)
	slices.Reverse(reversed)

	kept := lo.UniqBy(reversed, func(rec GuestRecord) string { return rec.ID })
	slices.Reverse(kept)

	return kept
}

// pageCursors builds one cursor per record, all sharing the page's pointers.
func pageCursors(page int, records []GuestRecord) []PageCursor {
	prev := lo.Ternary[*int](page == 1, nil, lo.ToPtr(page-1))
	next := lo.Ternary[*int](len(records) == 0, nil, lo.ToPtr(page+1))

	return lo.Map(records, func(rec GuestRecord, _ int) PageCursor {
		return PageCursor{GuestID: rec.ID, PrevPage: prev, NextPage: next}
	})
}
