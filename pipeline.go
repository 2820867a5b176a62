package guestpager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// QueryToken identifies the pipeline built for one query. Two pipelines for the
// same query text still carry different tokens.
type QueryToken struct {
	generation uint64
	query      string
}

func (t QueryToken) Generation() uint64 { return t.generation }
func (t QueryToken) Query() string      { return t.query }

func (t QueryToken) String() string {
	return fmt.Sprintf("%d:%q", t.generation, t.query)
}

// LoadState is the status of one load direction.
type LoadState struct {
	Loading                bool
	EndOfPaginationReached bool
	// Err is the last failure in this direction, cleared by the next success.
	Err error
}

// LoadStates groups the per-direction states a view renders.
type LoadStates struct {
	Refresh LoadState
	Prepend LoadState
	Append  LoadState
}

func (s *LoadStates) of(loadType LoadType) *LoadState {
	switch loadType {
	case LoadPrepend:
		return &s.Prepend
	case LoadAppend:
		return &s.Append
	default:
		return &s.Refresh
	}
}

// Pipeline is the paged view of the Store for one query. It grows lazily:
// LoadMore and Access pull local slices first and fall back to the
// Coordinator when the local view is exhausted.
//
// A Pipeline is closed as soon as the Adapter moves to another query. Loads
// that were in flight at that moment end with ErrStaleLoad.
type Pipeline struct {
	token       QueryToken
	store       *Store
	coordinator *Coordinator
	sliceSize   int
	prefetch    int
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	mu     sync.RWMutex
	items  []GuestRecord
	anchor *int
	// head and tail are the first record of the earliest and the last record
	// of the latest fetched remote page, whether they match the query or not.
	head, tail     *GuestRecord
	initialized    bool
	localExhausted bool
	states         LoadStates
}

type pipelineParams struct {
	token     QueryToken
	store     *Store
	source    RemoteSource
	pageSize  int
	prefetch  int
	guard     CommitGuard
	onTotal   func(int)
	logger    *slog.Logger
	parentCtx context.Context
}

func newPipeline(params pipelineParams) *Pipeline {
	ctx, cancel := context.WithCancel(params.parentCtx)
	logger := params.logger.With(slog.String("query_token", params.token.String()))

	return &Pipeline{
		token: params.token,
		store: params.store,
		coordinator: NewCoordinator(params.source, params.store,
			WithPageSize(params.pageSize),
			WithCommitGuard(params.guard),
			WithTotalCountHandler(params.onTotal),
			WithCoordinatorLogger(logger),
		),
		sliceSize: NormalizePageSize(params.pageSize),
		prefetch:  NormalizePrefetchDistance(params.prefetch),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sem:       semaphore.NewWeighted(1),
	}
}

func (p *Pipeline) Token() QueryToken { return p.token }
func (p *Pipeline) Query() string     { return p.token.query }

// Closed reports whether the pipeline was superseded or closed.
func (p *Pipeline) Closed() bool {
	return p.ctx.Err() != nil
}

func (p *Pipeline) close() {
	p.cancel()
}

// Items returns a copy of the loaded records in display order.
func (p *Pipeline) Items() []GuestRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Clone(p.items)
}

// Len is the number of loaded records.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.items)
}

// LoadStates returns the current per-direction states.
func (p *Pipeline) LoadStates() LoadStates {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.states
}

// SetAnchor records the index the user is looking at. Refresh re-fetches the
// page of the record closest to it.
func (p *Pipeline) SetAnchor(position int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.anchor = &position
}

// State returns the paging state handed to the Coordinator.
func (p *Pipeline) State() PagingState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var anchor *int
	if p.anchor != nil {
		a := *p.anchor
		anchor = &a
	}

	return NewPagingState(slices.Clone(p.items), anchor)
}

// Access is the scroll hint of the view: index was just displayed. It loads
// towards whichever edge of the window is within the prefetch distance. The
// returned bool tells whether a load ran.
func (p *Pipeline) Access(ctx context.Context, index int) (LoadResult, bool, error) {
	p.SetAnchor(index)

	p.mu.RLock()
	initialized := p.initialized
	count := len(p.items)
	appendEnd := p.states.Append.EndOfPaginationReached
	prependEnd := p.states.Prepend.EndOfPaginationReached
	p.mu.RUnlock()

	var loadType LoadType
	switch {
	case !initialized:
		loadType = LoadRefresh
	case index >= count-1-p.prefetch && !appendEnd:
		loadType = LoadAppend
	case index <= p.prefetch && !prependEnd:
		loadType = LoadPrepend
	default:
		return LoadResult{}, false, nil
	}

	res, err := p.LoadMore(ctx, loadType)

	return res, true, err
}

// LoadMore runs one load in the given direction. Loads of one pipeline never
// overlap: a second call waits for the first. The first load of a pipeline is
// always a refresh, whatever loadType says.
func (p *Pipeline) LoadMore(ctx context.Context, loadType LoadType) (LoadResult, error) {
	if !loadType.Valid() {
		return LoadResult{}, fmt.Errorf("invalid load type %s", loadType)
	}
	if p.Closed() {
		return LoadResult{}, ErrPipelineClosed
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.sem.Acquire(loadCtx, 1); err != nil {
		if p.Closed() {
			return LoadResult{}, ErrPipelineClosed
		}
		return LoadResult{}, err
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if !p.initialized {
		loadType = LoadRefresh
	}
	p.states.of(loadType).Loading = true
	p.mu.Unlock()

	var (
		res LoadResult
		err error
	)
	switch loadType {
	case LoadRefresh:
		res, err = p.refresh(loadCtx)
	case LoadPrepend:
		res, err = p.prepend(loadCtx)
	default:
		res, err = p.append(loadCtx)
	}

	if err == nil && p.Closed() {
		err = ErrStaleLoad
	} else if err != nil && p.Closed() && !errors.Is(err, ErrStaleLoad) {
		err = fmt.Errorf("%w: %w", ErrStaleLoad, err)
	}

	p.mu.Lock()
	state := p.states.of(loadType)
	state.Loading = false
	if err != nil {
		state.Err = err
	} else {
		state.Err = nil
		state.EndOfPaginationReached = res.EndOfPaginationReached
	}
	p.mu.Unlock()

	if err != nil && !errors.Is(err, ErrStaleLoad) {
		p.logger.WarnContext(ctx, "guest load failed",
			slog.String("load", loadType.String()), slog.String("error", err.Error()))
	}

	return res, err
}

func (p *Pipeline) refresh(ctx context.Context) (LoadResult, error) {
	res, err := p.coordinator.Load(ctx, LoadRefresh, p.State())
	if err != nil {
		return LoadResult{}, err
	}
	if err = p.advanceFrontier(ctx, LoadRefresh, res.Page); err != nil {
		return LoadResult{}, err
	}

	items, exhausted, err := p.readWindow(ctx, p.sliceSize)
	if err != nil {
		return LoadResult{}, err
	}
	if p.Closed() {
		return LoadResult{}, ErrStaleLoad
	}

	p.mu.Lock()
	p.items = items
	p.localExhausted = exhausted
	p.initialized = true
	p.states.Append = LoadState{EndOfPaginationReached: res.EndOfPaginationReached}
	p.states.Prepend = LoadState{EndOfPaginationReached: res.Page <= 1 || res.EndOfPaginationReached}
	p.mu.Unlock()

	return res, nil
}

func (p *Pipeline) append(ctx context.Context) (LoadResult, error) {
	p.mu.RLock()
	exhausted := p.localExhausted
	appendEnd := p.states.Append.EndOfPaginationReached
	p.mu.RUnlock()

	if !exhausted {
		added, err := p.readAfterLast(ctx, p.sliceSize)
		if err != nil {
			return LoadResult{}, err
		}
		if added > 0 {
			return LoadResult{EndOfPaginationReached: appendEnd}, nil
		}
	}

	if appendEnd {
		return LoadResult{EndOfPaginationReached: true}, nil
	}

	// Pages without a single match are skipped until one adds records or the
	// backend runs out of pages.
	for {
		res, err := p.coordinator.Load(ctx, LoadAppend, p.frontierState(LoadAppend))
		if err != nil {
			return LoadResult{}, err
		}
		if res.Fetched == 0 {
			return res, nil
		}
		if err = p.advanceFrontier(ctx, LoadAppend, res.Page); err != nil {
			return LoadResult{}, err
		}

		p.mu.Lock()
		p.localExhausted = false
		p.mu.Unlock()

		// Drain everything the page added that matches the query.
		drained := 0
		for {
			added, err := p.readAfterLast(ctx, p.sliceSize)
			if err != nil {
				return LoadResult{}, err
			}
			drained += added
			if added == 0 || p.isLocalExhausted() {
				break
			}
		}

		if drained > 0 {
			return res, nil
		}
		p.logger.DebugContext(ctx, "no matching guests on page", slog.Int("page", res.Page))
	}
}

func (p *Pipeline) prepend(ctx context.Context) (LoadResult, error) {
	p.mu.RLock()
	prependEnd := p.states.Prepend.EndOfPaginationReached
	p.mu.RUnlock()

	if prependEnd {
		return LoadResult{EndOfPaginationReached: true}, nil
	}

	for {
		res, err := p.coordinator.Load(ctx, LoadPrepend, p.frontierState(LoadPrepend))
		if err != nil {
			return LoadResult{}, err
		}
		if res.Fetched == 0 {
			return res, nil
		}
		if err = p.advanceFrontier(ctx, LoadPrepend, res.Page); err != nil {
			return LoadResult{}, err
		}

		p.mu.RLock()
		previous := len(p.items)
		p.mu.RUnlock()

		items, exhausted, err := p.readWindow(ctx, previous+res.Fetched)
		if err != nil {
			return LoadResult{}, err
		}
		if p.Closed() {
			return LoadResult{}, ErrStaleLoad
		}

		p.mu.Lock()
		shift := len(items) - len(p.items)
		if p.anchor != nil && shift > 0 {
			*p.anchor += shift
		}
		p.items = items
		p.localExhausted = exhausted
		p.mu.Unlock()

		if shift > 0 {
			return res, nil
		}
		p.logger.DebugContext(ctx, "no matching guests on page", slog.Int("page", res.Page))
	}
}

// frontierState is the paging state the Coordinator continues from. It points
// at the fetched remote pages rather than at the matching records, so a page
// without matches is never fetched twice.
func (p *Pipeline) frontierState(loadType LoadType) PagingState {
	p.mu.RLock()
	edge := p.tail
	if loadType == LoadPrepend {
		edge = p.head
	}
	p.mu.RUnlock()

	if edge == nil {
		return p.State()
	}

	return NewPagingState([]GuestRecord{*edge}, nil)
}

// advanceFrontier moves head or tail onto the edges of a freshly committed
// page. A refresh moves both.
func (p *Pipeline) advanceFrontier(ctx context.Context, loadType LoadType, page int) error {
	if page <= 0 {
		return nil
	}

	first, last, err := p.store.PageEdges(ctx, page)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch loadType {
	case LoadRefresh:
		p.head, p.tail = first, last
	case LoadPrepend:
		if first != nil {
			p.head = first
		}
	default:
		if last != nil {
			p.tail = last
		}
	}

	return nil
}

func (p *Pipeline) isLocalExhausted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.localExhausted
}

// readWindow reads the view from its beginning until at least minCount records
// were read or the view is exhausted.
func (p *Pipeline) readWindow(ctx context.Context, minCount int) ([]GuestRecord, bool, error) {
	var (
		items []GuestRecord
		after *ViewCursor
	)

	for {
		slice, err := p.store.QueryRecords(ctx, p.token.query, after, p.sliceSize)
		if err != nil {
			return nil, false, err
		}

		items = append(items, slice.Items...)
		if slice.Next == nil {
			return items, true, nil
		}
		if len(items) >= minCount {
			return items, false, nil
		}
		after = slice.Next
	}
}

// readAfterLast appends the next local slice after the last loaded record and
// returns how many records it added.
func (p *Pipeline) readAfterLast(ctx context.Context, limit int) (int, error) {
	p.mu.RLock()
	var after *ViewCursor
	if len(p.items) > 0 {
		after = CursorAfter(p.items[len(p.items)-1])
	}
	p.mu.RUnlock()

	slice, err := p.store.QueryRecords(ctx, p.token.query, after, limit)
	if err != nil {
		return 0, err
	}
	if p.Closed() {
		return 0, ErrStaleLoad
	}

	p.mu.Lock()
	p.items = append(p.items, slice.Items...)
	p.localExhausted = slice.Next == nil
	p.mu.Unlock()

	return len(slice.Items), nil
}
