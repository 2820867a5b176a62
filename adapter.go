package guestpager

import (
	"context"
	"log/slog"
	"sync"
)

// commitGate lets a query change wait for in-flight commits and then refuse
// every commit of the superseded generation.
type commitGate struct {
	mu         sync.RWMutex
	generation uint64
}

func (g *commitGate) guard(generation uint64) CommitGuard {
	return func(ctx context.Context, commit func() error) error {
		g.mu.RLock()
		defer g.mu.RUnlock()

		if g.generation != generation {
			return ErrStaleLoad
		}

		return commit()
	}
}

// advance bumps the generation while no commit is running and calls fn with
// the new value before any commit can observe it.
func (g *commitGate) advance(fn func(generation uint64)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.generation++
	fn(g.generation)
}

// Adapter owns the current search query and the Pipeline serving it. Setting a
// different query closes the current Pipeline and builds a new one; after
// SetQuery returns, nothing loaded for the old query reaches the Store.
type Adapter struct {
	store    *Store
	source   RemoteSource
	pageSize int
	prefetch int
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	gate   commitGate

	mu      sync.Mutex
	current *Pipeline
	subs    map[int]chan *Pipeline
	nextSub int
	closed  bool
}

type AdapterOption func(*Adapter)

func WithAdapterPageSize(size int) AdapterOption {
	return func(a *Adapter) {
		a.pageSize = NormalizePageSize(size)
	}
}

func WithPrefetchDistance(distance int) AdapterOption {
	return func(a *Adapter) {
		a.prefetch = NormalizePrefetchDistance(distance)
	}
}

func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter starts with the empty query, which matches every record.
func NewAdapter(source RemoteSource, store *Store, opts ...AdapterOption) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		store:    store,
		source:   source,
		pageSize: DefaultPageSize,
		prefetch: DefaultPrefetchDistance,
		logger:   discardLogger(),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan *Pipeline),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.gate.advance(func(generation uint64) {
		a.current = a.newPipeline(generation, "")
	})

	return a
}

func (a *Adapter) newPipeline(generation uint64, query string) *Pipeline {
	return newPipeline(pipelineParams{
		token:    QueryToken{generation: generation, query: query},
		store:    a.store,
		source:   a.source,
		pageSize: a.pageSize,
		prefetch: a.prefetch,
		guard:    a.gate.guard(generation),
		onTotal: func(total int) {
			a.logger.Debug("remote total reported", slog.Int("total", total))
		},
		logger:    a.logger,
		parentCtx: a.ctx,
	})
}

// Query returns the current search query.
func (a *Adapter) Query() string {
	return a.Current().Query()
}

// Current returns the Pipeline of the current query.
func (a *Adapter) Current() *Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.current
}

// TotalCount returns the last total reported by the backend, or false when no
// committed page carried one yet. The value lives in the Store, so it survives
// the Adapter and the process that synced it.
func (a *Adapter) TotalCount(ctx context.Context) (int, bool, error) {
	return a.store.TotalCount(ctx)
}

// SetQuery switches to query and returns its Pipeline. The same query as the
// current one keeps the current Pipeline.
func (a *Adapter) SetQuery(query string) *Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return a.current
	}
	if a.current != nil && a.current.Query() == query && !a.current.Closed() {
		return a.current
	}

	previous := a.current
	a.gate.advance(func(generation uint64) {
		if previous != nil {
			previous.close()
		}
		a.current = a.newPipeline(generation, query)
	})

	a.logger.Debug("search query changed",
		slog.String("query", query), slog.String("query_token", a.current.Token().String()))

	for _, ch := range a.subs {
		publishLatest(ch, a.current)
	}

	return a.current
}

// Subscribe emits the current Pipeline and then every Pipeline built by a later
// query change. Slow subscribers only see the latest one. The channel closes
// when ctx is done or the Adapter is closed.
func (a *Adapter) Subscribe(ctx context.Context) <-chan *Pipeline {
	ch := make(chan *Pipeline, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		close(ch)
		return ch
	}
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	ch <- a.current
	a.mu.Unlock()

	context.AfterFunc(ctx, func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
	})

	return ch
}

// Close stops the current Pipeline and every subscription.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true

	a.gate.advance(func(uint64) {
		a.cancel()
	})

	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

// publishLatest replaces whatever the subscriber has not read yet.
func publishLatest(ch chan *Pipeline, p *Pipeline) {
	select {
	case <-ch:
	default:
	}

	select {
	case ch <- p:
	default:
	}
}
