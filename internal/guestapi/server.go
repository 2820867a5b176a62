// Package guestapi serves the cached guest list over HTTP.
//
// Listing is keyset paginated: every response carries the opaque token of the
// next slice, which the caller passes back as startToken.
package guestapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Alp4ka/guestpager"
)

// DefaultListLimit is used when a request carries no limit.
const DefaultListLimit = 10

type Server struct {
	store  *guestpager.Store
	logger *slog.Logger
}

// New builds the API over store. It only reads; syncing is done elsewhere.
func New(store *guestpager.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{store: store, logger: logger}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/guests", func(r chi.Router) {
		r.Get("/", s.apiGuestList)
		r.Get("/count", s.apiGuestCount)
		r.Get("/total", s.apiGuestTotal)
	})

	return r
}

// GuestListView is one keyset slice of the cached view.
type GuestListView struct {
	Items         []guestpager.GuestRecord `json:"items"`
	NextPageToken string                   `json:"nextPageToken,omitempty"`
	HasMore       bool                     `json:"hasMore"`
}

func (v *GuestListView) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type CountView struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

func (v *CountView) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type TotalView struct {
	Total int `json:"total"`
}

func (v *TotalView) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s *Server) apiGuestList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			render.Render(w, r, httpErrInvalidRequest(err))
			return
		}
		limit = n
	}
	limit = guestpager.NormalizePageSize(limit)

	after, err := guestpager.DecodeViewCursor(q.Get("startToken"))
	if err != nil {
		render.Render(w, r, httpErrInvalidRequest(err))
		return
	}

	slice, err := s.store.QueryRecords(r.Context(), q.Get("query"), after, limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list guests", slog.String("error", err.Error()))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	view := &GuestListView{
		Items:         slice.Items,
		NextPageToken: slice.Next.String(),
		HasMore:       slice.Next != nil,
	}
	if view.Items == nil {
		view.Items = []guestpager.GuestRecord{}
	}

	render.Render(w, r, view)
}

func (s *Server) apiGuestCount(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	count, err := s.store.CountRecords(r.Context(), query)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to count guests", slog.String("error", err.Error()))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	render.Render(w, r, &CountView{Query: query, Count: count})
}

// apiGuestTotal reports the total the backend announced on the last sync.
func (s *Server) apiGuestTotal(w http.ResponseWriter, r *http.Request) {
	total, ok, err := s.store.TotalCount(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to read remote total", slog.String("error", err.Error()))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}
	if !ok {
		render.Render(w, r, httpErrNotFound(errors.New("total not reported yet")))
		return
	}

	render.Render(w, r, &TotalView{Total: total})
}
