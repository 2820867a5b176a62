// Package guestpager keeps a local, searchable cache of visitor-log guests in
// sync with a remote paged HTTP endpoint.
//
// # Overview
//
// guestpager is built from four parts:
//   - RemoteSource: fetches one page of guests from the backend. HTTPSource is
//     the form-encoded POST implementation.
//   - Store: a gorm-backed durable table of GuestRecord plus a table of
//     PageCursor ("remote keys") holding the previous/next page pointers.
//   - Coordinator: decides which remote page a Refresh, Prepend or Append
//     needs, commits the fetched page and its cursors in one transaction and
//     reports whether the end of pagination was reached.
//   - Adapter and Pipeline: own the current search query and expose a lazily
//     growing view over the Store, rebuilt whenever the query changes.
//
// Key concepts
//   - Cursors are coarse: every record of a fetched page carries the same
//     previous/next page pointers.
//   - A query change supersedes the running Pipeline. Loads that complete for a
//     superseded Pipeline are dropped with ErrStaleLoad and never written.
//   - Local slices are read with keyset pagination ordered by
//     (page, position, id), see ViewCursor.
package guestpager
