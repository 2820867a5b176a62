package guestpager

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGORMMySQLMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "mysql", db.Debug(), mock, nil
}

func newGORMPostgresMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "postgres", db.Debug(), mock, nil
}

// newSQLiteStore opens a private in-memory database. A single connection keeps
// every query on the same memory database.
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func str(v string) looseString {
	return looseString{Value: v, Valid: true}
}

func rawGuest(id, name, mobile string) RawGuest {
	return RawGuest{EPassCode: str(id), GuestName: str(name), ContactNo: str(mobile)}
}

// pageOf builds n guests "p<page>-<i>" named "Guest <page>-<i>".
func pageOf(page, n int) []RawGuest {
	guests := make([]RawGuest, 0, n)
	for i := 0; i < n; i++ {
		guests = append(guests, rawGuest(
			fmt.Sprintf("p%d-%d", page, i),
			fmt.Sprintf("Guest %d-%d", page, i),
			fmt.Sprintf("9000%d%d", page, i),
		))
	}

	return guests
}

// recordsOf is pageOf converted the way a fetched page is stored.
func recordsOf(page, n int) []GuestRecord {
	return RemoteResponse{Guests: pageOf(page, n)}.Records(page)
}

// fakeSource serves fixed pages and records every requested page number.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[int][]RawGuest
	total     *int
	err       error
	requested []int

	// When block is set, FetchPage announces itself on started and waits on
	// block, ignoring ctx.
	started chan int
	block   chan struct{}
}

func newFakeSource(pages map[int][]RawGuest) *fakeSource {
	return &fakeSource{pages: pages}
}

func (f *fakeSource) FetchPage(_ context.Context, page, _ int) (RemoteResponse, error) {
	f.mu.Lock()
	f.requested = append(f.requested, page)
	err := f.err
	guests := f.pages[page]
	total := f.total
	started, block := f.started, f.block
	f.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- page
		}
		<-block
	}

	if err != nil {
		return RemoteResponse{}, err
	}

	return RemoteResponse{Shape: ShapeEnveloped, Guests: guests, totalCount: total}, nil
}

func (f *fakeSource) Requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.requested...)
}

func (f *fakeSource) setBlocking(started chan int, block chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started, f.block = started, block
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

func allRecords(t *testing.T, s *Store) []GuestRecord {
	t.Helper()

	var out []GuestRecord
	for rec, err := range s.Records(context.Background(), "", MaxPageSize) {
		require.NoError(t, err)
		out = append(out, rec)
	}

	return out
}

func countCursors(t *testing.T, s *Store) int64 {
	t.Helper()

	var n int64
	require.NoError(t, s.DB().Model(&PageCursor{}).Count(&n).Error)

	return n
}

func ids(records []GuestRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}

	return out
}
