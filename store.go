package guestpager

import (
	"context"
	"fmt"
	"iter"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Supported StoreConfig drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// StoreConfig selects and opens the durable cache database.
type StoreConfig struct {
	Driver string
	DSN    string
	// Debug switches gorm's logger to Info level.
	Debug bool
}

// OpenStore opens the database named by cfg and migrates the cache tables.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("missing store dsn")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w '%s'", ErrUnknownDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.Debug {
		db.Logger = db.Logger.LogMode(logger.Info)
	}

	s := NewStore(db)
	if err = s.Migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Store is the local cache: the guests and remote_keys tables, plus the
// sync_meta table keeping the backend-reported total.
//
// Every method runs against the wrapped *gorm.DB, so a Store handed to the
// Transaction callback reads and writes inside that transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&GuestRecord{}, &PageCursor{}, &SyncMeta{}); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	return nil
}

// Transaction runs fn atomically. Records and cursors written through the
// Store passed to fn become visible together or not at all.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// UpsertRecords inserts records or replaces the ones with the same id.
func (s *Store) UpsertRecords(ctx context.Context, records []GuestRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("failed to upsert guests: %w", err)
	}

	return nil
}

// UpsertCursors inserts cursors or replaces the ones with the same guest id.
func (s *Store) UpsertCursors(ctx context.Context, cursors []PageCursor) error {
	if len(cursors) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&cursors).Error
	if err != nil {
		return fmt.Errorf("failed to upsert remote keys: %w", err)
	}

	return nil
}

// CursorFor returns the cursor of a record, or nil when there is none.
func (s *Store) CursorFor(ctx context.Context, guestID string) (*PageCursor, error) {
	var cursors []PageCursor

	err := s.db.WithContext(ctx).
		Where("guest_id = ?", guestID).
		Limit(1).
		Find(&cursors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read remote key of '%s': %w", guestID, err)
	}

	if len(cursors) == 0 {
		return nil, nil
	}

	return &cursors[0], nil
}

// SaveTotalCount records the total number of remote records.
func (s *Store) SaveTotalCount(ctx context.Context, total int) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&SyncMeta{Name: metaRemoteTotal, Value: int64(total)}).Error
	if err != nil {
		return fmt.Errorf("failed to save remote total: %w", err)
	}

	return nil
}

// TotalCount returns the last saved remote total, or false when no fetched
// page reported one.
func (s *Store) TotalCount(ctx context.Context) (int, bool, error) {
	var rows []SyncMeta

	err := s.db.WithContext(ctx).
		Where("name = ?", metaRemoteTotal).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to read remote total: %w", err)
	}

	if len(rows) == 0 {
		return 0, false, nil
	}

	return int(rows[0].Value), true, nil
}

// PageEdges returns the first and last cached records of a remote page, nil
// when the page has none.
func (s *Store) PageEdges(ctx context.Context, page int) (first, last *GuestRecord, err error) {
	edge := func(order string) (*GuestRecord, error) {
		var rows []GuestRecord

		err := s.db.WithContext(ctx).
			Where("page = ?", page).
			Order(order).
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to read edges of page %d: %w", page, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}

		return &rows[0], nil
	}

	if first, err = edge("position ASC"); err != nil {
		return nil, nil, err
	}
	if last, err = edge("position DESC"); err != nil {
		return nil, nil, err
	}

	return first, last, nil
}

// ClearAll empties the guests and remote_keys tables. The saved remote total
// is kept until a page reports a new one.
func (s *Store) ClearAll(ctx context.Context) error {
	db := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})

	if err := db.Delete(&PageCursor{}).Error; err != nil {
		return fmt.Errorf("failed to clear remote keys: %w", err)
	}
	if err := db.Delete(&GuestRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear guests: %w", err)
	}

	return nil
}

// RecordSlice is one keyset slice of the local view.
type RecordSlice struct {
	Items []GuestRecord
	// Next is the cursor of the following slice, nil when the view is exhausted.
	Next *ViewCursor
}

// QueryRecords reads up to limit records matching query that come after the
// cursor, ordered by page, then position inside the page.
func (s *Store) QueryRecords(ctx context.Context, query string, after *ViewCursor, limit int) (RecordSlice, error) {
	limit = NormalizePageSize(limit)

	db := s.searchScope(s.db.WithContext(ctx).Model(&GuestRecord{}), query)
	db = after.Apply(db)
	db = applyViewOrdering(db)

	var rows []GuestRecord
	if err := db.Limit(limit + 1).Find(&rows).Error; err != nil {
		return RecordSlice{}, fmt.Errorf("failed to query guests: %w", err)
	}

	if isLastSlice(limit, rows) {
		return RecordSlice{Items: rows}, nil
	}

	rows = trimSlice(limit, rows)

	return RecordSlice{Items: rows, Next: CursorAfter(rows[len(rows)-1])}, nil
}

// CountRecords counts the records matching query.
func (s *Store) CountRecords(ctx context.Context, query string) (int64, error) {
	var count int64

	err := s.searchScope(s.db.WithContext(ctx).Model(&GuestRecord{}), query).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count guests: %w", err)
	}

	return count, nil
}

// Records lazily walks every record matching query, reading sliceSize rows at a
// time. Iteration stops at the first error, which is yielded once.
func (s *Store) Records(ctx context.Context, query string, sliceSize int) iter.Seq2[GuestRecord, error] {
	return func(yield func(GuestRecord, error) bool) {
		var after *ViewCursor

		for {
			slice, err := s.QueryRecords(ctx, query, after, sliceSize)
			if err != nil {
				yield(GuestRecord{}, err)
				return
			}

			for _, rec := range slice.Items {
				if !yield(rec, nil) {
					return
				}
			}

			if slice.Next == nil {
				return
			}
			after = slice.Next
		}
	}
}

// searchScope applies the case-sensitive substring filter on name or mobile.
// An empty query matches every record.
func (s *Store) searchScope(db *gorm.DB, query string) *gorm.DB {
	if query == "" {
		return db
	}

	return db.Where(fmt.Sprintf("%s OR %s",
		containsSQL(s.db.Dialector.Name(), "name"),
		containsSQL(s.db.Dialector.Name(), "mobile"),
	), query, query)
}

// containsSQL renders a case-sensitive "column contains ?" test. LIKE is not
// used: it folds case on sqlite and mysql and treats % and _ as wildcards.
func containsSQL(dialect, column string) string {
	switch dialect {
	case DriverPostgres:
		return fmt.Sprintf("strpos(%s, ?) > 0", column)
	case DriverMySQL:
		return fmt.Sprintf("INSTR(BINARY %s, ?) > 0", column)
	default:
		return fmt.Sprintf("instr(%s, ?) > 0", column)
	}
}
