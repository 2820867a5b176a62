package guestpager

// Placeholders used when the remote payload omits a field.
const (
	DefaultName         = "Unknown Name"
	DefaultMobile       = "No Mobile"
	DefaultPassCategory = "Regular"
	DefaultBookingID    = "N/A"
	DefaultKYCStatus    = "Pending"
	DefaultTime         = "-"

	unknownIDPrefix = "UNKNOWN_ID_"
)

// GuestRecord is a cached visitor-log entry.
//
// Page and Position are cache bookkeeping: the remote page the row was fetched
// on and its index inside that page. They are not business data.
type GuestRecord struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"not null;index" json:"name"`
	Mobile       string `gorm:"not null;index" json:"mobile"`
	PassCategory string `json:"passCategory"`
	BookingID    string `json:"bookingId"`
	KYCStatus    string `gorm:"column:kyc_status" json:"kycStatus"`
	EntryTime    string `json:"entryTime"`
	ExitTime     string `json:"exitTime"`
	Page         int    `gorm:"not null;index:idx_guests_order,priority:1" json:"page"`
	Position     int    `gorm:"not null;index:idx_guests_order,priority:2" json:"position"`
}

func (GuestRecord) TableName() string { return "guests" }

// PageCursor ("remote key") stores the pagination pointers of the page a record
// was fetched on.
//
// IMPORTANT:
// Pointers are replicated onto every record of the page, they describe the page
// and not the record itself.
type PageCursor struct {
	GuestID  string `gorm:"primaryKey" json:"guestId"`
	PrevPage *int   `json:"prevPage"`
	NextPage *int   `json:"nextPage"`
}

func (PageCursor) TableName() string { return "remote_keys" }

// HasPrev reports whether a previous page is known.
func (c *PageCursor) HasPrev() bool {
	return c != nil && c.PrevPage != nil
}

// HasNext reports whether a next page is known.
func (c *PageCursor) HasNext() bool {
	return c != nil && c.NextPage != nil
}

// SyncMeta holds one value the backend reported about the whole dataset.
type SyncMeta struct {
	Name  string `gorm:"primaryKey" json:"name"`
	Value int64  `gorm:"not null" json:"value"`
}

func (SyncMeta) TableName() string { return "sync_meta" }

const metaRemoteTotal = "remote_total"
