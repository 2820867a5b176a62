package guestpager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ResponseShape tells which payload layout a RemoteResponse was decoded from.
type ResponseShape int

const (
	// ShapeEnveloped is the canonical layout:
	//
	//	{"error_code": 0, "message": "...", "data": [...], "pagination": {...}}
	ShapeEnveloped ResponseShape = iota
	// ShapeLegacy is the older flat layout without page metadata:
	//
	//	{"status": true, "total_count": 42, "data": [...]}
	//
	// A bare JSON array of records is decoded as ShapeLegacy too.
	ShapeLegacy
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeEnveloped:
		return "enveloped"
	case ShapeLegacy:
		return "legacy"
	default:
		return "ResponseShape(" + strconv.Itoa(int(s)) + ")"
	}
}

// Pagination is the explicit page metadata of an enveloped response.
type Pagination struct {
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
}

// RemoteResponse is one fetched page regardless of the payload layout.
type RemoteResponse struct {
	Shape ResponseShape
	// Guests are the raw records in remote order. Empty means the page is empty.
	Guests []RawGuest

	// Pagination is set for ShapeEnveloped when the payload carried it.
	Pagination *Pagination
	// Status is the legacy success flag, nil when absent.
	Status *bool
	// ErrorCode and Message are informational, the enveloped API reports 0 on success.
	ErrorCode *int
	Message   string

	totalCount *int
}

// TotalCount returns the total number of remote records when the payload
// carried one (pagination.total_records, total_count or total).
func (r RemoteResponse) TotalCount() (int, bool) {
	if r.totalCount == nil {
		return 0, false
	}

	return *r.totalCount, true
}

// IsEmpty reports whether the page carried no records.
func (r RemoteResponse) IsEmpty() bool {
	return len(r.Guests) == 0
}

// Records maps every raw guest to a GuestRecord tagged with page and its
// position inside the page.
func (r RemoteResponse) Records(page int) []GuestRecord {
	return lo.Map(r.Guests, func(g RawGuest, i int) GuestRecord {
		return g.ToRecord(page, i)
	})
}

// RawGuest is a guest as the backend sent it. Both the enveloped field names
// and the legacy flat ones are accepted; ToRecord resolves them.
type RawGuest struct {
	EPassCode    looseString `json:"e_pass_code"`
	GuestName    looseString `json:"guest_name"`
	ContactNo    looseString `json:"contact_no"`
	Time         looseString `json:"time"`
	PassCategory looseString `json:"pass_category"`
	BookingID    looseString `json:"booking_id"`
	KYCStatus    looseString `json:"kyc_status"`
	ExitTime     looseString `json:"exit_time"`

	// Legacy flat names.
	LegacyID        looseString `json:"id"`
	LegacyName      looseString `json:"name"`
	LegacyMobile    looseString `json:"mobile"`
	LegacyEntryTime looseString `json:"entry_time"`
}

// ToRecord is the only place where absent fields turn into defaults. It never
// fails: a record without any usable id gets a generated UNKNOWN_ID_ one.
func (g RawGuest) ToRecord(page, position int) GuestRecord {
	id := firstOr("", g.EPassCode, g.LegacyID)
	if strings.TrimSpace(id) == "" {
		id = unknownIDPrefix + uuid.NewString()
	}

	return GuestRecord{
		ID:           id,
		Name:         firstOr(DefaultName, g.GuestName, g.LegacyName),
		Mobile:       firstOr(DefaultMobile, g.ContactNo, g.LegacyMobile),
		PassCategory: firstOr(DefaultPassCategory, g.PassCategory),
		BookingID:    firstOr(DefaultBookingID, g.BookingID),
		KYCStatus:    firstOr(DefaultKYCStatus, g.KYCStatus),
		EntryTime:    firstOr(DefaultTime, g.Time, g.LegacyEntryTime),
		ExitTime:     firstOr(DefaultTime, g.ExitTime),
		Page:         page,
		Position:     position,
	}
}

func firstOr(fallback string, candidates ...looseString) string {
	found, ok := lo.Find(candidates, func(s looseString) bool { return s.Valid })
	return lo.Ternary(ok, found.Value, fallback)
}

// rawEnvelope covers the union of both layouts. Every field is optional.
type rawEnvelope struct {
	ErrorCode  looseInt        `json:"error_code"`
	Message    looseString     `json:"message"`
	Status     looseBool       `json:"status"`
	Data       json.RawMessage `json:"data"`
	Pagination json.RawMessage `json:"pagination"`
	TotalCount looseInt        `json:"total_count"`
	Total      looseInt        `json:"total"`
}

type rawPagination struct {
	Page         looseInt `json:"page"`
	Limit        looseInt `json:"limit"`
	TotalRecords looseInt `json:"total_records"`
	TotalPages   looseInt `json:"total_pages"`
}

// DecodeRemoteResponse decodes a page payload. Only a body that is not JSON at
// all is an error; missing or mistyped fields degrade to defaults.
func DecodeRemoteResponse(body []byte) (RemoteResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return RemoteResponse{}, fmt.Errorf("empty response body")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return RemoteResponse{}, fmt.Errorf("failed to unmarshal guest list: %w", err)
		}

		return RemoteResponse{Shape: ShapeLegacy, Guests: decodeGuests(items)}, nil
	}

	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return RemoteResponse{}, fmt.Errorf("failed to unmarshal guest response: %w", err)
	}

	resp := RemoteResponse{
		Shape:     ShapeLegacy,
		Guests:    decodeGuests(decodeList(env.Data)),
		ErrorCode: env.ErrorCode.ptr(),
		Message:   env.Message.Value,
		Status:    env.Status.ptr(),
	}

	pagination := decodePagination(env.Pagination)
	if pagination != nil || env.ErrorCode.Valid {
		resp.Shape = ShapeEnveloped
		resp.Pagination = pagination
	}

	switch {
	case pagination != nil:
		resp.totalCount = lo.ToPtr(pagination.TotalRecords)
	case env.TotalCount.Valid:
		resp.totalCount = env.TotalCount.ptr()
	case env.Total.Valid:
		resp.totalCount = env.Total.ptr()
	}

	return resp, nil
}

func decodeList(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}

	return items
}

// decodeGuests skips elements that are not JSON objects.
func decodeGuests(items []json.RawMessage) []RawGuest {
	guests := make([]RawGuest, 0, len(items))
	for _, item := range items {
		var g RawGuest
		if json.Unmarshal(item, &g) != nil {
			continue
		}

		guests = append(guests, g)
	}

	return guests
}

func decodePagination(raw json.RawMessage) *Pagination {
	var p rawPagination
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return nil
	}

	if !p.Page.Valid && !p.Limit.Valid && !p.TotalRecords.Valid && !p.TotalPages.Valid {
		return nil
	}

	return &Pagination{
		Page:         p.Page.Value,
		Limit:        p.Limit.Value,
		TotalRecords: p.TotalRecords.Value,
		TotalPages:   p.TotalPages.Value,
	}
}

// looseString accepts strings, numbers and booleans. Null, objects and arrays
// leave it invalid instead of failing the whole record.
type looseString struct {
	Value string
	Valid bool
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	*s = looseString{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString{Value: str, Valid: true}
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*s = looseString{Value: num.String(), Valid: true}
		return nil
	}

	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*s = looseString{Value: strconv.FormatBool(flag), Valid: true}
	}

	return nil
}

// looseInt accepts integers and numeric strings.
type looseInt struct {
	Value int
	Valid bool
}

func (n *looseInt) UnmarshalJSON(b []byte) error {
	*n = looseInt{}

	var s looseString
	_ = s.UnmarshalJSON(b)
	if !s.Valid {
		return nil
	}

	if v, err := strconv.Atoi(strings.TrimSpace(s.Value)); err == nil {
		*n = looseInt{Value: v, Valid: true}
	} else if f, err := strconv.ParseFloat(strings.TrimSpace(s.Value), 64); err == nil {
		*n = looseInt{Value: int(f), Valid: true}
	}

	return nil
}

func (n looseInt) ptr() *int {
	return lo.Ternary[*int](n.Valid, lo.ToPtr(n.Value), nil)
}

// looseBool accepts booleans, 0/1 and "true"/"false".
type looseBool struct {
	Value bool
	Valid bool
}

func (v *looseBool) UnmarshalJSON(b []byte) error {
	*v = looseBool{}

	var s looseString
	_ = s.UnmarshalJSON(b)
	if !s.Valid {
		return nil
	}

	if parsed, err := strconv.ParseBool(strings.TrimSpace(s.Value)); err == nil {
		*v = looseBool{Value: parsed, Valid: true}
	}

	return nil
}

func (v looseBool) ptr() *bool {
	return lo.Ternary[*bool](v.Valid, lo.ToPtr(v.Value), nil)
}
