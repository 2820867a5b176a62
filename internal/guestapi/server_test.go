package guestapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Alp4ka/guestpager"
)

func newTestStore(t *testing.T) *guestpager.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := guestpager.NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))

	var records []guestpager.GuestRecord
	for i := 0; i < 5; i++ {
		records = append(records, guestpager.GuestRecord{
			ID:       fmt.Sprintf("G%d", i),
			Name:     fmt.Sprintf("Guest %d", i),
			Mobile:   fmt.Sprintf("98%d", i),
			Page:     1,
			Position: i,
		})
	}
	records[3].Name = "John"
	require.NoError(t, s.UpsertRecords(context.Background(), records))

	return s
}

func doGet(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}

	return rec.Code
}

func TestServer_GuestList(t *testing.T) {
	h := New(newTestStore(t), nil).Router()

	var first GuestListView
	require.Equal(t, http.StatusOK, doGet(t, h, "/guests?limit=3", &first))
	require.Len(t, first.Items, 3)
	assert.Equal(t, "G0", first.Items[0].ID)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	var second GuestListView
	require.Equal(t, http.StatusOK, doGet(t, h, "/guests?limit=3&startToken="+first.NextPageToken, &second))
	require.Len(t, second.Items, 2)
	assert.Equal(t, "G3", second.Items[0].ID)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextPageToken)
}

func TestServer_GuestList_Query(t *testing.T) {
	h := New(newTestStore(t), nil).Router()

	var view GuestListView
	require.Equal(t, http.StatusOK, doGet(t, h, "/guests?query=John", &view))
	require.Len(t, view.Items, 1)
	assert.Equal(t, "G3", view.Items[0].ID)

	require.Equal(t, http.StatusOK, doGet(t, h, "/guests?query=nobody", &view))
	assert.NotNil(t, view.Items)
	assert.Empty(t, view.Items)
}

func TestServer_GuestList_BadRequest(t *testing.T) {
	h := New(newTestStore(t), nil).Router()

	var errResp HttpErrResponse
	assert.Equal(t, http.StatusBadRequest, doGet(t, h, "/guests?limit=ten", &errResp))
	assert.Equal(t, "Invalid Request", errResp.ErrorText)

	assert.Equal(t, http.StatusBadRequest, doGet(t, h, "/guests?startToken=%25%25", nil))
}

func TestServer_GuestCount(t *testing.T) {
	h := New(newTestStore(t), nil).Router()

	var view CountView
	require.Equal(t, http.StatusOK, doGet(t, h, "/guests/count?query=98", &view))
	assert.Equal(t, CountView{Query: "98", Count: 5}, view)
}

func TestServer_GuestTotal(t *testing.T) {
	s := newTestStore(t)
	h := New(s, nil).Router()

	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/guests/total", nil))

	src := guestpager.RemoteSourceFunc(func(context.Context, int, int) (guestpager.RemoteResponse, error) {
		return guestpager.DecodeRemoteResponse([]byte(`{"error_code":0,"data":[{"e_pass_code":"A"}],"pagination":{"page":1,"limit":5,"total_records":31,"total_pages":7}}`))
	})

	// A sync run that has already finished and closed its adapter.
	a := guestpager.NewAdapter(src, s)
	_, err := a.Current().LoadMore(context.Background(), guestpager.LoadRefresh)
	require.NoError(t, err)
	a.Close()

	var view TotalView
	require.Equal(t, http.StatusOK, doGet(t, New(s, nil).Router(), "/guests/total", &view))
	assert.Equal(t, 31, view.Total)
}
