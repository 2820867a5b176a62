package guestpager

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ph matches a bind placeholder of any dialect.
const ph = "(?:\\$\\d+|\\?)"

func TestViewCursor_String(t *testing.T) {
	c := &ViewCursor{Page: 2, Position: 4, ID: "EP-7"}

	encoded := c.String()
	assert.NotEmpty(t, encoded)

	decoded, err := DecodeViewCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)

	assert.Empty(t, (*ViewCursor)(nil).String())
}

func TestDecodeViewCursor(t *testing.T) {
	c, err := DecodeViewCursor("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = DecodeViewCursor("%%%")
	assert.Error(t, err)

	_, err = DecodeViewCursor(_encoder.EncodeToString([]byte("not json")))
	assert.Error(t, err)
}

func TestCursorAfter(t *testing.T) {
	rec := GuestRecord{ID: "A", Page: 3, Position: 1}

	assert.Equal(t, &ViewCursor{Page: 3, Position: 1, ID: "A"}, CursorAfter(rec))
}

func TestViewCursor_toDNF(t *testing.T) {
	dnf := (&ViewCursor{Page: 2, Position: 1, ID: "X"}).toDNF()

	expected := keysetDNF{
		{{Column: "page", Operator: ">", Value: 2}},
		{{Column: "page", Operator: "=", Value: 2}, {Column: "position", Operator: ">", Value: 1}},
		{
			{Column: "page", Operator: "=", Value: 2},
			{Column: "position", Operator: "=", Value: 1},
			{Column: "id", Operator: ">", Value: "X"},
		},
	}
	assert.Equal(t, expected, dnf)
}

func TestKeysetDNF_toGORMExpression(t *testing.T) {
	term := keysetTerm{Column: "page", Operator: ">", Value: 1}

	tests := []struct {
		name     string
		dnf      keysetDNF
		expected clause.Expression
	}{
		{
			name:     "empty",
			dnf:      keysetDNF{},
			expected: nil,
		},
		{
			name:     "empty disjuncts are skipped",
			dnf:      keysetDNF{{}, {}},
			expected: nil,
		},
		{
			name:     "single term",
			dnf:      keysetDNF{{term}},
			expected: clause.Expr{SQL: "page > ?", Vars: []any{1}},
		},
		{
			name: "or of and",
			dnf:  keysetDNF{{term}, {term, term}},
			expected: clause.Or(
				clause.Expr{SQL: "page > ?", Vars: []any{1}},
				clause.And(
					clause.Expr{SQL: "page > ?", Vars: []any{1}},
					clause.Expr{SQL: "page > ?", Vars: []any{1}},
				),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dnf.toGORMExpression())
		})
	}
}

func TestIsLastSlice(t *testing.T) {
	assert.True(t, isLastSlice(3, []int{1, 2}))
	assert.True(t, isLastSlice(3, []int{1, 2, 3}))
	assert.False(t, isLastSlice(3, []int{1, 2, 3, 4}))

	assert.Equal(t, []int{1, 2, 3}, trimSlice(3, []int{1, 2, 3, 4}))
	assert.Equal(t, []int{1}, trimSlice(3, []int{1}))
}

func TestStore_QueryRecords_SQL(t *testing.T) {
	sqlMockFnList := []func() (string, *gorm.DB, sqlmock.Sqlmock, error){
		newGORMMySQLMock,
		newGORMPostgresMock,
	}

	containsFor := map[string]string{
		DriverMySQL:    "INSTR\\(BINARY %s, " + ph + "\\) > 0",
		DriverPostgres: "strpos\\(%s, " + ph + "\\) > 0",
	}
	after := fmt.Sprintf(
		"\\(page > %[1]s OR \\(page = %[1]s AND position > %[1]s\\) OR \\(page = %[1]s AND position = %[1]s AND id > %[1]s\\)\\)",
		ph,
	)
	from := "^SELECT \\* FROM [`'\"]guests[`'\"] "
	order := "ORDER BY page ASC, position ASC, id ASC"

	tests := []struct {
		name         string
		query        string
		cursor       *ViewCursor
		limit        int
		buildQuery   func(dialect string) string
		expectedArgs []driver.Value
		rows         int
		wantItems    int
		wantNext     bool
	}{
		{
			name:  "first slice without query",
			limit: 2,
			buildQuery: func(string) string {
				return from + order + " LIMIT 3$"
			},
			rows:      3,
			wantItems: 2,
			wantNext:  true,
		},
		{
			name:  "search query",
			query: "Jo",
			limit: 5,
			buildQuery: func(dialect string) string {
				return from + "WHERE \\(" + fmt.Sprintf(containsFor[dialect], "name") + " OR " +
					fmt.Sprintf(containsFor[dialect], "mobile") + "\\) " + order + " LIMIT 6$"
			},
			expectedArgs: []driver.Value{"Jo", "Jo"},
			rows:         1,
			wantItems:    1,
		},
		{
			name:   "after cursor",
			cursor: &ViewCursor{Page: 1, Position: 4, ID: "E"},
			limit:  2,
			buildQuery: func(string) string {
				return from + "WHERE " + after + " " + order + " LIMIT 3$"
			},
			expectedArgs: []driver.Value{1, 1, 4, 1, 4, "E"},
			rows:         2,
			wantItems:    2,
		},
		{
			name:   "search query after cursor",
			query:  "98",
			cursor: &ViewCursor{Page: 2, Position: 0, ID: "F"},
			limit:  1,
			buildQuery: func(dialect string) string {
				return from + "WHERE \\(" + fmt.Sprintf(containsFor[dialect], "name") + " OR " +
					fmt.Sprintf(containsFor[dialect], "mobile") + "\\) AND " + after + " " + order + " LIMIT 2$"
			},
			expectedArgs: []driver.Value{"98", "98", 2, 2, 0, 2, 0, "F"},
			rows:         2,
			wantItems:    1,
			wantNext:     true,
		},
	}

	for _, sqlMockFn := range sqlMockFnList {
		for _, tt := range tests {
			dialect, db, dbMock, err := sqlMockFn()
			t.Run(fmt.Sprintf("%s %s", dialect, tt.name), func(t *testing.T) {
				require.NoError(t, err)

				rows := sqlmock.NewRows([]string{"id", "name", "mobile", "page", "position"})
				for i := 0; i < tt.rows; i++ {
					rows.AddRow(fmt.Sprintf("G%d", i), "John", "98", 2, i)
				}

				expectation := dbMock.ExpectQuery(tt.buildQuery(dialect))
				if len(tt.expectedArgs) > 0 {
					expectation = expectation.WithArgs(tt.expectedArgs...)
				}
				expectation.WillReturnRows(rows)

				slice, err := NewStore(db).QueryRecords(context.Background(), tt.query, tt.cursor, tt.limit)
				require.NoError(t, err)

				assert.Len(t, slice.Items, tt.wantItems)
				if tt.wantNext {
					require.NotNil(t, slice.Next)
					assert.Equal(t, CursorAfter(slice.Items[len(slice.Items)-1]), slice.Next)
				} else {
					assert.Nil(t, slice.Next)
				}

				assert.NoError(t, dbMock.ExpectationsWereMet())
			})
		}
	}
}
