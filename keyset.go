package guestpager

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _encoder = base64.RawURLEncoding

// viewOrdering is the only order local slices are read in. The last column is
// unique, which keeps keyset pagination deterministic.
var viewOrdering = []string{"page", "position", "id"}

func applyViewOrdering(db *gorm.DB) *gorm.DB {
	return db.Order(strings.Join(lo.Map(viewOrdering, func(column string, _ int) string {
		return column + " ASC"
	}), ", "))
}

// ViewCursor points at the last record of a local slice. The next slice starts
// strictly after it in (page, position, id) order. A nil cursor means the
// beginning of the view.
type ViewCursor struct {
	Page     int    `json:"p"`
	Position int    `json:"o"`
	ID       string `json:"i"`
}

// CursorAfter returns the cursor positioned on rec.
func CursorAfter(rec GuestRecord) *ViewCursor {
	return &ViewCursor{Page: rec.Page, Position: rec.Position, ID: rec.ID}
}

// DecodeViewCursor parses a token produced by ViewCursor.String. An empty token
// decodes to a nil cursor.
func DecodeViewCursor(b64String string) (*ViewCursor, error) {
	if len(b64String) == 0 {
		return nil, nil
	}

	jsonData, err := _encoder.DecodeString(b64String)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 encoded view cursor: %w", err)
	}

	var c ViewCursor
	if err = json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal json encoded view cursor: %w", err)
	}

	return &c, nil
}

// String - implements fmt.Stringer.
func (c *ViewCursor) String() string {
	if c.IsEmpty() {
		return ""
	}

	jTok, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Errorf("cannot marshal view cursor value: %w", err))
	}

	var buf bytes.Buffer
	if err = json.Compact(&buf, jTok); err != nil {
		panic(fmt.Errorf("cannot compact view cursor value: %w", err))
	}

	return _encoder.EncodeToString(buf.Bytes())
}

func (c *ViewCursor) IsEmpty() bool {
	return c == nil
}

// Apply restricts the query to rows after the cursor.
func (c *ViewCursor) Apply(db *gorm.DB) *gorm.DB {
	if c.IsEmpty() {
		return db
	}

	exp := c.toDNF().toGORMExpression()
	if exp == nil {
		return db
	}

	return db.Clauses(exp)
}

func (c *ViewCursor) values() []any {
	return []any{c.Page, c.Position, c.ID}
}

// toDNF expands the cursor over the ascending view ordering:
//
//	(page > P) OR (page = P AND position > O) OR (page = P AND position = O AND id > I)
func (c *ViewCursor) toDNF() keysetDNF {
	values := c.values()

	dnf := make(keysetDNF, 0, len(viewOrdering))
	for i, column := range viewOrdering {
		disjunct := make(keysetDisjunct, 0, i+1)
		for j := 0; j < i; j++ {
			disjunct = append(disjunct, keysetTerm{Column: viewOrdering[j], Operator: "=", Value: values[j]})
		}
		disjunct = append(disjunct, keysetTerm{Column: column, Operator: ">", Value: values[i]})

		dnf = append(dnf, disjunct)
	}

	return dnf
}

var _ fmt.Stringer = (*ViewCursor)(nil)

type (
	keysetTerm struct {
		Column   string
		Operator string
		Value    any
	}

	// keysetDisjunct is a list of terms joined by AND.
	keysetDisjunct []keysetTerm

	// keysetDNF is a list of disjuncts joined by OR.
	keysetDNF []keysetDisjunct
)

// toGORMExpression renders "Column Operator ?".
func (t keysetTerm) toGORMExpression() clause.Expression {
	return clause.Expr{
		SQL:  fmt.Sprintf("%s %s ?", t.Column, t.Operator),
		Vars: []any{t.Value},
	}
}

func (d keysetDisjunct) toGORMExpression() clause.Expression {
	andExpressions := make([]clause.Expression, 0, len(d))
	for _, term := range d {
		andExpressions = append(andExpressions, term.toGORMExpression())
	}

	if len(andExpressions) == 1 {
		return andExpressions[0]
	} else if len(andExpressions) > 1 {
		return clause.And(andExpressions...)
	}

	return nil
}

func (d keysetDNF) toGORMExpression() clause.Expression {
	orExpressions := make([]clause.Expression, 0, len(d))
	for _, disjunct := range d {
		andExpression := disjunct.toGORMExpression()
		if andExpression == nil {
			continue
		}

		orExpressions = append(orExpressions, andExpression)
	}

	if len(orExpressions) == 1 {
		return orExpressions[0]
	} else if len(orExpressions) > 1 {
		return clause.Or(orExpressions...)
	}

	return nil
}

// isLastSlice reports whether a lookahead read (limit+1 rows) returned the end
// of the view.
func isLastSlice[T any](limit int, resultSet []T) bool {
	return len(resultSet) <= limit
}

// trimSlice drops the lookahead row.
func trimSlice[T any](limit int, resultSet []T) []T {
	if len(resultSet) > limit {
		resultSet = resultSet[:limit]
	}

	return resultSet
}
