package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slotwise-platform/pkg/db/pagination"
)

// QueryOption mutates a gorm query before it is executed by the repository.
type QueryOption func(tx *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE on every query
// inside a transaction.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.SortBy)
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return tx
		}

		order := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			order = "DESC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, order))
	}
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		for _, c := range conds {
			tx = tx.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		}
		return tx
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.CreatedAt != "" {
				// compare as time.Time so the driver formats it, a raw
				// string would not collate against timestamp columns
				if ts, err := cursor.Time(); err == nil {
					tx = ApplyOperator(Condition{Field: "created_at", Operator: LT, Value: ts})(tx)
				}
			}
		}

		// fetch one extra row so callers can detect has_more
		return tx.Limit(limit + 1)
	}
}
