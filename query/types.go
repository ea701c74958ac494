package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// Builder builds SQL queries for feed listing
type Builder interface {
	Build(limit int, offset int) (string, []interface{})
}

// SortStrategy defines how feeds should be ordered
type SortStrategy interface {
	// ApplySort adds any joins the sort needs and the ORDER BY clause
	ApplySort(sb *sqlbuilder.SelectBuilder, order string)
}

// FilterStrategy adds WHERE conditions to the query
type FilterStrategy interface {
	// ApplyFilter adds filter conditions to the query builder
	ApplyFilter(sb *sqlbuilder.SelectBuilder)
}
