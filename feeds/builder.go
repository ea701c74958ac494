package feeds

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/MShaffar19/transitland-datastore/query"
)

// FeedColumns is the column list every feed query selects, in scan order
var FeedColumns = []string{
	"feeds.id",
	"feeds.onestop_id",
	"feeds.name",
	"feeds.feed_format",
	"feeds.urls",
	"feeds.license",
	"feeds.feed_authorization",
	"feeds.last_fetched_at",
	"feeds.last_imported_at",
	"feeds.latest_fetch_exception_log",
	"feeds.active_feed_version_id",
	"feeds.created_at",
	"feeds.updated_at",
}

// FeedQueryBuilder builds feed queries with filters and a sort
type FeedQueryBuilder struct {
	filters []query.FilterStrategy
	sort    query.SortStrategy
	order   string
}

func NewFeedQueryBuilder() *FeedQueryBuilder {
	return &FeedQueryBuilder{
		filters: make([]query.FilterStrategy, 0),
		sort:    sortStrategies[DefaultSortKey],
		order:   SortAsc,
	}
}

func (b *FeedQueryBuilder) AddFilter(filter query.FilterStrategy) {
	b.filters = append(b.filters, filter)
}

// SetSort replaces the sort. Anything but "desc" sorts ascending.
func (b *FeedQueryBuilder) SetSort(strategy query.SortStrategy, order string) {
	b.sort = strategy
	b.order = SortAsc
	if strings.EqualFold(order, SortDesc) {
		b.order = SortDesc
	}
}

// Build renders the query. A non-positive limit returns every matching row.
func (b *FeedQueryBuilder) Build(limit int, offset int) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(FeedColumns...)
	sb.From("feeds")

	// Apply all filters
	for _, filter := range b.filters {
		filter.ApplyFilter(sb)
	}

	b.sort.ApplySort(sb, strings.ToUpper(b.order))

	if limit > 0 {
		sb.Limit(limit)
	}
	if offset > 0 {
		sb.Offset(offset)
	}

	return sb.Build()
}

var _ query.Builder = (*FeedQueryBuilder)(nil)
