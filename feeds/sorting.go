package feeds

import (
	"github.com/huandu/go-sqlbuilder"

	"github.com/MShaffar19/transitland-datastore/query"
)

// Sort orders accepted by the index
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultSortKey orders feeds by primary key
const DefaultSortKey = "id"

// latestImportLateral exposes each feed's most recent import as latest_feed_version_import
const latestImportLateral = `LATERAL (
	SELECT fvi.created_at, fvi.success
	FROM feed_version_imports AS fvi
	JOIN feed_versions AS fv ON fv.id = fvi.feed_version_id
	WHERE fv.feed_id = feeds.id
	ORDER BY fvi.created_at DESC
	LIMIT 1
) AS latest_feed_version_import`

// ColumnSort orders by a column of the feeds table
type ColumnSort struct {
	Column string
}

func (s *ColumnSort) ApplySort(sb *sqlbuilder.SelectBuilder, order string) {
	if s.Column == "feeds.id" {
		sb.OrderBy("feeds.id " + order)
		return
	}
	sb.OrderBy(s.Column+" "+order+" NULLS LAST", "feeds.id "+order)
}

// LatestImportSort orders by when the feed was last imported
type LatestImportSort struct{}

func (s *LatestImportSort) ApplySort(sb *sqlbuilder.SelectBuilder, order string) {
	sb.JoinWithOption(sqlbuilder.LeftJoin, latestImportLateral, "true")
	sb.OrderBy("latest_feed_version_import.created_at "+order+" NULLS LAST", "feeds.id "+order)
}

var sortStrategies = map[string]query.SortStrategy{
	"id":                                    &ColumnSort{Column: "feeds.id"},
	"onestop_id":                            &ColumnSort{Column: "feeds.onestop_id"},
	"name":                                  &ColumnSort{Column: "feeds.name"},
	"created_at":                            &ColumnSort{Column: "feeds.created_at"},
	"updated_at":                            &ColumnSort{Column: "feeds.updated_at"},
	"last_fetched_at":                       &ColumnSort{Column: "feeds.last_fetched_at"},
	"last_imported_at":                      &ColumnSort{Column: "feeds.last_imported_at"},
	"latest_feed_version_import.created_at": &LatestImportSort{},
}

// SortStrategyFor looks up the strategy for an index sort key
func SortStrategyFor(key string) (query.SortStrategy, bool) {
	s, ok := sortStrategies[key]
	return s, ok
}

var _ query.SortStrategy = (*ColumnSort)(nil)
var _ query.SortStrategy = (*LatestImportSort)(nil)
