package feeds

import (
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"

	"github.com/MShaffar19/transitland-datastore/query"
)

// activeFeedVersion selects the feed's active version for correlated filters
func activeFeedVersion() *sqlbuilder.SelectBuilder {
	sub := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sub.Select("1").From("feed_versions AS active_fv")
	sub.Where("active_fv.id = feeds.active_feed_version_id")
	return sub
}

// OnestopIdFilter matches any of the given onestop ids
type OnestopIdFilter struct {
	OnestopIds []string
}

func (f *OnestopIdFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if len(f.OnestopIds) > 0 {
		sb.Where(sb.In("feeds.onestop_id", lo.ToAnySlice(f.OnestopIds)...))
	}
}

// NameFilter matches any of the given feed names
type NameFilter struct {
	Names []string
}

func (f *NameFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if len(f.Names) > 0 {
		sb.Where(sb.In("feeds.name", lo.ToAnySlice(f.Names)...))
	}
}

// UrlFilter matches the current static url
type UrlFilter struct {
	Urls []string
}

func (f *UrlFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if len(f.Urls) > 0 {
		sb.Where(sb.In("feeds.urls->>'static_current'", lo.ToAnySlice(f.Urls)...))
	}
}

// LastImportedSinceFilter keeps feeds imported at or after Since
type LastImportedSinceFilter struct {
	Since time.Time
}

func (f *LastImportedSinceFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.GreaterEqualThan("feeds.last_imported_at", f.Since))
}

// LatestFetchExceptionFilter keeps feeds whose last fetch did (or did not) fail
type LatestFetchExceptionFilter struct {
	Exception bool
}

func (f *LatestFetchExceptionFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Exception {
		sb.Where(sb.IsNotNull("feeds.latest_fetch_exception_log"))
	} else {
		sb.Where(sb.IsNull("feeds.latest_fetch_exception_log"))
	}
}

// ActiveFeedVersionValidFilter keeps feeds whose active version covers Date
type ActiveFeedVersionValidFilter struct {
	Date time.Time
}

func (f *ActiveFeedVersionValidFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sub := activeFeedVersion()
	sub.Where(
		sub.LessEqualThan("active_fv.earliest_calendar_date", f.Date),
		sub.GreaterEqualThan("active_fv.latest_calendar_date", f.Date),
	)
	sb.Where(sb.Exists(sub))
}

// ActiveFeedVersionExpiredFilter keeps feeds whose active version ended before Date
type ActiveFeedVersionExpiredFilter struct {
	Date time.Time
}

func (f *ActiveFeedVersionExpiredFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sub := activeFeedVersion()
	sub.Where(sub.LessThan("active_fv.latest_calendar_date", f.Date))
	sb.Where(sb.Exists(sub))
}

// ActiveFeedVersionUpdateFilter keeps feeds with a version fetched after the active one
type ActiveFeedVersionUpdateFilter struct{}

func (f *ActiveFeedVersionUpdateFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sub := activeFeedVersion()
	sub.Join("feed_versions AS newer_fv",
		"newer_fv.feed_id = active_fv.feed_id",
		"newer_fv.fetched_at > active_fv.fetched_at",
	)
	sb.Where(sb.Exists(sub))
}

// ActiveFeedVersionImportLevelFilter keeps feeds whose active version reached Level
type ActiveFeedVersionImportLevelFilter struct {
	Level int
}

func (f *ActiveFeedVersionImportLevelFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sub := activeFeedVersion()
	sub.Where(sub.Equal("active_fv.import_level", f.Level))
	sb.Where(sb.Exists(sub))
}

// LatestFeedVersionImportStatusFilter keeps feeds whose most recent import
// succeeded (or failed). Feeds never imported, or with an import still
// running, match neither.
type LatestFeedVersionImportStatusFilter struct {
	Success bool
}

func (f *LatestFeedVersionImportStatusFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sub := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sub.Select("fvi.success").
		From("feed_version_imports AS fvi").
		Join("feed_versions AS fv", "fv.id = fvi.feed_version_id").
		Where("fv.feed_id = feeds.id").
		OrderBy("fvi.created_at").Desc().
		Limit(1)

	literal := "FALSE"
	if f.Success {
		literal = "TRUE"
	}
	sb.Where(fmt.Sprintf("(%s) IS %s", sb.Var(sub), literal))
}

var _ query.FilterStrategy = (*OnestopIdFilter)(nil)
var _ query.FilterStrategy = (*NameFilter)(nil)
var _ query.FilterStrategy = (*UrlFilter)(nil)
var _ query.FilterStrategy = (*LastImportedSinceFilter)(nil)
var _ query.FilterStrategy = (*LatestFetchExceptionFilter)(nil)
var _ query.FilterStrategy = (*ActiveFeedVersionValidFilter)(nil)
var _ query.FilterStrategy = (*ActiveFeedVersionExpiredFilter)(nil)
var _ query.FilterStrategy = (*ActiveFeedVersionUpdateFilter)(nil)
var _ query.FilterStrategy = (*ActiveFeedVersionImportLevelFilter)(nil)
var _ query.FilterStrategy = (*LatestFeedVersionImportStatusFilter)(nil)
