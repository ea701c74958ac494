package feeds

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/samber/lo"
)

// Page size limits for the index
const (
	DefaultPerPage = 50
	MaxPerPage     = 1000
)

// IndexQuery holds the parsed parameters of a feeds index request
type IndexQuery struct {
	OnestopIds                    []string
	Names                         []string
	Urls                          []string
	LastImportedSince             *time.Time
	LatestFetchException          *bool
	ActiveFeedVersionValid        *time.Time
	ActiveFeedVersionExpired      *time.Time
	ActiveFeedVersionUpdate       bool
	ActiveFeedVersionImportLevel  *int
	LatestFeedVersionImportStatus *bool

	SortKey   string
	SortOrder string
	Offset    int
	PerPage   int
}

// ParseIndexQuery reads index parameters. Array parameters may be repeated
// (with or without a [] suffix) or comma separated.
func ParseIndexQuery(values url.Values) (*IndexQuery, error) {
	q := &IndexQuery{
		OnestopIds: arrayParam(values, "onestop_id"),
		Names:      arrayParam(values, "name"),
		Urls:       arrayParam(values, "url"),
		SortKey:    DefaultSortKey,
		SortOrder:  SortAsc,
		PerPage:    DefaultPerPage,
	}

	var err error
	if q.LastImportedSince, err = timeParam(values, "last_imported_since"); err != nil {
		return nil, err
	}
	if q.LatestFetchException, err = boolParam(values, "latest_fetch_exception"); err != nil {
		return nil, err
	}
	if q.ActiveFeedVersionValid, err = timeParam(values, "active_feed_version_valid"); err != nil {
		return nil, err
	}
	if q.ActiveFeedVersionExpired, err = timeParam(values, "active_feed_version_expired"); err != nil {
		return nil, err
	}
	update, err := boolParam(values, "active_feed_version_update")
	if err != nil {
		return nil, err
	}
	q.ActiveFeedVersionUpdate = update != nil && *update
	if q.ActiveFeedVersionImportLevel, err = intParam(values, "active_feed_version_import_level"); err != nil {
		return nil, err
	}
	if q.LatestFeedVersionImportStatus, err = boolParam(values, "latest_feed_version_import_status"); err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(values.Get("sort_key")); key != "" {
		if _, ok := SortStrategyFor(key); !ok {
			return nil, invalidParam("sort_key", key)
		}
		q.SortKey = key
	}
	if order := strings.ToLower(strings.TrimSpace(values.Get("sort_order"))); order != "" {
		if order != SortAsc && order != SortDesc {
			return nil, invalidParam("sort_order", order)
		}
		q.SortOrder = order
	}

	offset, err := intParam(values, "offset")
	if err != nil {
		return nil, err
	}
	if offset != nil {
		if *offset < 0 {
			return nil, invalidParam("offset", values.Get("offset"))
		}
		q.Offset = *offset
	}

	perPage, err := intParam(values, "per_page")
	if err != nil {
		return nil, err
	}
	if perPage != nil {
		if *perPage < 1 {
			return nil, invalidParam("per_page", values.Get("per_page"))
		}
		q.PerPage = min(*perPage, MaxPerPage)
	}

	return q, nil
}

// Builder turns the query into a FeedQueryBuilder
func (q *IndexQuery) Builder() *FeedQueryBuilder {
	b := NewFeedQueryBuilder()

	b.AddFilter(&OnestopIdFilter{OnestopIds: q.OnestopIds})
	b.AddFilter(&NameFilter{Names: q.Names})
	b.AddFilter(&UrlFilter{Urls: q.Urls})
	if q.LastImportedSince != nil {
		b.AddFilter(&LastImportedSinceFilter{Since: *q.LastImportedSince})
	}
	if q.LatestFetchException != nil {
		b.AddFilter(&LatestFetchExceptionFilter{Exception: *q.LatestFetchException})
	}
	if q.ActiveFeedVersionValid != nil {
		b.AddFilter(&ActiveFeedVersionValidFilter{Date: *q.ActiveFeedVersionValid})
	}
	if q.ActiveFeedVersionExpired != nil {
		b.AddFilter(&ActiveFeedVersionExpiredFilter{Date: *q.ActiveFeedVersionExpired})
	}
	if q.ActiveFeedVersionUpdate {
		b.AddFilter(&ActiveFeedVersionUpdateFilter{})
	}
	if q.ActiveFeedVersionImportLevel != nil {
		b.AddFilter(&ActiveFeedVersionImportLevelFilter{Level: *q.ActiveFeedVersionImportLevel})
	}
	if q.LatestFeedVersionImportStatus != nil {
		b.AddFilter(&LatestFeedVersionImportStatusFilter{Success: *q.LatestFeedVersionImportStatus})
	}

	sort, ok := SortStrategyFor(q.SortKey)
	if !ok {
		sort = sortStrategies[DefaultSortKey]
	}
	b.SetSort(sort, q.SortOrder)

	return b
}

func invalidParam(name, value string) error {
	return errors.WithContextMap(errors.Newf(errors.CodeInvalidInput, "invalid value for %s", name),
		map[string]interface{}{"param": name, "value": value})
}

func arrayParam(values url.Values, name string) []string {
	raw := append(append([]string{}, values[name]...), values[name+"[]"]...)
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return lo.Uniq(out)
}

func timeParam(values url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, invalidParam(name, raw)
}

func boolParam(values url.Values, name string) (*bool, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, invalidParam(name, raw)
	}
	return &b, nil
}

func intParam(values url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalidParam(name, raw)
	}
	return &n, nil
}
