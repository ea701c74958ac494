package feeds

import (
	"net/url"
	"strconv"

	"github.com/MShaffar19/transitland-datastore/models"
)

// Page turns the rows of an index query into a response. Callers fetch
// PerPage+1 rows; the extra row only signals that a next page exists and is
// dropped. The next link carries the request parameters with the offset
// advanced.
func Page(rows []models.Feed, q *IndexQuery, path string, params url.Values) *models.FeedsResponse {
	if rows == nil {
		rows = []models.Feed{}
	}

	var next *string

	// Only set next if we have more results
	if len(rows) > q.PerPage {
		rows = rows[:q.PerPage]

		values := url.Values{}
		for k, v := range params {
			values[k] = append([]string(nil), v...)
		}
		values.Set("offset", strconv.Itoa(q.Offset+q.PerPage))
		values.Set("per_page", strconv.Itoa(q.PerPage))
		link := path + "?" + values.Encode()
		next = &link
	}

	return &models.FeedsResponse{
		Feeds: rows,
		Meta: models.IndexMeta{
			Offset:    q.Offset,
			PerPage:   q.PerPage,
			SortKey:   q.SortKey,
			SortOrder: q.SortOrder,
			Next:      next, // Will be nil if no more results
		},
	}
}

// AttachOperators fills OperatorsInFeed on each feed from links
func AttachOperators(feeds []models.Feed, links []models.OperatorInFeed) {
	byFeed := make(map[int64][]models.OperatorInFeed, len(feeds))
	for _, link := range links {
		byFeed[link.FeedId] = append(byFeed[link.FeedId], link)
	}
	for i := range feeds {
		feeds[i].OperatorsInFeed = byFeed[feeds[i].Id]
	}
}
