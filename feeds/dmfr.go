package feeds

import (
	"sort"

	"github.com/samber/lo"

	"github.com/MShaffar19/transitland-datastore/models"
)

const (
	DMFRSchema  = "https://dmfr.transit.land/json-schema/dmfr.schema-v0.1.0.json"
	DMFRLicense = "CC0-1.0"
)

// BuildDMFR renders the registry as a DMFR document. links must cover every
// feed of every operator referenced by feeds, or associated feeds will be
// incomplete.
func BuildDMFR(feeds []models.Feed, links []models.OperatorInFeed) *models.DMFR {
	operatorsByFeed := make(map[int64][]models.OperatorInFeed)
	feedsByOperator := make(map[int64][]models.OperatorInFeed)
	for _, link := range links {
		operatorsByFeed[link.FeedId] = append(operatorsByFeed[link.FeedId], link)
		feedsByOperator[link.OperatorId] = append(feedsByOperator[link.OperatorId], link)
	}

	doc := &models.DMFR{
		Schema:                DMFRSchema,
		Feeds:                 make([]models.DMFRFeed, 0, len(feeds)),
		LicenseSpdxIdentifier: DMFRLicense,
	}

	for _, feed := range feeds {
		entry := models.DMFRFeed{
			Spec:          feed.FeedFormat,
			Id:            feed.OnestopId,
			Urls:          feed.Urls,
			License:       feed.License,
			Authorization: feed.Authorization,
		}

		operators := lo.UniqBy(operatorsByFeed[feed.Id], func(l models.OperatorInFeed) int64 {
			return l.OperatorId
		})
		if len(operators) == 1 {
			entry.FeedNamespaceId = operators[0].OperatorOnestopId
		}

		if feed.FeedFormat == models.FeedFormatGTFSRT {
			associated := []string{}
			for _, op := range operators {
				for _, other := range feedsByOperator[op.OperatorId] {
					if other.FeedId != feed.Id {
						associated = append(associated, other.FeedOnestopId)
					}
				}
			}
			associated = lo.Uniq(associated)
			sort.Strings(associated)
			entry.AssociatedFeeds = &associated
		}

		doc.Feeds = append(doc.Feeds, entry)
	}

	return doc
}
