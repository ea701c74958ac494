package feeds

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/MShaffar19/transitland-datastore/models"
)

const day = 24 * time.Hour

// UpdateStatistics summarises how a feed's versions have changed over time.
// Averages are reported in days and are nil when there is not enough data.
func UpdateStatistics(feed models.Feed, versions []models.FeedVersion) *models.FeedVersionUpdateStatistics {
	stats := &models.FeedVersionUpdateStatistics{
		FeedOnestopId:     feed.OnestopId,
		FeedVersionsTotal: len(versions),
		FeedVersionsDistinctSha1: len(lo.Uniq(lo.Map(versions, func(v models.FeedVersion, _ int) string {
			return v.Sha1
		}))),
	}
	if len(versions) == 0 {
		return stats
	}

	fetched := lo.Map(versions, func(v models.FeedVersion, _ int) time.Time { return v.FetchedAt })
	sortTimes(fetched)
	latest := fetched[len(fetched)-1]
	stats.LatestFetchedAt = &latest
	stats.FetchedAtFrequency = averageGap(fetched)

	spans := lo.FilterMap(versions, func(v models.FeedVersion, _ int) (float64, bool) {
		if v.EarliestCalendarDate == nil || v.LatestCalendarDate == nil {
			return 0, false
		}
		return days(v.LatestCalendarDate.Sub(*v.EarliestCalendarDate)), true
	})
	if len(spans) > 0 {
		avg := lo.Sum(spans) / float64(len(spans))
		stats.AverageCalendarSpan = &avg
	}

	starts := lo.FilterMap(versions, func(v models.FeedVersion, _ int) (time.Time, bool) {
		if v.EarliestCalendarDate == nil {
			return time.Time{}, false
		}
		return *v.EarliestCalendarDate, true
	})
	sortTimes(starts)
	stats.ScheduledFutureFrequency = averageGap(starts)

	return stats
}

// averageGap is the mean distance in days between consecutive sorted times
func averageGap(ts []time.Time) *float64 {
	if len(ts) < 2 {
		return nil
	}
	avg := days(ts[len(ts)-1].Sub(ts[0])) / float64(len(ts)-1)
	return &avg
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

func days(d time.Duration) float64 {
	return d.Hours() / day.Hours()
}
