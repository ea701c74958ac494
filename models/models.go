package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// Feed formats known to the registry
const (
	FeedFormatGTFS   = "gtfs"
	FeedFormatGTFSRT = "gtfs-rt"
)

// Feed is a registered transit data feed
type Feed struct {
	Id                      int64              `json:"id"`
	OnestopId               string             `json:"onestop_id"`
	Name                    string             `json:"name,omitempty"`
	FeedFormat              string             `json:"feed_format"`
	Urls                    FeedUrls           `json:"urls"`
	License                 FeedLicense        `json:"license"`
	Authorization           *FeedAuthorization `json:"authorization,omitempty"`
	LastFetchedAt           *time.Time         `json:"last_fetched_at"`
	LastImportedAt          *time.Time         `json:"last_imported_at"`
	LatestFetchExceptionLog *string            `json:"latest_fetch_exception_log"`
	ActiveFeedVersionId     *int64             `json:"active_feed_version_id"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`

	// Populated by the index and show endpoints
	OperatorsInFeed []OperatorInFeed `json:"operators_in_feed,omitempty"`
}

// Validate checks the fields required to store a feed. An empty format
// defaults to gtfs.
func (f *Feed) Validate() error {
	f.OnestopId = strings.TrimSpace(f.OnestopId)
	if f.OnestopId == "" {
		return errors.New(errors.CodeInvalidInput, "onestop_id is required")
	}
	if f.FeedFormat == "" {
		f.FeedFormat = FeedFormatGTFS
	}
	if f.FeedFormat != FeedFormatGTFS && f.FeedFormat != FeedFormatGTFSRT {
		return errors.WithContext(errors.New(errors.CodeInvalidInput, "unsupported feed format"),
			"feed_format", f.FeedFormat)
	}
	return nil
}

// FeedUrls mirrors the DMFR urls object
type FeedUrls struct {
	StaticCurrent            string   `json:"static_current,omitempty"`
	StaticHistoric           []string `json:"static_historic,omitempty"`
	StaticPlanned            string   `json:"static_planned,omitempty"`
	RealtimeVehiclePositions string   `json:"realtime_vehicle_positions,omitempty"`
	RealtimeTripUpdates      string   `json:"realtime_trip_updates,omitempty"`
	RealtimeAlerts           string   `json:"realtime_alerts,omitempty"`
}

// FeedLicense mirrors the DMFR license object
type FeedLicense struct {
	SpdxIdentifier          string `json:"spdx_identifier,omitempty"`
	Url                     string `json:"url,omitempty"`
	UseWithoutAttribution   string `json:"use_without_attribution,omitempty"`
	CreateDerivedProduct    string `json:"create_derived_product,omitempty"`
	RedistributionAllowed   string `json:"redistribution_allowed,omitempty"`
	CommercialUseAllowed    string `json:"commercial_use_allowed,omitempty"`
	ShareAlikeOptional      string `json:"share_alike_optional,omitempty"`
	AttributionText         string `json:"attribution_text,omitempty"`
	AttributionInstructions string `json:"attribution_instructions,omitempty"`
}

// FeedAuthorization describes how to authenticate against the feed urls
type FeedAuthorization struct {
	Type      string `json:"type,omitempty"`
	ParamName string `json:"param_name,omitempty"`
	InfoUrl   string `json:"info_url,omitempty"`
}

func (u FeedUrls) Value() (driver.Value, error) { return json.Marshal(u) }

func (u *FeedUrls) Scan(src interface{}) error { return scanJSON(src, u) }

func (l FeedLicense) Value() (driver.Value, error) { return json.Marshal(l) }

func (l *FeedLicense) Scan(src interface{}) error { return scanJSON(src, l) }

func (a FeedAuthorization) Value() (driver.Value, error) { return json.Marshal(a) }

func (a *FeedAuthorization) Scan(src interface{}) error { return scanJSON(src, a) }

// scanJSON decodes a jsonb column. NULL leaves dst untouched.
func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}

// Operator is a transit agency, possibly spanning several feeds
type Operator struct {
	Id        int64  `json:"id"`
	OnestopId string `json:"onestop_id"`
	Name      string `json:"name"`
}

// OperatorInFeed links an operator to a feed
type OperatorInFeed struct {
	FeedId            int64  `json:"-"`
	FeedOnestopId     string `json:"feed_onestop_id"`
	OperatorId        int64  `json:"-"`
	OperatorOnestopId string `json:"operator_onestop_id"`
	GtfsAgencyId      string `json:"gtfs_agency_id,omitempty"`
}

// FeedVersion is one fetched copy of a feed
type FeedVersion struct {
	Id                   int64      `json:"id"`
	FeedId               int64      `json:"feed_id"`
	Sha1                 string     `json:"sha1"`
	Url                  string     `json:"url"`
	DownloadUrl          string     `json:"download_url,omitempty"`
	FetchedAt            time.Time  `json:"fetched_at"`
	EarliestCalendarDate *time.Time `json:"earliest_calendar_date"`
	LatestCalendarDate   *time.Time `json:"latest_calendar_date"`
	ImportLevel          int        `json:"import_level"`
}

// FeedVersionUpdateStatistics summarises how often a feed publishes new versions
type FeedVersionUpdateStatistics struct {
	FeedOnestopId            string     `json:"feed_onestop_id"`
	FeedVersionsTotal        int        `json:"feed_versions_total"`
	FeedVersionsDistinctSha1 int        `json:"feed_versions_distinct_sha1"`
	FetchedAtFrequency       *float64   `json:"fetched_at_frequency"`
	AverageCalendarSpan      *float64   `json:"average_calendar_span"`
	ScheduledFutureFrequency *float64   `json:"scheduled_future_frequency"`
	LatestFetchedAt          *time.Time `json:"latest_fetched_at"`
}

// DMFR is the Distributed Mobility Feed Registry document
type DMFR struct {
	Schema                string     `json:"$schema"`
	Feeds                 []DMFRFeed `json:"feeds"`
	LicenseSpdxIdentifier string     `json:"license_spdx_identifier"`
}

// DMFRFeed is one feed record inside a DMFR document. AssociatedFeeds is set,
// possibly empty, for realtime feeds only.
type DMFRFeed struct {
	Spec            string             `json:"spec"`
	Id              string             `json:"id"`
	Urls            FeedUrls           `json:"urls"`
	License         FeedLicense        `json:"license"`
	Authorization   *FeedAuthorization `json:"authorization,omitempty"`
	FeedNamespaceId string             `json:"feed_namespace_id,omitempty"`
	AssociatedFeeds *[]string          `json:"associated_feeds,omitempty"`
}

// FeedsResponse is the body of the feeds index
type FeedsResponse struct {
	Feeds []Feed    `json:"feeds"`
	Meta  IndexMeta `json:"meta"`
}

// IndexMeta describes the page returned by an index request
type IndexMeta struct {
	Offset    int     `json:"offset"`
	PerPage   int     `json:"per_page"`
	SortKey   string  `json:"sort_key"`
	SortOrder string  `json:"sort_order"`
	Next      *string `json:"next,omitempty"`
}
