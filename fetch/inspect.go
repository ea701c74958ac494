// Package fetch downloads upstream feeds and summarises what they contain.
package fetch

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/MShaffar19/transitland-datastore/models"
)

// Info is the result stored for a completed fetch
type Info struct {
	Url         string              `json:"url"`
	Sha1        string              `json:"sha1"`
	Size        int64               `json:"size"`
	ContentType string              `json:"content_type,omitempty"`
	Spec        string              `json:"spec,omitempty"`
	Files       []string            `json:"files,omitempty"`
	Operators   []SuggestedOperator `json:"operators,omitempty"`
}

// SuggestedOperator is an agency found in the feed's agency.txt
type SuggestedOperator struct {
	AgencyId string `json:"agency_id,omitempty"`
	Name     string `json:"name"`
	Url      string `json:"url,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// a zip holding any of these is treated as GTFS
var gtfsRequiredFiles = []string{"agency.txt", "stops.txt", "routes.txt", "trips.txt"}

var gtfsRealtimeContentTypes = []string{
	"application/x-protobuf",
	"application/protobuf",
	"application/octet-stream+protobuf",
}

func inspect(url string, body *download) (*Info, error) {
	info := &Info{
		Url:         url,
		Sha1:        sha1Hex(body.data),
		Size:        int64(len(body.data)),
		ContentType: body.contentType,
	}

	if isZip(body.data) {
		zr, err := zip.NewReader(bytes.NewReader(body.data), int64(len(body.data)))
		if err != nil {
			return nil, fmt.Errorf("open zip: %w", err)
		}

		info.Files = lo.FilterMap(zr.File, func(f *zip.File, _ int) (string, bool) {
			return f.Name, !f.FileInfo().IsDir()
		})
		sort.Strings(info.Files)

		if lo.Some(baseNames(info.Files), gtfsRequiredFiles) {
			info.Spec = models.FeedFormatGTFS
		}

		if agency := findFile(zr, "agency.txt"); agency != nil {
			operators, err := readAgencies(agency)
			if err != nil {
				return nil, fmt.Errorf("read agency.txt: %w", err)
			}
			info.Operators = operators
		}
		return info, nil
	}

	mediaType := strings.TrimSpace(strings.Split(body.contentType, ";")[0])
	if lo.Contains(gtfsRealtimeContentTypes, strings.ToLower(mediaType)) {
		info.Spec = models.FeedFormatGTFSRT
	}

	return info, nil
}

func isZip(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

// baseNames strips directories, since some feeds nest files in a folder
func baseNames(names []string) []string {
	return lo.Map(names, func(name string, _ int) string {
		if i := strings.LastIndex(name, "/"); i >= 0 {
			return name[i+1:]
		}
		return name
	})
}

func findFile(zr *zip.Reader, name string) *zip.File {
	f, ok := lo.Find(zr.File, func(f *zip.File) bool {
		return f.Name == name || strings.HasSuffix(f.Name, "/"+name)
	})
	if !ok {
		return nil
	}
	return f
}

func readAgencies(f *zip.File) ([]SuggestedOperator, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		columns[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var operators []SuggestedOperator
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := field(row, "agency_name")
		if name == "" {
			continue
		}
		operators = append(operators, SuggestedOperator{
			AgencyId: field(row, "agency_id"),
			Name:     name,
			Url:      field(row, "agency_url"),
			Timezone: field(row, "agency_timezone"),
		})
	}

	return operators, nil
}
