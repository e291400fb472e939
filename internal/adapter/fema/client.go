// Package fema reads flood zone coverage per ZIP code from an ArcGIS REST
// overlay of the National Flood Hazard Layer.
package fema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	source   = "fema"
	pageSize = 2000

	fieldZIP     = "ZCTA5CE20"
	fieldZone    = "FLD_ZONE"
	fieldAreaPct = "AREA_PCT"
)

var highRiskZones = map[string]bool{
	"A": true, "AE": true, "AH": true, "AO": true,
	"AR": true, "A99": true, "V": true, "VE": true,
}

// Getter fetches a URL. *rawcache.Fetcher satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Client queries the NFHL ZIP overlay layer.
type Client struct {
	getter  Getter
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a client for the layer at baseURL (the layer URL, without
// the trailing /query).
func NewClient(baseURL string, getter Getter, logger *slog.Logger) *Client {
	return &Client{
		getter:  getter,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Fetch returns one FloodZoneRecord per covered ZIP, sorted by ZIP. Flood maps
// are not versioned by year so years is ignored. ZIPs without any overlay
// rows are reported in a *domain.CoverageError alongside the records.
func (c *Client) Fetch(ctx context.Context, zips []string, _ domain.YearRange) ([]domain.FloodZoneRecord, error) {
	if len(zips) == 0 {
		return nil, nil
	}

	type acc struct {
		high, moderate float64
		zones          map[string]bool
	}
	wanted := make(map[string]bool, len(zips))
	for _, z := range zips {
		wanted[z] = true
	}
	byZIP := make(map[string]*acc, len(zips))

	for offset := 0; ; offset += pageSize {
		page, err := c.queryPage(ctx, zips, offset)
		if err != nil {
			return nil, err
		}
		for i, f := range page.Features {
			row, err := parseAttributes(f.Attributes)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", offset+i, err)
			}
			if !wanted[row.zip] {
				continue
			}
			a := byZIP[row.zip]
			if a == nil {
				a = &acc{zones: make(map[string]bool)}
				byZIP[row.zip] = a
			}
			a.zones[row.zone] = true
			switch {
			case highRiskZones[row.zone]:
				a.high += row.areaPct
			case row.zone == "X":
				a.moderate += row.areaPct
			}
		}
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}
	}

	records := make([]domain.FloodZoneRecord, 0, len(byZIP))
	var missing []string
	for _, z := range zips {
		a, ok := byZIP[z]
		if !ok {
			missing = append(missing, z)
			continue
		}
		zones := make([]string, 0, len(a.zones))
		for zone := range a.zones {
			zones = append(zones, zone)
		}
		sort.Strings(zones)
		high, moderate := clampPct(a.high), clampPct(a.moderate)
		records = append(records, domain.FloodZoneRecord{
			ZIP:             z,
			HighRiskPct:     high,
			ModerateRiskPct: moderate,
			ZoneTypes:       zones,
			HazardScore:     domain.HazardScore(high, moderate),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ZIP < records[j].ZIP })

	if len(missing) > 0 {
		c.logger.Warn("fema coverage incomplete", "missing_zips", len(missing))
	}
	return records, domain.NewCoverageError(source, missing)
}

func (c *Client) queryPage(ctx context.Context, zips []string, offset int) (queryResponse, error) {
	quoted := make([]string, len(zips))
	for i, z := range zips {
		quoted[i] = "'" + z + "'"
	}
	params := url.Values{
		"where":             {fmt.Sprintf("%s IN (%s)", fieldZIP, strings.Join(quoted, ","))},
		"outFields":         {strings.Join([]string{fieldZIP, fieldZone, fieldAreaPct}, ",")},
		"returnGeometry":    {"false"},
		"orderByFields":     {fieldZIP + "," + fieldZone},
		"resultOffset":      {strconv.Itoa(offset)},
		"resultRecordCount": {strconv.Itoa(pageSize)},
		"f":                 {"json"},
	}

	body, err := c.getter.Get(ctx, c.baseURL+"/query?"+params.Encode())
	if err != nil {
		return queryResponse{}, fmt.Errorf("fema query: %w", err)
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return queryResponse{}, &domain.SchemaError{Source: source, Field: "body", Detail: err.Error()}
	}
	// ArcGIS reports failures with HTTP 200 and an error object in the body.
	if resp.Error != nil {
		return queryResponse{}, fmt.Errorf("fema API error: code %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Features == nil {
		return queryResponse{}, &domain.SchemaError{Source: source, Field: "features", Detail: "missing from response"}
	}
	return resp, nil
}

type overlayRow struct {
	zip     string
	zone    string
	areaPct float64
}

func parseAttributes(attrs map[string]any) (overlayRow, error) {
	var row overlayRow

	switch v := attrs[fieldZIP].(type) {
	case string:
		row.zip = strings.TrimSpace(v)
	case float64:
		row.zip = fmt.Sprintf("%05d", int(v))
	default:
		return row, &domain.SchemaError{Source: source, Field: fieldZIP, Detail: fmt.Sprintf("unexpected type %T", v)}
	}

	zone, ok := attrs[fieldZone].(string)
	if !ok {
		return row, &domain.SchemaError{Source: source, Field: fieldZone, Detail: fmt.Sprintf("unexpected type %T", attrs[fieldZone])}
	}
	row.zone = strings.ToUpper(strings.TrimSpace(zone))

	pct, ok := attrs[fieldAreaPct].(float64)
	if !ok {
		return row, &domain.SchemaError{Source: source, Field: fieldAreaPct, Detail: fmt.Sprintf("unexpected type %T", attrs[fieldAreaPct])}
	}
	row.areaPct = pct
	return row, nil
}

func clampPct(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ArcGIS REST response types.

type queryResponse struct {
	Features              []feature  `json:"features"`
	ExceededTransferLimit bool       `json:"exceededTransferLimit"`
	Error                 *arcgisErr `json:"error"`
}

type feature struct {
	Attributes map[string]any `json:"attributes"`
}

type arcgisErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
