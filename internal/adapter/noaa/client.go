// Package noaa derives yearly sea-level and storm surge indicators from NOAA
// tide gauge monthly mean sea level exports.
package noaa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/tabular"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const source = "noaa"

// Getter fetches a URL. *rawcache.Fetcher satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Client reads station mean trend CSVs from the sea level trends service.
type Client struct {
	getter  Getter
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a client rooted at baseURL, under which each station is
// published as {station}_meantrend.csv.
func NewClient(baseURL string, getter Getter, logger *slog.Logger) *Client {
	return &Client{
		getter:  getter,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Fetch returns one ClimateSeries per ZIP in zips, sorted by ZIP, with points
// for every year in years the station record supports. stations maps each
// ZIP to its tide station; ZIPs without a station, or whose station has no
// usable data, are reported in a *domain.CoverageError.
func (c *Client) Fetch(ctx context.Context, zips []string, years domain.YearRange, stations map[string]string) ([]domain.ClimateSeries, error) {
	byStation := make(map[string][]domain.ClimatePoint)
	failed := make(map[string]bool)

	ids := make([]string, 0, len(stations))
	seen := make(map[string]bool)
	for _, z := range zips {
		if id := stations[z]; id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		points, err := c.stationSeries(ctx, id, years)
		switch {
		case errors.Is(err, domain.ErrDataUnavailable):
			c.logger.Warn("no sea level data for station", "station", id, "error", err)
			failed[id] = true
			continue
		case err != nil:
			return nil, err
		}
		byStation[id] = points
	}

	sorted := append([]string(nil), zips...)
	sort.Strings(sorted)

	out := make([]domain.ClimateSeries, 0, len(sorted))
	var missing []string
	for _, z := range sorted {
		id := stations[z]
		points := byStation[id]
		if id == "" || failed[id] || len(points) == 0 {
			missing = append(missing, z)
			continue
		}
		s := domain.ClimateSeries{ZIP: z, Station: id}
		for _, p := range points {
			if err := s.Append(p); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, domain.NewCoverageError(source, missing)
}

func (c *Client) stationSeries(ctx context.Context, station string, years domain.YearRange) ([]domain.ClimatePoint, error) {
	body, err := c.getter.Get(ctx, fmt.Sprintf("%s/%s_meantrend.csv", c.baseURL, station))
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", station, err)
	}
	monthly, err := parseMonthly(body)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", station, err)
	}
	points := Derive(monthly, years)
	if len(points) == 0 {
		return nil, fmt.Errorf("station %s: %w: no years in %d-%d", station, domain.ErrDataUnavailable, years.From, years.To)
	}
	return points, nil
}

func parseMonthly(body []byte) ([]MonthlyMSL, error) {
	tbl, err := tabular.Open(source, bytes.NewReader(skipPreamble(body)), "Year", "Month", "Monthly_MSL")
	if err != nil {
		return nil, err
	}
	var out []MonthlyMSL
	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		year, err := row.Int("Year")
		if err != nil {
			return nil, err
		}
		month, err := row.Int("Month")
		if err != nil {
			return nil, err
		}
		if month < 1 || month > 12 {
			return nil, &domain.SchemaError{Source: source, Field: "Month", Detail: fmt.Sprintf("line %d: month %d", row.Line(), month)}
		}
		msl, err := row.OptionalFloat("Monthly_MSL")
		if err != nil {
			return nil, err
		}
		if !msl.Valid {
			continue
		}
		out = append(out, MonthlyMSL{Year: year, Month: month, MetersMSL: msl.Value})
	}
	return out, nil
}

// skipPreamble drops free-text lines NOAA sometimes places above the header.
func skipPreamble(body []byte) []byte {
	for len(body) > 0 {
		line := body
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line = body[:i]
		}
		if bytes.Contains(bytes.ToLower(line), []byte("year")) {
			return body
		}
		if len(line) == len(body) {
			return body
		}
		body = body[len(line)+1:]
	}
	return body
}
