// Package census reads per-ZIP geographic and economic attributes (ZCTA
// population, Zillow home value index, elevation and coastline distance)
// from a prepared CSV.
package census

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/tabular"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const source = "census"

var required = []string{
	"zip", "year", "population", "property_value_index",
	"elevation_m", "coastal_distance_km", "lat", "lon",
}

// Reader loads GeoUnits from a CSV file.
type Reader struct {
	path   string
	logger *slog.Logger
}

// NewReader creates a reader for the CSV at path.
func NewReader(path string, logger *slog.Logger) *Reader {
	return &Reader{path: path, logger: logger}
}

// Fetch returns the GeoUnits for zips within years, sorted by ZIP then year.
// ZIPs with no row in any year of the range are reported in a
// *domain.CoverageError; gaps between years are left to the feature builder.
func (r *Reader) Fetch(ctx context.Context, zips []string, years domain.YearRange) ([]domain.GeoUnit, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w: %s", source, domain.ErrDataUnavailable, r.path)
		}
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}
	defer f.Close()

	tbl, err := tabular.Open(source, f, required...)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(zips))
	for _, z := range zips {
		wanted[z] = true
	}
	units := make(map[domain.Key]domain.GeoUnit)

	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		zip, ok := row.ZIP("zip")
		if !ok || !wanted[zip] {
			continue
		}
		unit, err := parseUnit(row, zip)
		if err != nil {
			return nil, err
		}
		if !years.Contains(unit.Year) {
			continue
		}
		k := domain.Key{ZIP: zip, Year: unit.Year}
		if _, dup := units[k]; dup {
			r.logger.Warn("duplicate census row, keeping first", "key", k.String(), "line", row.Line())
			continue
		}
		units[k] = unit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.GeoUnit, 0, len(units))
	covered := make(map[string]bool)
	for _, u := range units {
		out = append(out, u)
		covered[u.ZIP] = true
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIP != out[j].ZIP {
			return out[i].ZIP < out[j].ZIP
		}
		return out[i].Year < out[j].Year
	})

	var missing []string
	for _, z := range zips {
		if !covered[z] {
			missing = append(missing, z)
		}
	}
	return out, domain.NewCoverageError(source, missing)
}

func parseUnit(row tabular.Row, zip string) (domain.GeoUnit, error) {
	u := domain.GeoUnit{ZIP: zip}
	var err error
	if u.Year, err = row.Int("year"); err != nil {
		return u, err
	}
	if u.Population, err = row.Int("population"); err != nil {
		return u, err
	}
	floats := []struct {
		col string
		dst *float64
	}{
		{"property_value_index", &u.PropertyValueIndex},
		{"elevation_m", &u.ElevationM},
		{"coastal_distance_km", &u.CoastalDistanceKM},
		{"lat", &u.Lat},
		{"lon", &u.Lon},
	}
	for _, f := range floats {
		if *f.dst, err = row.Float(f.col); err != nil {
			return u, err
		}
	}
	if u.Population < 0 || u.CoastalDistanceKM < 0 || u.PropertyValueIndex < 0 {
		return u, &domain.SchemaError{
			Source: source,
			Field:  "population",
			Detail: fmt.Sprintf("line %d: negative value", row.Line()),
		}
	}
	return u, nil
}
