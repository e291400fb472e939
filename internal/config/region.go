package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// County is a FIPS county covered by a region.
type County struct {
	FIPS string `koanf:"fips"`
	Name string `koanf:"name"`
}

// Region is the study area catalogue: the ZIP codes predictions are served
// for, the tide stations that cover them and the historical year range used
// for ingestion and training.
type Region struct {
	Name     string           `koanf:"name"`
	ZIPs     []string         `koanf:"zips"`
	Counties []County         `koanf:"counties"`
	Stations []domain.Station `koanf:"stations"`
	// StationAssignments pins ZIPs to a station ID. Unlisted ZIPs use the
	// nearest station to their centroid.
	StationAssignments map[string]string `koanf:"station_assignments"`
	History            domain.YearRange  `koanf:"history"`
	MaxYear            int               `koanf:"max_year"`
}

// DefaultRegion returns the Tampa Bay catalogue.
func DefaultRegion() Region {
	zips := make([]string, 0, 25)
	for z := 33602; z <= 33618; z++ {
		zips = append(zips, fmt.Sprintf("%05d", z))
	}
	for z := 33701; z <= 33708; z++ {
		zips = append(zips, fmt.Sprintf("%05d", z))
	}

	assignments := make(map[string]string, 8)
	for z := 33701; z <= 33708; z++ {
		assignments[fmt.Sprintf("%05d", z)] = "8726520"
	}

	return Region{
		Name: "Tampa Bay",
		ZIPs: zips,
		Counties: []County{
			{FIPS: "12057", Name: "Hillsborough"},
			{FIPS: "12103", Name: "Pinellas"},
			{FIPS: "12101", Name: "Pasco"},
			{FIPS: "12081", Name: "Manatee"},
		},
		Stations: []domain.Station{
			{ID: "8726520", Name: "St. Petersburg", Lat: 27.7606, Lon: -82.6269},
			{ID: "8726607", Name: "Old Port Tampa", Lat: 27.8533, Lon: -82.5533},
			{ID: "8726384", Name: "Clearwater Beach", Lat: 27.9783, Lon: -82.8317},
			{ID: "8726724", Name: "McKay Bay Entrance", Lat: 27.9117, Lon: -82.4317},
		},
		StationAssignments: assignments,
		History:            domain.YearRange{From: 2010, To: 2024},
		MaxYear:            2100,
	}
}

// LoadRegion reads a region catalogue from a YAML file. An empty path returns
// DefaultRegion. Fields absent from the file keep their default values.
func LoadRegion(path string) (Region, error) {
	region := DefaultRegion()
	if path == "" {
		return region, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Region{}, fmt.Errorf("load region file %s: %w", path, err)
	}
	var loaded Region
	if err := k.Unmarshal("", &loaded); err != nil {
		return Region{}, fmt.Errorf("parse region file %s: %w", path, err)
	}
	region.overlay(loaded)
	if err := region.Validate(); err != nil {
		return Region{}, fmt.Errorf("region file %s: %w", path, err)
	}
	return region, nil
}

// overlay replaces every field that o sets. Lists and maps are replaced
// wholesale rather than merged.
func (r *Region) overlay(o Region) {
	if o.Name != "" {
		r.Name = o.Name
	}
	if len(o.ZIPs) > 0 {
		r.ZIPs = o.ZIPs
	}
	if len(o.Counties) > 0 {
		r.Counties = o.Counties
	}
	if len(o.Stations) > 0 {
		r.Stations = o.Stations
	}
	if o.StationAssignments != nil {
		r.StationAssignments = o.StationAssignments
	}
	if o.History != (domain.YearRange{}) {
		r.History = o.History
	}
	if o.MaxYear != 0 {
		r.MaxYear = o.MaxYear
	}
}

// Validate checks the catalogue for malformed ZIPs, unknown station
// references and an empty history range.
func (r Region) Validate() error {
	if len(r.ZIPs) == 0 {
		return errors.New("region has no zip codes")
	}
	for _, z := range r.ZIPs {
		if !domain.ValidZIP(z) {
			return fmt.Errorf("%w: %q", domain.ErrInvalidZip, z)
		}
	}
	known := make(map[string]bool, len(r.Stations))
	for _, s := range r.Stations {
		known[s.ID] = true
	}
	for zip, id := range r.StationAssignments {
		if !known[id] {
			return fmt.Errorf("zip %s assigned to unknown station %s", zip, id)
		}
	}
	if r.History.From <= 0 || r.History.To < r.History.From {
		return fmt.Errorf("invalid history range %d-%d", r.History.From, r.History.To)
	}
	if r.MaxYear < r.History.To {
		return fmt.Errorf("max_year %d before end of history %d", r.MaxYear, r.History.To)
	}
	return nil
}

// HasZIP reports whether zip is part of the catalogue.
func (r Region) HasZIP(zip string) bool {
	for _, z := range r.ZIPs {
		if z == zip {
			return true
		}
	}
	return false
}

// SortedZIPs returns a sorted copy of the catalogue's ZIP codes.
func (r Region) SortedZIPs() []string {
	out := append([]string(nil), r.ZIPs...)
	sort.Strings(out)
	return out
}
