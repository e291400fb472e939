// Package features joins source records into immutable snapshots and builds
// per-ZIP, per-year feature vectors from them.
package features

import (
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Snapshot is the normalized output of one ingest run. It is never modified
// after NewSnapshot returns; ID is derived from the content so identical
// inputs produce identical IDs.
type Snapshot struct {
	ID          string                   `json:"id"`
	ContentHash string                   `json:"content_hash"`
	CreatedAt   time.Time                `json:"created_at"`
	Region      string                   `json:"region"`
	Years       domain.YearRange         `json:"years"`
	GeoUnits    []domain.GeoUnit         `json:"geo_units"`
	FloodZones  []domain.FloodZoneRecord `json:"flood_zones"`
	Climate     []domain.ClimateSeries   `json:"climate"`
	Insurance   []domain.InsuranceRecord `json:"insurance"`
	// Coverage lists the per-source gaps reported during ingest.
	Coverage []string `json:"coverage,omitempty"`
}

type snapshotContent struct {
	Region     string                   `json:"region"`
	Years      domain.YearRange         `json:"years"`
	GeoUnits   []domain.GeoUnit         `json:"geo_units"`
	FloodZones []domain.FloodZoneRecord `json:"flood_zones"`
	Climate    []domain.ClimateSeries   `json:"climate"`
	Insurance  []domain.InsuranceRecord `json:"insurance"`
}

// NewSnapshot copies and sorts the records and stamps the content hash.
func NewSnapshot(region string, years domain.YearRange, geo []domain.GeoUnit, flood []domain.FloodZoneRecord, climate []domain.ClimateSeries, ins []domain.InsuranceRecord, coverage []string) (*Snapshot, error) {
	geo = append([]domain.GeoUnit(nil), geo...)
	sort.Slice(geo, func(i, j int) bool { return lessKey(geo[i].ZIP, geo[i].Year, geo[j].ZIP, geo[j].Year) })

	flood = append([]domain.FloodZoneRecord(nil), flood...)
	sort.Slice(flood, func(i, j int) bool { return flood[i].ZIP < flood[j].ZIP })

	climate = append([]domain.ClimateSeries(nil), climate...)
	sort.Slice(climate, func(i, j int) bool { return climate[i].ZIP < climate[j].ZIP })

	ins = append([]domain.InsuranceRecord(nil), ins...)
	sort.Slice(ins, func(i, j int) bool { return lessKey(ins[i].ZIP, ins[i].Year, ins[j].ZIP, ins[j].Year) })

	coverage = append([]string(nil), coverage...)
	sort.Strings(coverage)

	hash, err := domain.HashJSON(snapshotContent{
		Region:     region,
		Years:      years,
		GeoUnits:   geo,
		FloodZones: flood,
		Climate:    climate,
		Insurance:  ins,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return &Snapshot{
		ID:          "snap-" + hash[:12],
		ContentHash: hash,
		CreatedAt:   domain.Now().UTC(),
		Region:      region,
		Years:       years,
		GeoUnits:    geo,
		FloodZones:  flood,
		Climate:     climate,
		Insurance:   ins,
		Coverage:    coverage,
	}, nil
}

// ZIPs returns every ZIP code present in any source, sorted.
func (s *Snapshot) ZIPs() []string {
	set := make(map[string]bool)
	for _, g := range s.GeoUnits {
		set[g.ZIP] = true
	}
	for _, f := range s.FloodZones {
		set[f.ZIP] = true
	}
	for _, c := range s.Climate {
		set[c.ZIP] = true
	}
	for _, r := range s.Insurance {
		set[r.ZIP] = true
	}
	out := make([]string, 0, len(set))
	for z := range set {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}

func lessKey(zipA string, yearA int, zipB string, yearB int) bool {
	if zipA != zipB {
		return zipA < zipB
	}
	return yearA < yearB
}
