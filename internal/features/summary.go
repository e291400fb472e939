package features

import (
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	// ProjectionHorizon is the last year covered by climate projections.
	ProjectionHorizon = 2035
	// SurgeIncreasePerYear is the yearly rise in projected storm surge
	// frequency, capped at MaxSurgeFrequency.
	SurgeIncreasePerYear = 0.005

	seaLevelLowerFactor = 0.7
	seaLevelUpperFactor = 1.3
)

// Share of projected surge frequency by hurricane category.
var surgeCategoryShares = [3]float64{0.6, 0.3, 0.1}

// SeaLevelProjection is cumulative sea level rise from the summary's start
// year, with a ±30% band.
type SeaLevelProjection struct {
	Year    int     `json:"year"`
	RiseMM  float64 `json:"sea_level_rise_mm"`
	LowerMM float64 `json:"lower_bound_mm"`
	UpperMM float64 `json:"upper_bound_mm"`
}

// SurgeProjection is the projected annual chance of significant storm surge,
// split by hurricane category.
type SurgeProjection struct {
	Year          int     `json:"year"`
	Frequency     float64 `json:"storm_surge_frequency"`
	Category1     float64 `json:"category_1_freq"`
	Category2     float64 `json:"category_2_freq"`
	Category3Plus float64 `json:"category_3_plus_freq"`
}

// ClimateSummary describes regional sea level and storm surge outlook.
type ClimateSummary struct {
	SnapshotID string `json:"snapshot_id"`
	// Stations is the number of tide stations the trend averages; zero means
	// the regional default was used.
	Stations              int                  `json:"stations"`
	TrendMMYr             float64              `json:"avg_sea_level_rise_mm_per_year"`
	StartYear             int                  `json:"start_year"`
	RiseByHorizonMM       float64              `json:"total_rise_by_2035_mm"`
	CurrentSurgeFrequency float64              `json:"current_storm_surge_frequency"`
	SeaLevel              []SeaLevelProjection `json:"sea_level_projections"`
	StormSurge            []SurgeProjection    `json:"storm_surge_projections"`
}

// Climate summarizes the snapshot's climate history and projects it from
// startYear through ProjectionHorizon. Each station counts once, using the
// latest point of any ZIP it serves. With no climate history the regional
// defaults apply. A startYear past the horizon yields a single year.
func Climate(s *Snapshot, startYear int) ClimateSummary {
	latest := make(map[string]domain.ClimatePoint)
	for _, c := range s.Climate {
		if len(c.Points) == 0 {
			continue
		}
		p := c.Points[len(c.Points)-1]
		station := c.Station
		if station == "" {
			station = c.ZIP
		}
		if prev, ok := latest[station]; !ok || p.Year > prev.Year {
			latest[station] = p
		}
	}

	trend, surge := RegionalTrendMMYr, BaseSurgeFrequency
	if len(latest) > 0 {
		trends := make([]float64, 0, len(latest))
		surges := make([]float64, 0, len(latest))
		for _, p := range latest {
			trends = append(trends, p.SeaLevelTrendMMYr)
			surges = append(surges, p.StormSurgeFrequency)
		}
		trend = stat.Mean(trends, nil)
		surge = stat.Mean(surges, nil)
	}

	horizon := max(ProjectionHorizon, startYear)
	cs := ClimateSummary{
		SnapshotID: s.ID,
		Stations:   len(latest),
		TrendMMYr:  trend,
		StartYear:  startYear,
	}
	for year := startYear; year <= horizon; year++ {
		n := float64(year - startYear)
		rise := trend * n
		cs.SeaLevel = append(cs.SeaLevel, SeaLevelProjection{
			Year:    year,
			RiseMM:  rise,
			LowerMM: rise * seaLevelLowerFactor,
			UpperMM: rise * seaLevelUpperFactor,
		})

		f := min(surge+SurgeIncreasePerYear*n, MaxSurgeFrequency)
		cs.StormSurge = append(cs.StormSurge, SurgeProjection{
			Year:          year,
			Frequency:     f,
			Category1:     f * surgeCategoryShares[0],
			Category2:     f * surgeCategoryShares[1],
			Category3Plus: f * surgeCategoryShares[2],
		})
	}
	cs.RiseByHorizonMM = cs.SeaLevel[len(cs.SeaLevel)-1].RiseMM
	cs.CurrentSurgeFrequency = cs.StormSurge[0].Frequency
	return cs
}

// PremiumRange is the spread of ZIP average premiums.
type PremiumRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// InsuranceSummary aggregates NFIP history across the region.
type InsuranceSummary struct {
	SnapshotID    string `json:"snapshot_id"`
	TotalClaims   int    `json:"total_claims"`
	TotalPolicies int    `json:"total_policies"`
	// ZIPsAnalyzed counts ZIPs with a priced year.
	ZIPsAnalyzed  int             `json:"zip_codes_analyzed"`
	MedianPremium decimal.Decimal `json:"avg_regional_premium"`
	PremiumRange  PremiumRange    `json:"premium_range"`
	// MedianLossRatio is invalid when no ZIP wrote premium.
	MedianLossRatio domain.Measure `json:"avg_loss_ratio"`
}

// Insurance summarizes the snapshot's insurance records. Claims and policies
// are summed over every record. Each ZIP contributes the average premium of
// its latest priced year and the loss ratio of its pooled history.
func Insurance(s *Snapshot) InsuranceSummary {
	sum := InsuranceSummary{SnapshotID: s.ID, MedianLossRatio: domain.Missing()}

	type zipTotals struct {
		premium     decimal.Decimal
		premiumYear int
		written     decimal.Decimal
		paid        decimal.Decimal
	}
	byZIP := make(map[string]*zipTotals)
	for _, r := range s.Insurance {
		sum.TotalClaims += r.ClaimsCount
		sum.TotalPolicies += r.PolicyCount

		zt, ok := byZIP[r.ZIP]
		if !ok {
			zt = &zipTotals{}
			byZIP[r.ZIP] = zt
		}
		if r.AvgPremium.IsPositive() && r.Year >= zt.premiumYear {
			zt.premium, zt.premiumYear = r.AvgPremium, r.Year
		}
		zt.written = zt.written.Add(r.TotalPremium)
		zt.paid = zt.paid.Add(r.TotalPaid)
	}

	var premiums []decimal.Decimal
	var ratios []float64
	for _, zt := range byZIP {
		if zt.premiumYear > 0 {
			premiums = append(premiums, zt.premium)
		}
		if zt.written.IsPositive() {
			ratios = append(ratios, zt.paid.Div(zt.written).InexactFloat64())
		}
	}

	sum.ZIPsAnalyzed = len(premiums)
	if len(premiums) > 0 {
		sort.Slice(premiums, func(i, j int) bool { return premiums[i].LessThan(premiums[j]) })
		sum.PremiumRange = PremiumRange{Min: premiums[0], Max: premiums[len(premiums)-1]}
		mid := len(premiums) / 2
		if len(premiums)%2 == 1 {
			sum.MedianPremium = premiums[mid]
		} else {
			sum.MedianPremium = premiums[mid-1].Add(premiums[mid]).Div(decimal.NewFromInt(2)).Round(2)
		}
	}
	if len(ratios) > 0 {
		sort.Float64s(ratios)
		mid := len(ratios) / 2
		m := ratios[mid]
		if len(ratios)%2 == 0 {
			m = (ratios[mid-1] + ratios[mid]) / 2
		}
		sum.MedianLossRatio = domain.Valid(m)
	}
	return sum
}

// ZIPData reports which sources hold records for a ZIP code.
type ZIPData struct {
	ZIP        string `json:"zip_code"`
	Census     bool   `json:"census"`
	FloodZones bool   `json:"flood_zones"`
	Climate    bool   `json:"climate"`
	Insurance  bool   `json:"insurance"`
}

// ZIPsWithData lists every ZIP in the snapshot and the sources covering it,
// sorted by ZIP.
func ZIPsWithData(s *Snapshot) []ZIPData {
	zips := s.ZIPs()
	idx := make(map[string]*ZIPData, len(zips))
	out := make([]ZIPData, len(zips))
	for i, z := range zips {
		out[i].ZIP = z
		idx[z] = &out[i]
	}
	for _, g := range s.GeoUnits {
		idx[g.ZIP].Census = true
	}
	for _, f := range s.FloodZones {
		idx[f.ZIP].FloodZones = true
	}
	for _, c := range s.Climate {
		if len(c.Points) > 0 {
			idx[c.ZIP].Climate = true
		}
	}
	for _, r := range s.Insurance {
		idx[r.ZIP].Insurance = true
	}
	return out
}
