package noaa

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	// trendWindowYears is the trailing window the per-year trend is fit over.
	trendWindowYears = 15
	minTrendPoints   = 3
	minMonthsPerYear = 6
	surgeSigma       = 1.5
)

// MonthlyMSL is one monthly mean sea level observation in metres.
type MonthlyMSL struct {
	Year      int
	Month     int
	MetersMSL float64
}

func (m MonthlyMSL) decimalYear() float64 {
	return float64(m.Year) + (float64(m.Month)-0.5)/12
}

// Derive turns monthly observations into yearly climate points for the years
// in r. For each year Y the sea level trend is the OLS slope of annual means
// over (Y-15, Y], in mm/yr, and needs at least three annual means. Storm surge
// frequency is the share of Y's months whose anomaly from the window's linear
// fit exceeds 1.5 standard deviations of the window's residuals.
func Derive(monthly []MonthlyMSL, r domain.YearRange) []domain.ClimatePoint {
	sorted := append([]MonthlyMSL(nil), monthly...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Year != sorted[j].Year {
			return sorted[i].Year < sorted[j].Year
		}
		return sorted[i].Month < sorted[j].Month
	})

	byYear := make(map[int][]MonthlyMSL)
	var yearsSeen []int
	for _, m := range sorted {
		if _, ok := byYear[m.Year]; !ok {
			yearsSeen = append(yearsSeen, m.Year)
		}
		byYear[m.Year] = append(byYear[m.Year], m)
	}

	var annualYears, annualMeans []float64
	for _, y := range yearsSeen {
		months := byYear[y]
		if len(months) < minMonthsPerYear {
			continue
		}
		vals := make([]float64, len(months))
		for i, m := range months {
			vals[i] = m.MetersMSL
		}
		annualYears = append(annualYears, float64(y))
		annualMeans = append(annualMeans, stat.Mean(vals, nil))
	}

	var out []domain.ClimatePoint
	for i, y := range annualYears {
		year := int(y)
		if !r.Contains(year) {
			continue
		}
		lo := i
		for lo > 0 && annualYears[lo-1] > y-trendWindowYears {
			lo--
		}
		if i-lo+1 < minTrendPoints {
			continue
		}
		_, slope := stat.LinearRegression(annualYears[lo:i+1], annualMeans[lo:i+1], nil, false)

		out = append(out, domain.ClimatePoint{
			Year:                year,
			SeaLevelTrendMMYr:   slope * 1000,
			StormSurgeFrequency: surgeFrequency(sorted, year),
		})
	}
	return out
}

func surgeFrequency(sorted []MonthlyMSL, year int) float64 {
	var xs, ys []float64
	for _, m := range sorted {
		if m.Year > year-trendWindowYears && m.Year <= year {
			xs = append(xs, m.decimalYear())
			ys = append(ys, m.MetersMSL)
		}
	}
	if len(xs) < 3 {
		return 0
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	resid := make([]float64, len(xs))
	for i := range xs {
		resid[i] = ys[i] - (alpha + beta*xs[i])
	}
	sigma := stat.StdDev(resid, nil)
	if sigma < 1e-9 {
		return 0
	}

	var months, exceed int
	for i := range xs {
		if int(xs[i]) != year {
			continue
		}
		months++
		if resid[i] > surgeSigma*sigma {
			exceed++
		}
	}
	if months == 0 {
		return 0
	}
	return float64(exceed) / float64(months)
}
