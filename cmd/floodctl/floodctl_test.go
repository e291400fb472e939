package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out, errOut bytes.Buffer
	root := newRootCmd(observability.NewMetricsForTesting())
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// seedSnapshot stores a small synthetic history and returns the DB path.
func seedSnapshot(t *testing.T) (string, *features.Snapshot) {
	t.Helper()
	years := domain.YearRange{From: 2012, To: 2019}

	var (
		geo     []domain.GeoUnit
		flood   []domain.FloodZoneRecord
		climate []domain.ClimateSeries
		ins     []domain.InsuranceRecord
	)
	for i, zip := range []string{"33602", "33603", "33604", "33605", "33606"} {
		elev := 0.6 + float64(i)*1.8
		high := 70 - float64(i)*13
		geo = append(geo, domain.GeoUnit{
			ZIP: zip, Year: years.From, ElevationM: elev, CoastalDistanceKM: 0.5 + float64(i),
			Population: 12000, PropertyValueIndex: 240000,
		})
		flood = append(flood, domain.FloodZoneRecord{
			ZIP: zip, HighRiskPct: high, ModerateRiskPct: 18, HazardScore: domain.HazardScore(high, 18),
		})
		series := domain.ClimateSeries{ZIP: zip, Station: "8726607"}
		for _, y := range years.Years() {
			k := float64(y - years.From)
			require.NoError(t, series.Append(domain.ClimatePoint{
				Year: y, SeaLevelTrendMMYr: 2.2 + 0.3*k, StormSurgeFrequency: 0.1 + 0.015*k,
			}))
			avg := decimal.NewFromInt(int64(750 + high*11 + k*20))
			ins = append(ins, domain.InsuranceRecord{
				ZIP: zip, Year: y, ClaimsCount: max(1, int(high*2+k*7-elev*9)), PolicyCount: 900,
				AvgPremium: avg, TotalPremium: avg.Mul(decimal.NewFromInt(900)),
				TotalPaid: decimal.NewFromInt(10000 * int64(high)),
			})
		}
		climate = append(climate, series)
	}

	snap, err := features.NewSnapshot("Tampa Bay", years, geo, flood, climate, ins, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "floodrisk.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.SaveSnapshot(context.Background(), snap)
	require.NoError(t, err)
	return path, snap
}

var versionRe = regexp.MustCompile(`artifact (v\d{8}-[0-9a-f]{8}) saved`)

func TestModelLifecycle(t *testing.T) {
	dbPath, snap := seedSnapshot(t)

	out, err := run(t, "--db", dbPath, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "No model artifacts found.")

	out, err = run(t, "--db", dbPath, "train", "--iterations", "400")
	require.NoError(t, err)
	m := versionRe.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	version := m[1]
	assert.Contains(t, out, "snapshot: "+snap.ID)
	assert.Contains(t, out, "premium feature importance")

	_, err = run(t, "--db", dbPath, "predict", "--zip", "33602", "--year", "2030")
	require.ErrorIs(t, err, store.ErrNotFound, "nothing published yet")

	out, err = run(t, "--db", dbPath, "predict", "--zip", "33602", "--year", "2030", "--version", version)
	require.NoError(t, err, "unpublished artifacts can be tried by version")
	assert.Contains(t, out, "33602 single_family 2030")

	out, err = run(t, "--db", dbPath, "publish", version)
	require.NoError(t, err)
	assert.Contains(t, out, "published "+version)

	_, err = run(t, "--db", dbPath, "publish", version)
	require.ErrorIs(t, err, store.ErrAlreadyPublished)

	out, err = run(t, "--db", dbPath, "models")
	require.NoError(t, err)
	assert.Contains(t, out, version)
	assert.Contains(t, out, "Total: 1 artifact(s)")

	out, err = run(t, "--db", dbPath, "predict", "--zip", "33603", "--type", "commercial", "--year", "2035")
	require.NoError(t, err)
	assert.Contains(t, out, "33603 commercial 2035")
	assert.Contains(t, out, "model:          "+version)
}

func TestPredictRejectsInvalidQuery(t *testing.T) {
	dbPath, _ := seedSnapshot(t)
	out, err := run(t, "--db", dbPath, "train", "--iterations", "200")
	require.NoError(t, err)
	version := versionRe.FindStringSubmatch(out)[1]
	_, err = run(t, "--db", dbPath, "publish", version)
	require.NoError(t, err)

	_, err = run(t, "--db", dbPath, "predict", "--zip", "33602", "--type", "castle", "--year", "2030")
	require.ErrorIs(t, err, domain.ErrInvalidPropertyType)

	_, err = run(t, "--db", dbPath, "predict", "--zip", "90210", "--year", "2030")
	require.ErrorIs(t, err, domain.ErrInvalidZip)

	_, err = run(t, "--db", dbPath, "predict", "--zip", "33602")
	require.Error(t, err, "--year is required")
}

func TestTrainUnknownSnapshot(t *testing.T) {
	dbPath, _ := seedSnapshot(t)
	_, err := run(t, "--db", dbPath, "train", "--snapshot", "snap-missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSummaryClimate(t *testing.T) {
	dbPath, snap := seedSnapshot(t)

	out, err := run(t, "--db", dbPath, "summary", "climate", "--from", "2030")
	require.NoError(t, err, "unpublished stores fall back to the latest snapshot")
	assert.Contains(t, out, "snapshot: "+snap.ID)
	assert.Contains(t, out, "sea level trend: 4.30 mm/yr (1 station(s))")
	assert.Contains(t, out, "rise by 2035: 21.5 mm")
	assert.Contains(t, out, "CAT3+")

	out, err = run(t, "--db", dbPath, "summary", "climate", "--from", "2030", "--json")
	require.NoError(t, err)
	var cs features.ClimateSummary
	require.NoError(t, json.Unmarshal([]byte(out), &cs))
	require.Len(t, cs.StormSurge, 6)
	first := cs.StormSurge[0]
	assert.InDelta(t, 0.205, first.Frequency, 1e-9)
	assert.InDelta(t, first.Frequency*0.6, first.Category1, 1e-9)
	assert.InDelta(t, 21.5*1.3, cs.SeaLevel[5].UpperMM, 1e-9)
}

func TestSummaryInsurance(t *testing.T) {
	dbPath, snap := seedSnapshot(t)
	want := features.Insurance(snap)

	out, err := run(t, "--db", dbPath, "summary", "insurance")
	require.NoError(t, err)
	assert.Contains(t, out, "total policies:    36000")
	assert.Contains(t, out, "ZIPs analyzed:     5")
	assert.Contains(t, out, "median premium:    $"+want.MedianPremium.StringFixed(2))

	out, err = run(t, "--db", dbPath, "summary", "insurance", "--json")
	require.NoError(t, err)
	var got struct {
		TotalClaims int `json:"total_claims"`
		Range       struct {
			Min string `json:"min"`
			Max string `json:"max"`
		} `json:"premium_range"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, want.TotalClaims, got.TotalClaims)
	assert.Equal(t, want.PremiumRange.Min.String(), got.Range.Min)
	assert.Equal(t, want.PremiumRange.Max.String(), got.Range.Max)
}

func TestZIPs(t *testing.T) {
	dbPath, _ := seedSnapshot(t)

	out, err := run(t, "--db", dbPath, "zips")
	require.NoError(t, err)
	assert.Contains(t, out, "33604   yes     yes     yes      yes")
	assert.Contains(t, out, "Total: 5 ZIP code(s)")

	out, err = run(t, "--db", dbPath, "zips", "--json")
	require.NoError(t, err)
	var zips []features.ZIPData
	require.NoError(t, json.Unmarshal([]byte(out), &zips))
	require.Len(t, zips, 5)
	assert.Equal(t, "33602", zips[0].ZIP)
}

func TestReportsReadPublishedSnapshot(t *testing.T) {
	dbPath, snap := seedSnapshot(t)
	out, err := run(t, "--db", dbPath, "train", "--iterations", "200")
	require.NoError(t, err)
	version := versionRe.FindStringSubmatch(out)[1]

	out, err = run(t, "--db", dbPath, "summary", "insurance", "--version", version)
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot:          "+snap.ID)

	_, err = run(t, "--db", dbPath, "zips", "--version", "v20990101-deadbeef")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReportsWithoutSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	_, err := run(t, "--db", dbPath, "summary", "climate")
	require.ErrorIs(t, err, store.ErrNotFound)
}
