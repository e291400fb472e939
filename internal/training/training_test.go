package training

import (
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

// historySnapshot builds eleven years of history for six ZIP codes. Lower,
// more flood-exposed ZIPs file more claims and pay more.
func historySnapshot(t *testing.T) *features.Snapshot {
	t.Helper()
	zips := []string{"33602", "33603", "33604", "33605", "33606", "33607"}
	years := domain.YearRange{From: 2010, To: 2020}

	var (
		geo     []domain.GeoUnit
		flood   []domain.FloodZoneRecord
		climate []domain.ClimateSeries
		ins     []domain.InsuranceRecord
	)
	for i, zip := range zips {
		elev := 0.5 + float64(i)*1.5
		high := 70 - float64(i)*12
		geo = append(geo, domain.GeoUnit{
			ZIP: zip, Year: 2010, ElevationM: elev, CoastalDistanceKM: 0.5 + float64(i),
			Population: 10000 + i*2000, PropertyValueIndex: 200000 + float64(i)*40000,
		})
		flood = append(flood, domain.FloodZoneRecord{
			ZIP: zip, HighRiskPct: high, ModerateRiskPct: 20, HazardScore: domain.HazardScore(high, 20),
		})

		series := domain.ClimateSeries{ZIP: zip, Station: "8726607"}
		for _, y := range years.Years() {
			k := float64(y - years.From)
			require.NoError(t, series.Append(domain.ClimatePoint{
				Year:                y,
				SeaLevelTrendMMYr:   2 + 0.2*k,
				StormSurgeFrequency: 0.1 + 0.01*k,
			}))
			claims := int(high*2 + k*8 - elev*10)
			if claims < 1 {
				claims = 1
			}
			avg := decimal.NewFromInt(int64(700 + high*12 + k*25))
			ins = append(ins, domain.InsuranceRecord{
				ZIP: zip, Year: y, ClaimsCount: claims, PolicyCount: 1000,
				AvgPremium:   avg,
				TotalPremium: avg.Mul(decimal.NewFromInt(1000)),
				TotalPaid:    decimal.NewFromInt(int64(claims) * 9000),
			})
		}
		climate = append(climate, series)
	}

	snap, err := features.NewSnapshot("Tampa Bay", years, geo, flood, climate, ins, nil)
	require.NoError(t, err)
	return snap
}

func testTrainer() *Trainer {
	opts := forecast.DefaultOptions()
	opts.Iterations = 500
	return NewTrainer(opts, discardLogger())
}

func TestTrain(t *testing.T) {
	fixClock(t)
	snap := historySnapshot(t)

	a, err := testTrainer().Train(snap)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^v20250301-[0-9a-f]{8}$`), a.Version)
	assert.Equal(t, snap.ID, a.SnapshotID)
	assert.Equal(t, uuid.Version(7), a.RunID.Version())
	assert.Equal(t, 66, a.Risk.Samples)
	assert.Equal(t, 66, a.Premium.Samples)
	assert.Equal(t, 2020, a.Risk.TrainedThrough)
	assert.Equal(t, 2020, a.Premium.BaseYear)
}

func TestTrain_Deterministic(t *testing.T) {
	fixClock(t)
	snap := historySnapshot(t)

	a, err := testTrainer().Train(snap)
	require.NoError(t, err)
	b, err := testTrainer().Train(snap)
	require.NoError(t, err)

	assert.Equal(t, a.Version, b.Version)
	assert.NotEqual(t, a.RunID, b.RunID, "run ids are unique")
	if diff := cmp.Diff(a.Risk, b.Risk); diff != "" {
		t.Errorf("risk models differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.Premium.Coef, b.Premium.Coef); diff != "" {
		t.Errorf("premium coefficients differ (-a +b):\n%s", diff)
	}
}

func TestTrain_NoInsuranceHistory(t *testing.T) {
	fixClock(t)
	full := historySnapshot(t)
	snap, err := features.NewSnapshot(full.Region, full.Years, full.GeoUnits, full.FloodZones, full.Climate, nil, nil)
	require.NoError(t, err)

	_, err = testTrainer().Train(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), snap.ID)
}

func TestVersion_ChangesWithSnapshot(t *testing.T) {
	created := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := Version(created, "aaaa", nil, nil)
	require.NoError(t, err)
	b, err := Version(created, "bbbb", nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, "v20250301-", a[:10])
}
