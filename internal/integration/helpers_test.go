//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/prediction"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("flood-risk-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// trainedService returns a prediction service loaded with models trained on
// a synthetic eight-year history for four Tampa ZIPs.
func trainedService(t *testing.T) *prediction.Service {
	t.Helper()
	zips := []string{"33602", "33603", "33604", "33605"}
	years := domain.YearRange{From: 2012, To: 2019}

	var (
		geo     []domain.GeoUnit
		flood   []domain.FloodZoneRecord
		climate []domain.ClimateSeries
		ins     []domain.InsuranceRecord
	)
	for i, zip := range zips {
		elev := 0.8 + float64(i)*2
		high := 65 - float64(i)*15
		geo = append(geo, domain.GeoUnit{
			ZIP: zip, Year: years.From, ElevationM: elev, CoastalDistanceKM: 1 + float64(i),
			Population: 15000, PropertyValueIndex: 250000,
		})
		flood = append(flood, domain.FloodZoneRecord{
			ZIP: zip, HighRiskPct: high, ModerateRiskPct: 15, HazardScore: domain.HazardScore(high, 15),
		})
		series := domain.ClimateSeries{ZIP: zip, Station: "8726607"}
		for _, y := range years.Years() {
			k := float64(y - years.From)
			require.NoError(t, series.Append(domain.ClimatePoint{
				Year: y, SeaLevelTrendMMYr: 2.5 + 0.25*k, StormSurgeFrequency: 0.12 + 0.01*k,
			}))
			avg := decimal.NewFromInt(int64(800 + high*10 + k*30))
			ins = append(ins, domain.InsuranceRecord{
				ZIP: zip, Year: y, ClaimsCount: max(1, int(high*2+k*6-elev*8)), PolicyCount: 800,
				AvgPremium: avg, TotalPremium: avg.Mul(decimal.NewFromInt(800)),
				TotalPaid: decimal.NewFromInt(12000 * int64(high)),
			})
		}
		climate = append(climate, series)
	}

	snap, err := features.NewSnapshot("Tampa Bay", years, geo, flood, climate, ins, nil)
	require.NoError(t, err)

	artifact, err := training.NewTrainer(forecast.DefaultOptions(), discardLogger()).Train(snap)
	require.NoError(t, err)
	ms, err := prediction.NewModelSet(artifact, snap)
	require.NoError(t, err)

	svc := prediction.NewService(config.DefaultRegion(), 128, observability.NewMetricsForTesting(), discardLogger())
	svc.Refresh(ms)
	return svc
}
