package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "flood-prediction-requests", cfg.KafkaSourceTopic)
	assert.Equal(t, "flood-predictions", cfg.KafkaSinkTopic)
	assert.Equal(t, "flood-risk-service", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)

	assert.Contains(t, cfg.FEMAEndpoint, "hazards.fema.gov")
	assert.Contains(t, cfg.NOAAEndpoint, "tidesandcurrents.noaa.gov")
	assert.Equal(t, "data/raw/nfip", cfg.NFIPPath)
	assert.Equal(t, "data/raw/census/zcta.csv", cfg.CensusPath)
	assert.Equal(t, "data/raw/cache", cfg.RawCacheDir)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.SourceTimeout)
	assert.Empty(t, cfg.RegionFile)
	assert.Equal(t, "data/floodrisk.db", cfg.DBPath)
	assert.Equal(t, 10000, cfg.PredictionCacheSize)
	assert.Equal(t, time.Minute, cfg.ModelRefreshInterval)
	assert.Equal(t, 2035, cfg.HorizonYear)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("FEMA_ENDPOINT", "http://fema.local/layer/1")
	t.Setenv("NOAA_ENDPOINT", "http://noaa.local/data")
	t.Setenv("NFIP_PATH", "/srv/nfip")
	t.Setenv("CACHE_TTL", "6h")
	t.Setenv("SOURCE_TIMEOUT", "5s")
	t.Setenv("REGION_FILE", "/etc/floodrisk/region.yaml")
	t.Setenv("DB_PATH", "/var/lib/floodrisk.db")
	t.Setenv("PREDICTION_CACHE_SIZE", "250")
	t.Setenv("MODEL_REFRESH_INTERVAL", "30s")
	t.Setenv("HORIZON_YEAR", "2040")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, "http://fema.local/layer/1", cfg.FEMAEndpoint)
	assert.Equal(t, "http://noaa.local/data", cfg.NOAAEndpoint)
	assert.Equal(t, "/srv/nfip", cfg.NFIPPath)
	assert.Equal(t, 6*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.SourceTimeout)
	assert.Equal(t, "/etc/floodrisk/region.yaml", cfg.RegionFile)
	assert.Equal(t, "/var/lib/floodrisk.db", cfg.DBPath)
	assert.Equal(t, 250, cfg.PredictionCacheSize)
	assert.Equal(t, 30*time.Second, cfg.ModelRefreshInterval)
	assert.Equal(t, 2040, cfg.HorizonYear)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidCacheTTL(t *testing.T) {
	t.Setenv("CACHE_TTL", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_TTL")
}

func TestLoad_InvalidSourceTimeout(t *testing.T) {
	t.Setenv("SOURCE_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCE_TIMEOUT")
}

func TestLoad_InvalidHorizonYear(t *testing.T) {
	t.Setenv("HORIZON_YEAR", "1850")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HORIZON_YEAR")
}

func TestLoad_EmptyNFIPPath(t *testing.T) {
	t.Setenv("NFIP_PATH", "")
	cfg, err := Load()
	require.NoError(t, err, "empty env falls back to the default")
	assert.Equal(t, "data/raw/nfip", cfg.NFIPPath)
}

func TestLoad_BadPredictionCacheSizeFallsBack(t *testing.T) {
	t.Setenv("PREDICTION_CACHE_SIZE", "-3")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.PredictionCacheSize)
}

func TestDefaultRegion(t *testing.T) {
	r := DefaultRegion()
	require.NoError(t, r.Validate())

	assert.Equal(t, "Tampa Bay", r.Name)
	assert.Len(t, r.ZIPs, 25)
	assert.True(t, r.HasZIP("33602"))
	assert.True(t, r.HasZIP("33708"))
	assert.False(t, r.HasZIP("90210"))
	assert.Len(t, r.Stations, 4)
	assert.Len(t, r.Counties, 4)
	assert.Equal(t, "8726520", r.StationAssignments["33701"])
}

func TestLoadRegion_EmptyPathUsesDefault(t *testing.T) {
	r, err := LoadRegion("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion().ZIPs, r.ZIPs)
}

func TestLoadRegion_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.yaml")
	data := `
name: Test Bay
zips: ["33602", "33701"]
stations:
  - id: "8726520"
    name: St. Petersburg
    lat: 27.7606
    lon: -82.6269
station_assignments:
  "33602": "8726520"
history:
  from: 2015
  to: 2020
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	r, err := LoadRegion(path)
	require.NoError(t, err)

	assert.Equal(t, "Test Bay", r.Name)
	assert.Equal(t, []string{"33602", "33701"}, r.ZIPs)
	require.Len(t, r.Stations, 1)
	assert.InDelta(t, 27.7606, r.Stations[0].Lat, 1e-9)
	assert.Equal(t, "8726520", r.StationAssignments["33602"])
	assert.Equal(t, domain.YearRange{From: 2015, To: 2020}, r.History)
	assert.Equal(t, 2100, r.MaxYear, "unset fields keep defaults")
}

func TestLoadRegion_UnknownStation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.yaml")
	data := `
zips: ["33602"]
station_assignments:
  "33602": "0000000"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	_, err := LoadRegion(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown station")
}

func TestLoadRegion_InvalidZIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`zips: ["3360"]`), 0o600))

	_, err := LoadRegion(path)
	require.ErrorIs(t, err, domain.ErrInvalidZip)
}

func TestLoadRegion_MissingFile(t *testing.T) {
	_, err := LoadRegion(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
