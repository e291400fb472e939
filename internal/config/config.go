package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Source adapter configuration.
	FEMAEndpoint  string
	NOAAEndpoint  string
	NFIPPath      string
	CensusPath    string
	RawCacheDir   string
	CacheTTL      time.Duration
	SourceTimeout time.Duration
	RegionFile    string

	// Model and prediction configuration.
	DBPath               string
	PredictionCacheSize  int
	ModelRefreshInterval time.Duration
	HorizonYear          int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parsePositiveDuration("CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}

	sourceTimeout, err := parsePositiveDuration("SOURCE_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	refreshInterval, err := parsePositiveDuration("MODEL_REFRESH_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}

	horizonYear, err := parseHorizonYear()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "flood-prediction-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "flood-predictions"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "flood-risk-service"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		FEMAEndpoint:  sharedcfg.EnvOrDefault("FEMA_ENDPOINT", "https://hazards.fema.gov/nfhlv2/rest/services/public/NFHLV2/MapServer/1"),
		NOAAEndpoint:  sharedcfg.EnvOrDefault("NOAA_ENDPOINT", "https://tidesandcurrents.noaa.gov/sltrends/data"),
		NFIPPath:      sharedcfg.EnvOrDefault("NFIP_PATH", "data/raw/nfip"),
		CensusPath:    sharedcfg.EnvOrDefault("CENSUS_PATH", "data/raw/census/zcta.csv"),
		RawCacheDir:   sharedcfg.EnvOrDefault("RAW_CACHE_DIR", "data/raw/cache"),
		CacheTTL:      cacheTTL,
		SourceTimeout: sourceTimeout,
		RegionFile:    os.Getenv("REGION_FILE"),

		DBPath:               sharedcfg.EnvOrDefault("DB_PATH", "data/floodrisk.db"),
		PredictionCacheSize:  parsePredictionCacheSize(),
		ModelRefreshInterval: refreshInterval,
		HorizonYear:          horizonYear,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.FEMAEndpoint == "" {
		return nil, errors.New("FEMA_ENDPOINT is required")
	}
	if cfg.NOAAEndpoint == "" {
		return nil, errors.New("NOAA_ENDPOINT is required")
	}
	if cfg.NFIPPath == "" {
		return nil, errors.New("NFIP_PATH is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseHorizonYear() (int, error) {
	s := sharedcfg.EnvOrDefault("HORIZON_YEAR", "2035")
	n, err := strconv.Atoi(s)
	if err != nil || n < 2000 || n > 2100 {
		return 0, errors.New("invalid HORIZON_YEAR")
	}
	return n, nil
}

func parsePredictionCacheSize() int {
	if s := os.Getenv("PREDICTION_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 10000
}
