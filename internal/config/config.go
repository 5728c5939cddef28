package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"

	NotifierLog      = "log"
	NotifierFCM      = "fcm"
	NotifierWS       = "ws"
	NotifierFallback = "fallback"

	AlerterLog   = "log"
	AlerterKafka = "kafka"
	AlerterFCM   = "fcm"
)

// DispatchConfig holds the assignment protocol tunables.
type DispatchConfig struct {
	OfferBatchSize   int
	OfferWindow      time.Duration
	SweepInterval    time.Duration
	SweepRebroadcast bool
}

// ServerConfig captures all tunable parameters for the API and consumer
// processes. Values are primarily loaded from environment variables with sane
// defaults so the binaries can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StoreBackend  string
	PGDSN         string
	RunMigrations bool

	FirebaseProjectID       string
	FirebaseCredentialsFile string

	Notifier string
	// Alerter selects the admin channel for failed orders. Empty picks kafka
	// when brokers are configured and log otherwise.
	Alerter string

	RedisAddr     string
	RedisPassword string
	SweepLockKey  string
	SweepLockTTL  time.Duration

	KafkaBrokers          []string
	KafkaOrderEventsTopic string
	KafkaGroup            string
	KafkaAlertTopic       string

	Dispatch DispatchConfig

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":2112",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		StoreBackend:          BackendMemory,
		Notifier:              NotifierLog,
		SweepLockKey:          "driver-dispatch:sweep",
		SweepLockTTL:          50 * time.Second,
		KafkaOrderEventsTopic: "order-events",
		KafkaGroup:            "driver-dispatch-consumer",
		KafkaAlertTopic:       "admin-alerts",
		Dispatch: DispatchConfig{
			OfferBatchSize: 3,
			OfferWindow:    20 * time.Second,
			SweepInterval:  60 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadDotEnv loads variables from the given files (".env" by default) without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setStringFromEnv(&cfg.FirebaseProjectID, "FIREBASE_PROJECT_ID")
	setStringFromEnv(&cfg.FirebaseCredentialsFile, "FIREBASE_CREDENTIALS_FILE")

	if v := os.Getenv("NOTIFIER"); v != "" {
		cfg.Notifier = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("ALERTER"); v != "" {
		cfg.Alerter = strings.ToLower(strings.TrimSpace(v))
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.SweepLockKey, "SWEEP_LOCK_KEY")
	setDurationFromEnv(&cfg.SweepLockTTL, "SWEEP_LOCK_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaOrderEventsTopic, "KAFKA_ORDER_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.KafkaAlertTopic, "KAFKA_ALERT_TOPIC")

	setIntFromEnv(&cfg.Dispatch.OfferBatchSize, "OFFER_BATCH_SIZE", &errs)
	setDurationFromEnv(&cfg.Dispatch.OfferWindow, "OFFER_WINDOW", &errs)
	setDurationFromEnv(&cfg.Dispatch.SweepInterval, "SWEEP_INTERVAL", &errs)
	setBoolFromEnv(&cfg.Dispatch.SweepRebroadcast, "SWEEP_REBROADCAST", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required for STORE_BACKEND=postgres"))
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			errs = append(errs, fmt.Errorf("FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE is required for STORE_BACKEND=firestore"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.Notifier {
	case NotifierLog, NotifierWS:
	case NotifierFCM, NotifierFallback:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			errs = append(errs, fmt.Errorf("NOTIFIER=%s needs firebase credentials", c.Notifier))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier))
	}
	switch c.Alerter {
	case "", AlerterLog:
	case AlerterKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("ALERTER=kafka needs KAFKA_BROKERS"))
		}
	case AlerterFCM:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			errs = append(errs, fmt.Errorf("ALERTER=fcm needs firebase credentials"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ALERTER %q", c.Alerter))
	}
	if c.Dispatch.OfferBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_BATCH_SIZE must be > 0"))
	}
	if c.Dispatch.OfferWindow <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_WINDOW must be > 0"))
	}
	if c.Dispatch.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be > 0"))
	}
	if c.RedisAddr != "" {
		switch {
		case c.SweepLockTTL <= 0:
			errs = append(errs, fmt.Errorf("SWEEP_LOCK_TTL must be > 0"))
		case c.SweepLockTTL >= c.Dispatch.SweepInterval:
			// the holder must lose the lease before its own next tick
			errs = append(errs, fmt.Errorf("SWEEP_LOCK_TTL (%s) must be shorter than SWEEP_INTERVAL (%s)", c.SweepLockTTL, c.Dispatch.SweepInterval))
		}
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
