package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Transport kinds for the stream source and sink.
const (
	TransportNone    = "none"
	TransportKafka   = "kafka"
	TransportRedis   = "redis"
	TransportWebhook = "webhook"
)

// Config holds the application configuration, next to the go-core component configs
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	FallbackRecipients string
	DefaultRecipient   string

	DatabaseURL             string
	DatabaseMaxConns        int
	DatabaseSlowQueryMillis int
	DirectoryTimeoutMillis  int
	DirectoryFile           string

	Source string

	KafkaBrokers     string
	KafkaInputTopic  string
	KafkaOutputTopic string
	KafkaGroupID     string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisInputStream  string
	RedisOutputStream string
	RedisGroup        string
	RedisConsumer     string
	RedisMaxLen       int64

	SinkWebhookURL    string
	SinkWebhookFormat string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens accepted by the API (empty = no auth)")

	fs.StringVar(&c.FallbackRecipients, "fallback-recipients", "", "comma-separated addresses notified when no care-team contact resolves")
	fs.StringVar(&c.DefaultRecipient, "default-recipient", "default@example.com", "last-resort address when no fallback is configured")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL patient directory URL (empty = in-memory directory)")
	fs.IntVar(&c.DatabaseMaxConns, "database-max-conns", 0, "max pooled connections (0 = pgx default)")
	fs.IntVar(&c.DatabaseSlowQueryMillis, "database-slow-query-ms", 100, "log successful queries slower than this (0 = all, -1 = failures only)")
	fs.IntVar(&c.DirectoryTimeoutMillis, "directory-timeout-ms", 2000, "timeout for a single directory lookup in ms (1..60000)")
	fs.StringVar(&c.DirectoryFile, "directory-file", "", "YAML patient seed file for the in-memory directory, reloaded on change")

	fs.StringVar(&c.Source, "source", "", "raw alert source: kafka, redis, none (empty = kafka if brokers set, else redis if addr set)")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers")
	fs.StringVar(&c.KafkaInputTopic, "kafka-input-topic", "alert-events", "Kafka topic carrying raw alerts")
	fs.StringVar(&c.KafkaOutputTopic, "kafka-output-topic", "enriched-alerts-events", "Kafka topic for enriched alerts")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "alert-enrichment", "Kafka consumer group")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address (host:port) for stream transport")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&c.RedisInputStream, "redis-input-stream", "alert-events", "Redis stream carrying raw alerts")
	fs.StringVar(&c.RedisOutputStream, "redis-output-stream", "enriched-alerts-events", "Redis stream for enriched alerts")
	fs.StringVar(&c.RedisGroup, "redis-group", "alert-enrichment", "Redis stream consumer group")
	fs.StringVar(&c.RedisConsumer, "redis-consumer", "", "consumer name within the group (empty = hostname)")
	fs.Int64Var(&c.RedisMaxLen, "redis-max-len", 0, "approximate cap on the output stream length (0 = unbounded)")

	fs.StringVar(&c.SinkWebhookURL, "sink-webhook-url", "", "HTTP endpoint receiving enriched alerts (takes precedence over Kafka/Redis sinks)")
	fs.StringVar(&c.SinkWebhookFormat, "sink-webhook-format", "json", "webhook body format: json or slack")
}

// DirectoryTimeout returns the per-lookup timeout.
func (c *Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.DirectoryTimeoutMillis) * time.Millisecond
}

// SlowQuery returns the query log threshold; negative disables logging of successful queries.
func (c *Config) SlowQuery() time.Duration {
	if c.DatabaseSlowQueryMillis < 0 {
		return -1
	}
	return time.Duration(c.DatabaseSlowQueryMillis) * time.Millisecond
}

// SourceKind resolves the stream source, applying the automatic choice.
func (c *Config) SourceKind() string {
	switch {
	case c.Source != "":
		return c.Source
	case c.KafkaBrokers != "":
		return TransportKafka
	case c.RedisAddr != "":
		return TransportRedis
	}
	return TransportNone
}

// SinkKind resolves where enriched alerts go: webhook, then Kafka, then Redis.
func (c *Config) SinkKind() string {
	switch {
	case c.SinkWebhookURL != "":
		return TransportWebhook
	case c.KafkaBrokers != "":
		return TransportKafka
	case c.RedisAddr != "":
		return TransportRedis
	}
	return TransportNone
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Recipients
	if !looksLikeAddress(c.DefaultRecipient) {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_RECIPIENT %q (must be an email address)", c.DefaultRecipient))
	}
	for _, r := range strings.Split(c.FallbackRecipients, ",") {
		if r = strings.TrimSpace(r); r != "" && !looksLikeAddress(r) {
			errs = append(errs, fmt.Errorf("invalid FALLBACK_RECIPIENTS entry %q (must be an email address)", r))
		}
	}

	// Directory
	if c.DatabaseURL != "" && c.DirectoryFile != "" {
		errs = append(errs, errors.New("DATABASE_URL and DIRECTORY_FILE are mutually exclusive"))
	}
	if c.DatabaseMaxConns < 0 || c.DatabaseMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DATABASE_MAX_CONNS %d (must be 0..1000)", c.DatabaseMaxConns))
	}
	if c.DatabaseSlowQueryMillis < -1 {
		errs = append(errs, fmt.Errorf("invalid DATABASE_SLOW_QUERY_MS %d (must be >= -1)", c.DatabaseSlowQueryMillis))
	}
	if c.DirectoryTimeoutMillis <= 0 || c.DirectoryTimeoutMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid DIRECTORY_TIMEOUT_MS %d (must be 1..60000)", c.DirectoryTimeoutMillis))
	}

	// Source
	switch c.Source {
	case "", TransportNone:
	case TransportKafka:
		if c.KafkaBrokers == "" {
			errs = append(errs, errors.New("SOURCE kafka requires KAFKA_BROKERS"))
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("SOURCE redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SOURCE %q (must be kafka, redis or none)", c.Source))
	}

	// Kafka
	if c.KafkaBrokers != "" {
		if c.KafkaInputTopic == "" || c.KafkaOutputTopic == "" {
			errs = append(errs, errors.New("KAFKA_INPUT_TOPIC and KAFKA_OUTPUT_TOPIC are required with KAFKA_BROKERS"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required with KAFKA_BROKERS"))
		}
	}

	// Redis
	if c.RedisAddr != "" {
		if c.RedisInputStream == "" || c.RedisOutputStream == "" {
			errs = append(errs, errors.New("REDIS_INPUT_STREAM and REDIS_OUTPUT_STREAM are required with REDIS_ADDR"))
		}
		if c.RedisGroup == "" {
			errs = append(errs, errors.New("REDIS_GROUP is required with REDIS_ADDR"))
		}
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}
	if c.RedisMaxLen < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_MAX_LEN %d (must be >= 0)", c.RedisMaxLen))
	}

	// Webhook sink
	if c.SinkWebhookURL != "" {
		u, err := url.Parse(c.SinkWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid SINK_WEBHOOK_URL %q (must be an absolute http(s) URL)", c.SinkWebhookURL))
		}
	}
	if c.SinkWebhookFormat != "json" && c.SinkWebhookFormat != "slack" {
		errs = append(errs, fmt.Errorf("invalid SINK_WEBHOOK_FORMAT %q (must be json or slack)", c.SinkWebhookFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func looksLikeAddress(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " ,")
}
