package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Config holds the application settings that sit alongside the go-core
// package configs (log, httpserver, otelx, ...). It implements the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DBSlowQuery           time.Duration
	SlackWebhookURL       string
	APIToken              string

	DedupLookback      time.Duration
	HistoryWindow      time.Duration
	EscalationInterval time.Duration
	NotifyTimeout      time.Duration
	EnrichTimeout      time.Duration
	SLAPolicyFile      string

	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	RedisAddr string
	LockTTL   time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.DurationVar(&c.DBSlowQuery, "db-slow-query", 0, "log only database queries at least this slow, failures always logged (0 = log every query)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert notifications (empty = notifications logged only)")
	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens accepted on mutating endpoints, list two while rotating (empty = unauthenticated)")

	fs.DurationVar(&c.DedupLookback, "dedup-lookback", 24*time.Hour, "how far back an open alert absorbs a repeat candidate")
	fs.DurationVar(&c.HistoryWindow, "history-window", 30*24*time.Hour, "window of product history used for enrichment")
	fs.DurationVar(&c.EscalationInterval, "escalation-interval", 60*time.Second, "escalation sweep period (1s..1h)")
	fs.DurationVar(&c.NotifyTimeout, "notify-timeout", 5*time.Second, "timeout for one notification attempt (<=1m)")
	fs.DurationVar(&c.EnrichTimeout, "enrich-timeout", 2*time.Second, "timeout for enrichment lookups per candidate (<=1m)")
	fs.StringVar(&c.SLAPolicyFile, "sla-policy-file", "", "YAML file overriding SLA tiers and escalation graces")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for the candidate signal topic (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "", "Kafka topic carrying candidate signals")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "pams", "Kafka consumer group ID")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for cross-replica fingerprint locks (empty = in-process locks)")
	fs.DurationVar(&c.LockTTL, "lock-ttl", 10*time.Second, "lease length of a Redis fingerprint lock (>=1s)")
}

// Brokers returns the configured Kafka brokers, or nil when Kafka is disabled.
func (c *Config) Brokers() []string { return splitList(c.KafkaBrokers) }

// APITokens returns the accepted API tokens, or nil when the API is open.
func (c *Config) APITokens() []string { return splitList(c.APIToken) }

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
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

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DBSlowQuery < 0 || c.DBSlowQuery > time.Minute {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must be 0..1m)", c.DBSlowQuery))
	}

	// Engine windows and timeouts
	if c.DedupLookback <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_LOOKBACK %s (must be positive)", c.DedupLookback))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_WINDOW %s (must be positive)", c.HistoryWindow))
	}
	if c.EscalationInterval < time.Second || c.EscalationInterval > time.Hour {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_INTERVAL %s (must be 1s..1h)", c.EscalationInterval))
	}
	if c.NotifyTimeout <= 0 || c.NotifyTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_TIMEOUT %s (must be >0 and <=1m)", c.NotifyTimeout))
	}
	if c.EnrichTimeout <= 0 || c.EnrichTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid ENRICH_TIMEOUT %s (must be >0 and <=1m)", c.EnrichTimeout))
	}

	// Kafka is all or nothing
	if brokers := c.Brokers(); len(brokers) > 0 || c.KafkaTopic != "" {
		if len(brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_TOPIC is set"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required when Kafka is enabled"))
		}
	}

	// Lock lease only matters with Redis
	if c.RedisAddr != "" && c.LockTTL < time.Second {
		errs = append(errs, fmt.Errorf("invalid LOCK_TTL %s (must be >=1s)", c.LockTTL))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
