package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr       string        `envconfig:"STOREFRONT_HTTP_ADDR" default:":8080"`
	MetricsAddr    string        `envconfig:"STOREFRONT_METRICS_ADDR" default:":9090"`
	LogLevel       string        `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_REQUEST_TIMEOUT" default:"30s"`

	StorageDriver       string `envconfig:"STOREFRONT_STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string `envconfig:"STOREFRONT_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"STOREFRONT_POSTGRES_AUTO_MIGRATE" default:"true"`
	PostgresMaxConns    int    `envconfig:"STOREFRONT_POSTGRES_MAX_CONNS" default:"25"`
	CatalogSeedFile     string `envconfig:"STOREFRONT_CATALOG_SEED_FILE"`

	RedisAddr       string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	WebhookGuardTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_GUARD_TTL" default:"72h"`

	// KafkaBrokers — список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers         string `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	KafkaEventsTopic     string `envconfig:"STOREFRONT_KAFKA_EVENTS_TOPIC" default:"storefront.order.events"`
	KafkaOutcomesTopic   string `envconfig:"STOREFRONT_KAFKA_OUTCOMES_TOPIC" default:"storefront.payment.outcomes"`
	KafkaDLQTopic        string `envconfig:"STOREFRONT_KAFKA_DLQ_TOPIC" default:"storefront.dlq"`
	KafkaConsumerGroup   string `envconfig:"STOREFRONT_KAFKA_CONSUMER_GROUP" default:"storefront-payments"`
	KafkaConsumerRetries int    `envconfig:"STOREFRONT_KAFKA_CONSUMER_RETRIES" default:"3"`

	OutboxPollInterval time.Duration `envconfig:"STOREFRONT_OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"STOREFRONT_OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"STOREFRONT_OUTBOX_RETRY_DELAY" default:"100ms"`

	IdempotencyCleanupInterval  time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL" default:"1m"`
	IdempotencyCleanupBatchSize int           `envconfig:"STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`

	StripeSecretKey     string `envconfig:"STOREFRONT_STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`

	Currency         string        `envconfig:"STOREFRONT_CURRENCY" default:"EUR"`
	DeliveryFeeMinor int64         `envconfig:"STOREFRONT_DELIVERY_FEE_MINOR" default:"0"`
	BaseURL          string        `envconfig:"STOREFRONT_BASE_URL" default:"http://localhost:3000"`
	GatewayTimeout   time.Duration `envconfig:"STOREFRONT_GATEWAY_TIMEOUT" default:"10s"`

	BreakerMaxFailures  int           `envconfig:"STOREFRONT_BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"STOREFRONT_BREAKER_RESET_TIMEOUT" default:"30s"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		LogLevel:                    "info",
		RequestTimeout:              30 * time.Second,
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		WebhookGuardTTL:             72 * time.Hour,
		KafkaEventsTopic:            "storefront.order.events",
		KafkaOutcomesTopic:          "storefront.payment.outcomes",
		KafkaDLQTopic:               "storefront.dlq",
		KafkaConsumerGroup:          "storefront-payments",
		KafkaConsumerRetries:        3,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		Currency:                    "EUR",
		BaseURL:                     "http://localhost:3000",
		GatewayTimeout:              10 * time.Second,
		BreakerMaxFailures:          5,
		BreakerResetTimeout:         30 * time.Second,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения STOREFRONT_*.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv не перезаписывает уже заданные переменные. Отсутствующий файл не ошибка.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Validate отклоняет несовместимые сочетания настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("STOREFRONT_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if (c.StripeSecretKey == "") != (c.StripeWebhookSecret == "") {
		errs = append(errs, errors.New("stripe secret key and webhook secret must be set together"))
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		errs = append(errs, fmt.Errorf("currency %q must be a 3-letter ISO code", c.Currency))
	}
	if c.DeliveryFeeMinor < 0 {
		errs = append(errs, errors.New("delivery fee must not be negative"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.KafkaBrokers != "" && strings.TrimSpace(c.KafkaConsumerGroup) == "" {
		errs = append(errs, errors.New("kafka consumer group is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers.
func (c Config) Brokers() []string {
	return splitBrokers(c.KafkaBrokers)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// successURL и cancelURL ведут обратно на страницу заказа витрины.
func (c Config) successURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/orders/{order_id}?payment=success"
}

func (c Config) cancelURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/orders/{order_id}?payment=cancelled"
}
