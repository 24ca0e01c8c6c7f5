// Команда dlq-reprocess переотправляет сообщения из DLQ в исходные топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "STOREFRONT_KAFKA_BROKERS"
)

// envDefaults — значения по умолчанию из окружения сервиса.
type envDefaults struct {
	Brokers     string `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	DLQTopic    string `envconfig:"STOREFRONT_KAFKA_DLQ_TOPIC" default:"storefront.dlq"`
	EventsTopic string `envconfig:"STOREFRONT_KAFKA_EVENTS_TOPIC" default:"storefront.order.events"`
}

type config struct {
	brokers     []string
	sourceTopic string
	// targetTopic — топик событий заказа для outbox-записей и запасной для записей consumer.
	targetTopic string
	limit       int
	// originalTopic ограничивает replay записями consumer DLQ из этого топика.
	originalTopic string
	orderID       string
	eventType     string
	execute       bool
	fromNewest    bool
	idleTimeout   time.Duration
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	client, err := sarama.NewClient(cfg.brokers, kafka.NewConsumerConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}
	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var env envDefaults
	if err := envconfig.Process("", &env); err != nil {
		return config{}, fmt.Errorf("read environment: %w", err)
	}

	var (
		brokersRaw string
		cfg        config
	)
	flag.StringVar(&brokersRaw, "brokers", env.Brokers, "Kafka brokers, comma-separated (env "+envKafkaBrokers+")")
	flag.StringVar(&cfg.sourceTopic, "source-topic", env.DLQTopic, "DLQ topic to scan")
	flag.StringVar(&cfg.targetTopic, "target-topic", env.EventsTopic, "order events topic for outbox entries")
	flag.StringVar(&cfg.originalTopic, "original-topic", "", "replay only consumer entries from this topic (e.g. "+kafka.TopicPaymentOutcomes+")")
	flag.StringVar(&cfg.orderID, "order-id", "", "replay only messages of this order")
	flag.StringVar(&cfg.eventType, "event-type", "", "replay only outbox events of this type (e.g. OrderPaymentConfirmed)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	flag.Parse()

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.orderID = strings.TrimSpace(cfg.orderID)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case cfg.sourceTopic == "":
		return config{}, fmt.Errorf("source-topic is required")
	case cfg.targetTopic == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"original":     cfg.originalTopic,
		"order_id":     cfg.orderID,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	r, err := newReplayer(cfg, client, consumer, producer)
	if err != nil {
		return err
	}
	sum, err := r.run(ctx)
	sum.write(out)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"mode":     sum.Mode,
		"scanned":  sum.Scanned,
		"replayed": sum.Replayed,
		"skipped":  sum.skippedTotal(),
	}).Info("dlq replay finished")
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
