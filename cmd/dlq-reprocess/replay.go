package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// Причины пропуска для отчёта.
const (
	skipUndecodable   = "undecodable"
	skipOriginalTopic = "original_topic_filter"
	skipOrderID       = "order_filter"
	skipEventType     = "event_type_filter"
)

// replayer читает DLQ-топик от старых offset к новым (или последние limit
// сообщений) и переотправляет восстановленные сообщения в исходные топики.
type replayer struct {
	cfg      config
	offsets  offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	logger   *log.Entry
}

func newReplayer(cfg config, offsets offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if offsets == nil || consumer == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		offsets:  offsets,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-reprocess"),
	}, nil
}

func (r *replayer) run(ctx context.Context) (summary, error) {
	sum := newSummary(r.cfg.execute)

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return sum, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return sum, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - sum.Scanned
		if budget <= 0 {
			break
		}
		if err := r.scanPartition(ctx, partition, budget, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// window возвращает [start, end) offset для чтения партиции.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	start := oldest
	if r.cfg.fromNewest {
		start = max(oldest, newest-int64(budget))
	}
	return start, newest, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int, sum *summary) error {
	start, end, err := r.window(partition, budget)
	if err != nil {
		return err
	}
	if end <= start {
		return nil
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for scanned := 0; scanned < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)

			scanned++
			if err := r.handle(msg, sum); err != nil {
				return err
			}
			if msg.Offset+1 >= end {
				return nil
			}
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, sum *summary) error {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
	sum.Scanned++

	replay, err := decodeDeadLetter(msg.Value, r.cfg.targetTopic)
	if err != nil {
		if !errors.Is(err, errNotDeadLetter) {
			logger.WithError(err).Warn("skip unsupported dlq message")
		}
		sum.skip(skipUndecodable)
		return nil
	}
	if reason := r.filter(replay); reason != "" {
		sum.skip(reason)
		return nil
	}

	logger = logger.WithFields(log.Fields{
		"target_topic": replay.topic,
		"key":          replay.key,
		"source":       replay.source,
		"reason":       replay.reason,
	})
	if r.cfg.execute {
		if _, _, err := r.producer.SendMessage(replay.producerMessage()); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
		logger.Debug("dlq message replayed")
	} else {
		logger.Info("dlq replay candidate")
	}
	sum.replayed(replay)
	return nil
}

// filter возвращает причину пропуска или пустую строку.
func (r *replayer) filter(m replayMessage) string {
	switch {
	case r.cfg.originalTopic != "" && m.topic != r.cfg.originalTopic:
		return skipOriginalTopic
	case r.cfg.orderID != "" && m.key != r.cfg.orderID:
		return skipOrderID
	case r.cfg.eventType != "" && m.eventType != r.cfg.eventType:
		return skipEventType
	}
	return ""
}

// summary — итог прогона.
type summary struct {
	Mode     string         `json:"mode"`
	Scanned  int            `json:"scanned"`
	Replayed int            `json:"replayed"`
	Skipped  map[string]int `json:"skipped"`
	ByTopic  map[string]int `json:"by_topic"`
	ByReason map[string]int `json:"by_reason"`
}

func newSummary(execute bool) summary {
	mode := "dry-run"
	if execute {
		mode = "execute"
	}
	return summary{
		Mode:     mode,
		Skipped:  map[string]int{},
		ByTopic:  map[string]int{},
		ByReason: map[string]int{},
	}
}

func (s *summary) skip(reason string) { s.Skipped[reason]++ }

func (s *summary) replayed(m replayMessage) {
	s.Replayed++
	s.ByTopic[m.topic]++
	reason := m.reason
	if reason == "" {
		reason = "unknown"
	}
	s.ByReason[reason]++
}

func (s summary) skippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

func (s summary) write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "mode=%s scanned=%d replayed=%d skipped=%d\n", s.Mode, s.Scanned, s.Replayed, s.skippedTotal())
	for _, topic := range sortedKeys(s.ByTopic) {
		_, _ = fmt.Fprintf(w, "  topic %s: %d\n", topic, s.ByTopic[topic])
	}
	for _, reason := range sortedKeys(s.ByReason) {
		_, _ = fmt.Fprintf(w, "  reason %q: %d\n", reason, s.ByReason[reason])
	}
	for _, skip := range sortedKeys(s.Skipped) {
		_, _ = fmt.Fprintf(w, "  skipped %s: %d\n", skip, s.Skipped[skip])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
