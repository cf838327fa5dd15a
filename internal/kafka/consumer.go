package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// BatchIngester stores completed games arriving from the topic
type BatchIngester interface {
	IngestBatch(ctx context.Context, records []domain.ScoreRecord) (int, error)
}

// Consumer consumes completed-game messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	ingester      BatchIngester
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, ingester BatchIngester, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		ingester:      ingester,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches completed games from a partition. Offsets are marked
// only after the batch holding them was stored. A failed batch ends the claim
// unmarked, so the partition resumes from the last stored offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	batch := make([]domain.ScoreRecord, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() error {
		if last == nil {
			return nil
		}
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := h.consumer.ingester.IngestBatch(ctx, batch)
			cancel()
			if err != nil {
				logger.Error("failed to ingest batch",
					"error", err,
					"batch_size", len(batch),
					"partition", last.Partition,
					"offset", last.Offset,
				)
				return fmt.Errorf("ingesting batch ending at offset %d: %w", last.Offset, err)
			}
			logger.Debug("ingested batch", "batch_size", len(batch), "stored", n)
		}
		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return flush()

		case <-batchTimer.C:
			if err := flush(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			last = message

			rec, err := DecodeScore(message.Value)
			if err != nil {
				logger.Warn("skipping undecodable message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, rec)
			if len(batch) >= cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// DecodeScore parses a completed-game message. Records without an owner or
// with an unknown mode are rejected.
func DecodeScore(value []byte) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if rec.ID == "" {
		return domain.ScoreRecord{}, fmt.Errorf("%w: missing id", domain.ErrInvalidRequest)
	}
	if err := rec.Validate(); err != nil {
		return domain.ScoreRecord{}, err
	}
	if rec.Owner() == "" {
		return domain.ScoreRecord{}, fmt.Errorf("%w: missing owner", domain.ErrInvalidRequest)
	}
	rec.Synced = false
	return rec, nil
}
