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

	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/service"
)

// ScoreHandler processes score submissions
type ScoreHandler interface {
	SubmitScoreBatch(ctx context.Context, batch domain.BatchScoreSubmission) []service.BatchItemResult
}

// Recorder counts consumed messages by result
type Recorder interface {
	MessagesConsumed(result string, n int)
}

// Message results reported to the recorder
const (
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

var errBatchFailed = errors.New("batch entries still failing after retries")

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	recorder      Recorder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan struct{}
	readyOnce     sync.Once
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, recorder Recorder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return newConsumer(cfg, handler, recorder, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler ScoreHandler, recorder Recorder, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		recorder:      recorder,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan struct{}),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.SubmissionsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{consumer: c}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.SubmissionsTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	// Wait until the first session is set up
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
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

// markReady signals Start once the first session is set up
func (c *Consumer) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// processBatch submits a batch and retries the entries that failed for
// internal reasons. It reports false when some entries still fail.
func (c *Consumer) processBatch(ctx context.Context, batch []domain.ScoreSubmission) bool {
	pending := batch
	for attempt := 1; len(pending) > 0; attempt++ {
		pending = c.submit(pending)
		if len(pending) == 0 {
			break
		}
		if attempt > c.config.RetryAttempts {
			c.record(ResultFailed, len(pending))
			c.logger.Error("giving up on score submissions", "failed", len(pending), "attempts", attempt)
			return false
		}
		c.logger.Warn("retrying score submissions", "failed", len(pending), "attempt", attempt)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.config.RetryDelay):
		}
	}
	return true
}

// submit sends one batch and returns the entries that failed
func (c *Consumer) submit(batch []domain.ScoreSubmission) []domain.ScoreSubmission {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := c.handler.SubmitScoreBatch(ctx, domain.BatchScoreSubmission{Scores: batch})
	var failed []domain.ScoreSubmission
	accepted, rejected := 0, 0
	for _, r := range results {
		switch {
		case r.Failed:
			failed = append(failed, batch[r.Index])
		case r.Result != nil && r.Result.Accepted:
			accepted++
		default:
			rejected++
		}
	}
	c.record(ResultAccepted, accepted)
	c.record(ResultRejected, rejected)
	c.logger.Debug("processed batch", "batch_size", len(batch), "accepted", accepted, "failed", len(failed))
	return failed
}

func (c *Consumer) record(result string, n int) {
	if c.recorder != nil && n > 0 {
		c.recorder.MessagesConsumed(result, n)
	}
}

// decodeSubmission parses and checks one message value
func decodeSubmission(value []byte) (domain.ScoreSubmission, error) {
	var submission domain.ScoreSubmission
	if err := json.Unmarshal(value, &submission); err != nil {
		return submission, err
	}
	if err := submission.Check(); err != nil {
		return submission, err
	}
	return submission, nil
}

// sessionKey identifies a message so a redelivered submission without its
// own session id is recognized as a duplicate.
func sessionKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("kafka:%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.markReady()
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.ScoreSubmission, 0, cfg.BatchSize)
	var pending *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	// Offsets are committed only after the batch holding them is processed.
	// A batch that keeps failing ends the session unmarked so its messages
	// are delivered again.
	flush := func() error {
		ok := h.consumer.processBatch(session.Context(), batch)
		batch = batch[:0]
		if !ok {
			pending = nil
			return errBatchFailed
		}
		if pending != nil {
			session.MarkMessage(pending, "")
			pending = nil
		}
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
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
			pending = message

			submission, err := decodeSubmission(message.Value)
			if err != nil {
				h.consumer.logger.Warn("invalid score submission",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				h.consumer.record(ResultMalformed, 1)
				continue
			}
			if submission.SessionID == "" {
				submission.SessionID = sessionKey(message)
			}

			batch = append(batch, submission)
			if len(batch) >= cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
