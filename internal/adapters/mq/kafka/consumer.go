// Package kafka feeds observations published on a Kafka topic into the service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/pkg/logger"
	"github.com/okian/fieldmemo/pkg/metrics"
)

const defaultRetryDelay = 500 * time.Millisecond

// Message outcomes recorded in metrics.
const (
	outcomeSubmitted = "submitted"
	outcomeInvalid   = "invalid"
	outcomeRetried   = "retried"
)

// SubmitFunc hands one observation to the service. Errors matching
// model.ErrInvalidObservation are permanent; any other error is retried.
type SubmitFunc func(ctx context.Context, o model.Observation) error

// messageReader is the subset of *kafkago.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config selects the topic to consume.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads observation messages and submits them, committing each
// message only after it was handled.
type Consumer struct {
	reader     messageReader
	submit     SubmitFunc
	clock      clockwork.Clock
	logger     logger.Logger
	retryDelay time.Duration
}

// Option applies a configuration option to the Consumer.
type Option func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for retry backoff.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Consumer) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRetryDelay sets the pause before a failed submission is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// NewConsumer creates a consumer group reader for cfg.
func NewConsumer(cfg Config, submit SubmitFunc, opts ...Option) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, submit, opts...)
}

func newConsumer(r messageReader, submit SubmitFunc, opts ...Option) *Consumer {
	c := &Consumer{
		reader:     r,
		submit:     submit,
		clock:      clockwork.NewRealClock(),
		logger:     logger.Nop(),
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) error {
	o, err := decodeMessage(msg, c.clock.Now())
	if err != nil {
		metrics.RecordKafkaMessage(outcomeInvalid)
		c.logger.Warn(ctx, "dropping invalid observation message",
			logger.Int64("offset", msg.Offset),
			logger.Int("partition", msg.Partition),
			logger.Error(err))
		return c.commit(ctx, msg)
	}

	for {
		err := c.submit(ctx, o)
		if err == nil {
			metrics.RecordKafkaMessage(outcomeSubmitted)
			return c.commit(ctx, msg)
		}
		if errors.Is(err, model.ErrInvalidObservation) {
			metrics.RecordKafkaMessage(outcomeInvalid)
			c.logger.Warn(ctx, "observation rejected", logger.Issuer(o.IssuerKey), logger.Error(err))
			return c.commit(ctx, msg)
		}

		metrics.RecordKafkaMessage(outcomeRetried)
		c.logger.Debug(ctx, "submit failed, retrying",
			logger.Issuer(o.IssuerKey), logger.String("document_id", o.DocumentID), logger.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.retryDelay):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafkago.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// decodeMessage parses a message value shaped like the HTTP observation body.
// The message key stands in for a missing document id.
func decodeMessage(msg kafkago.Message, now time.Time) (model.Observation, error) {
	var req model.ObservationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return model.Observation{}, fmt.Errorf("%w: %w", model.ErrInvalidObservation, err)
	}
	if req.DocumentID == "" {
		req.DocumentID = string(msg.Key)
	}
	received := msg.Time
	if received.IsZero() {
		received = now
	}
	return req.Observation(received)
}
