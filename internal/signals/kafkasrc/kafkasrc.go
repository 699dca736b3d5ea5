// Package kafkasrc consumes candidate signals published by ML producers on a
// Kafka topic and feeds them to the decision engine.
package kafkasrc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/segmentio/kafka-go"

	"github.com/Mikeedozie/PAMS/internal/alerting"
)

const (
	defaultMaxTries        = 5
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	fetchErrorPause        = time.Second
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ingester accepts candidates. *alerting.Engine satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, c *alerting.Candidate) (*alerting.IngestResult, error)
}

// Config describes the consumer group to join.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader builds a consumer-group reader for cfg. Offsets are committed
// explicitly after each message is handled.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
}

// Options tunes retry of transient ingest failures. Zero values take defaults.
type Options struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Consumer reads candidate messages and ingests them one at a time.
type Consumer struct {
	reader   Reader
	ingester Ingester
	logger   log.Logger
	opts     Options
}

// New creates a consumer over reader.
func New(reader Reader, ingester Ingester, logger log.Logger, opts Options) *Consumer {
	if reader == nil || ingester == nil {
		panic(xerrors.New("kafkasrc: reader and ingester are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = defaultMaxTries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	return &Consumer{reader: reader, ingester: ingester, logger: logger, opts: opts}
}

// Run consumes until ctx is done, then closes the reader. A fetched message
// is committed once handled, whether it was ingested, rejected as malformed,
// or dropped after exhausting retries. A message interrupted by shutdown is
// left uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn(context.WithoutCancel(ctx), "kafka reader close failed", "error", err.Error())
		}
	}()

	c.logger.Info(ctx, "kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(context.WithoutCancel(ctx), "kafka consumer stopped")
				return nil
			}
			c.logger.Error(ctx, err, "kafka fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		if !c.handle(ctx, msg) {
			continue
		}

		// detached so a shutdown right after handling still records the offset
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.logger.Error(ctx, err, "kafka commit failed", "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// handle reports whether msg is finished with and may be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	L := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var cand alerting.Candidate
	if err := json.Unmarshal(msg.Value, &cand); err != nil {
		L.Warn(ctx, "dropping undecodable candidate", "error", err.Error())
		return true
	}
	if cand.Source == "" {
		cand.Source = "kafka:" + msg.Topic
	}

	res, err := backoff.Retry(ctx, func() (*alerting.IngestResult, error) {
		res, err := c.ingester.Ingest(ctx, &cand)
		if err == nil {
			return res, nil
		}
		if retryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.opts.MaxTries))
	if err != nil {
		if _, ok := alerting.IsValidation(err); ok {
			L.Warn(ctx, "dropping invalid candidate", "error", err.Error())
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		L.Error(ctx, fmt.Errorf("ingest candidate: %w", err), "dropping candidate after retries",
			"product_id", cand.ProductID,
			"max_tries", c.opts.MaxTries,
		)
		return true
	}
	L.Info(ctx, "candidate consumed", "alert_id", res.AlertID, "decision", res.Status)
	return true
}

func (c *Consumer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	return b
}

// retryable reports whether an ingest failure may succeed on a later attempt.
func retryable(err error) bool {
	var se *alerting.StorageError
	return errors.Is(err, alerting.ErrConflict) || errors.As(err, &se)
}
