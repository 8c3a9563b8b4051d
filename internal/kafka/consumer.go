package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type (
	Message = kafka.Message
	Header  = kafka.Header
)

// Handler returns nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const DefaultHandleTries = 5

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer hands each partition to one worker so offsets are committed in order.
// A failing message is retried in place; when the retries run out Start returns
// and the uncommitted offset is fetched again by the next consumer of the group.
type Consumer struct {
	r       reader
	workers int
	log     *zap.Logger

	HandleTries uint
	BackOff     func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if log == nil {
		log = zap.NewNop()
	}
	return newConsumer(r, workers, log.With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, HandleTries: DefaultHandleTries}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := c.process(ctx, h, m); err != nil {
					cancel(err)
					return
				}
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				c.log.Error("worker_error", zap.Error(cause))
				return cause
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-ctx.Done():
		}
	}
}

// process handles m until it succeeds or the tries run out, then commits it.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) error {
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		if err := h(ctx, m); err != nil {
			c.log.Warn("consume_failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Int("try", tries),
				zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(c.HandleTries))
	if err != nil {
		return fmt.Errorf("partition %d offset %d: %w", m.Partition, m.Offset, err)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("commit partition %d offset %d: %w", m.Partition, m.Offset, err)
	}
	return nil
}

func (c *Consumer) backOff() backoff.BackOff {
	if c.BackOff != nil {
		return c.BackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}
