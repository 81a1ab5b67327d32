package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          Reader
	workers    int
	log        logs.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewReader(brokers []string, group string, topics ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commit after each handled message
	})
}

func NewConsumer(r Reader, workers int, log logs.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logs.Nop()
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second}
}

// Start dispatches messages to the worker pool until ctx ends or the reader
// fails. It returns after every worker has exited.
//
// A partition always maps to the same worker, which handles its messages in
// offset order and retries a failing one until it succeeds. Offsets are
// therefore committed in order and never past an unhandled message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.process(ctx, id, m, h) {
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error("commit offset", "worker", id, "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
				}
			}
		}(i, lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// process runs h until it succeeds. It reports false when ctx ended first;
// the message stays uncommitted and is redelivered after a restart.
func (c *Consumer) process(ctx context.Context, id int, m kafka.Message, h Handler) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.log.Error("handle message", "worker", id, "topic", m.Topic, "partition", m.Partition,
			"offset", m.Offset, "attempt", attempt, "error", err)
		if !c.sleep(ctx, wait) {
			return false
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
