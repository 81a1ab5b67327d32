package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/segmentio/kafka-go"
)

var ErrProducerClosed = errors.New("producer closed")

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages and writes them from a single goroutine so
// request handlers never wait on the broker.
type Producer struct {
	w            Writer
	log          logs.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	inbox   chan kafka.Message
	closeCh chan struct{}
}

// NewWriter builds a writer without a fixed topic; every message names its own.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewProducer(w Writer, buf int, log logs.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	if log == nil {
		log = logs.Nop()
	}
	return &Producer{
		w:            w,
		log:          log,
		writeTimeout: 10 * time.Second,
		inbox:        make(chan kafka.Message, buf),
		closeCh:      make(chan struct{}),
	}
}

func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("kafka write failed", "topic", m.Topic, "key", string(m.Key), "error", err)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", "error", err)
		}
	}()
}

// Publish enqueues a message; it blocks only while the buffer is full.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages; the loop flushes what is buffered and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the buffered messages are flushed.
func (p *Producer) WaitClosed() { <-p.closeCh }
