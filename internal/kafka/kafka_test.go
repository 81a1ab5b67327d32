package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	failOn string
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if m.Topic == w.failOn {
			return errors.New("broker unavailable")
		}
		w.msgs = append(w.msgs, m)
	}
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer(t *testing.T) {
	t.Run("Flushes On Close", func(t *testing.T) {
		w := &fakeWriter{}
		p := NewProducer(w, 8, logs.Nop())
		p.Start()

		require.NoError(t, p.Publish(context.Background(), "order.created", []byte("o-1"), []byte(`{}`), EventHeaders("OrderCreated", 1)...))
		require.NoError(t, p.Publish(context.Background(), "order.status.changed", []byte("o-1"), []byte(`{}`)))
		p.Close()
		p.WaitClosed()

		require.Len(t, w.msgs, 2)
		assert.Equal(t, "order.created", w.msgs[0].Topic)
		assert.Equal(t, "OrderCreated", HeaderValue(w.msgs[0], HeaderEventType))
		assert.Equal(t, "1", HeaderValue(w.msgs[0], HeaderEventVersion))
		assert.Equal(t, "order.status.changed", w.msgs[1].Topic)
		assert.True(t, w.closed)
	})

	t.Run("Write Failure Does Not Stop Loop", func(t *testing.T) {
		w := &fakeWriter{failOn: "bad"}
		p := NewProducer(w, 8, logs.Nop())
		p.Start()

		require.NoError(t, p.Publish(context.Background(), "bad", nil, []byte(`{}`)))
		require.NoError(t, p.Publish(context.Background(), "good", nil, []byte(`{}`)))
		p.Close()
		p.WaitClosed()

		require.Len(t, w.msgs, 1)
		assert.Equal(t, "good", w.msgs[0].Topic)
	})

	t.Run("Publish After Close", func(t *testing.T) {
		p := NewProducer(&fakeWriter{}, 1, logs.Nop())
		p.Start()
		p.Close()
		p.Close()
		p.WaitClosed()

		err := p.Publish(context.Background(), "order.created", nil, nil)
		assert.ErrorIs(t, err, ErrProducerClosed)
	})

	t.Run("Full Buffer Honours Context", func(t *testing.T) {
		// not started, so nothing drains the inbox
		p := NewProducer(&fakeWriter{}, 1, logs.Nop())
		require.NoError(t, p.Publish(context.Background(), "t", nil, nil))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := p.Publish(ctx, "t", nil, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		p.Start()
		p.Close()
		p.WaitClosed()
	})
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return kafka.Message{}, io.EOF
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type handlerLog struct {
	mu    sync.Mutex
	calls []int64
}

func (l *handlerLog) record(offset int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, offset)
	n := 0
	for _, o := range l.calls {
		if o == offset {
			n++
		}
	}
	return n
}

func (l *handlerLog) snapshot() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.calls...)
}

func TestConsumer(t *testing.T) {
	t.Run("Retries Failed Message Before Moving On", func(t *testing.T) {
		r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
		c := NewConsumer(r, 2, logs.Nop())
		c.backoff = time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := &handlerLog{}
		done := make(chan error, 1)
		go func() {
			done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
				if calls.record(m.Offset) <= 2 && m.Offset == 2 {
					return errors.New("store unavailable")
				}
				return nil
			})
		}()

		require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		assert.Equal(t, []int64{1, 2, 3}, r.commits())
		assert.Equal(t, []int64{1, 2, 2, 2, 3}, calls.snapshot())
		assert.True(t, r.closed)
	})

	t.Run("Keeps Partition Order Across Workers", func(t *testing.T) {
		var queue []kafka.Message
		for off := int64(1); off <= 4; off++ {
			queue = append(queue, kafka.Message{Partition: 0, Offset: off}, kafka.Message{Partition: 1, Offset: off})
		}
		r := &fakeReader{queue: queue}
		c := NewConsumer(r, 2, logs.Nop())
		c.backoff = time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var (
			mu   sync.Mutex
			seen = map[int][]int64{}
		)
		done := make(chan error, 1)
		go func() {
			done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
				mu.Lock()
				defer mu.Unlock()
				seen[m.Partition] = append(seen[m.Partition], m.Offset)
				if m.Partition == 0 && m.Offset == 2 && len(seen[0]) == 2 {
					return errors.New("transient")
				}
				return nil
			})
		}()

		require.Eventually(t, func() bool { return len(r.commits()) == 8 }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int64{1, 2, 2, 3, 4}, seen[0])
		assert.Equal(t, []int64{1, 2, 3, 4}, seen[1])
	})

	t.Run("Shutdown Leaves Failing Message Uncommitted", func(t *testing.T) {
		r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
		c := NewConsumer(r, 1, logs.Nop())
		c.backoff = time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := &handlerLog{}
		done := make(chan error, 1)
		go func() {
			done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
				calls.record(m.Offset)
				if m.Offset == 2 {
					return errors.New("store unavailable")
				}
				return nil
			})
		}()

		require.Eventually(t, func() bool { return len(calls.snapshot()) >= 3 }, time.Second, time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		assert.Equal(t, []int64{1}, r.commits())
		assert.NotContains(t, calls.snapshot(), int64(3))
	})

	t.Run("Reader Error Is Returned", func(t *testing.T) {
		r := &fakeReader{closed: true}
		c := NewConsumer(r, 1, logs.Nop())

		err := c.Start(context.Background(), func(context.Context, kafka.Message) error { return nil })

		assert.ErrorIs(t, err, io.EOF)
	})
}
