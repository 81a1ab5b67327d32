package audit

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Service appends every order event to order_events exactly once.
type Service struct {
	DB          Execer
	Redis       redis.Cmdable
	Log         logs.Logger
	ServiceName string
}

var tracked = map[string]bool{
	orders.EventOrderCreated:       true,
	orders.EventOrderStatusChanged: true,
}

// Handle is installed as the consumer handler.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && !tracked[t] {
		return nil
	}

	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// a poison message must not stall the partition
		s.logger().Warn("drop undecodable event", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}
	if !tracked[env.EventType] || env.EventID == "" || env.CorrelationID == "" {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			return nil
		}
	}

	payload := env.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO order_events (event_id, order_id, event_type, producer, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.CorrelationID, env.EventType, env.Producer, []byte(payload), env.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", env.EventID, err)
	}

	// marked only after the row is durable; a crash in between is covered by ON CONFLICT
	if s.Redis != nil {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	s.logger().Debug("event recorded", "event_id", env.EventID, "event_type", env.EventType, "order_id", env.CorrelationID)
	return nil
}

func (s *Service) logger() logs.Logger {
	if s.Log == nil {
		return logs.Nop()
	}
	return s.Log
}
