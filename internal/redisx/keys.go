package redisx

import "time"

const (
	// idem:order:create:{buyer_id}:{payment_reference} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// order:{order_id} -> OrderDetails JSON
	KeyOrder = "order:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
