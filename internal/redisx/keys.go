package redisx

import "time"

const (
	// Idempotent order placement: idem:order:create:{provider}:{subject}:{idempotency_key} -> confirmation JSON
	KeyIdemOrderCreate = "idem:order:create:%s:%s:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"

	// Best sellers: sorted set of product_id scored by ordered quantity
	KeyRankingProducts = "ranking:products"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
