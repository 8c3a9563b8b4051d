// Package ranking keeps a best-seller board fed by OrderPlaced events.
package ranking

import (
	"context"
	"fmt"
	"strconv"

	kafkax "github.com/ariefcatur/gift-orders/internal/kafka"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const service = "ranking"

type Entry struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

type Service struct {
	Redis redis.Cmdable
	Log   *zap.Logger
}

// HandleOrderPlaced is installed as the consumer handler. Each event counts once
// even when Kafka redelivers it.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkax.Message) error {
	if et := kafkax.HeaderValue(m.Headers, "x-event-type"); et != "" && et != orders.EventOrderPlaced {
		return nil
	}
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// poison message; committing it is better than blocking the partition
		s.log().Warn("ranking_bad_envelope", zap.ByteString("key", m.Key), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.log().Warn("ranking_bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, service, env.EventID)
	first, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	member := strconv.FormatInt(p.ProductID, 10)
	if err := s.Redis.ZIncrBy(ctx, redisx.KeyRankingProducts, float64(p.Quantity), member).Err(); err != nil {
		// release the claim so the redelivery is counted
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	s.log().Debug("ranking_counted",
		zap.Int64("order_id", p.OrderID),
		zap.Int64("product_id", p.ProductID),
		zap.Int("quantity", p.Quantity))
	return nil
}

// Top returns the n best selling products, highest quantity first.
func (s *Service) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	zs, err := s.Redis.ZRevRangeWithScores(ctx, redisx.KeyRankingProducts, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{ProductID: id, Quantity: int64(z.Score)})
	}
	return out, nil
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
