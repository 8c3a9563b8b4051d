package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/gift-orders/internal/auth"
	"github.com/ariefcatur/gift-orders/internal/kakao"
	"github.com/ariefcatur/gift-orders/internal/memory"
	"github.com/ariefcatur/gift-orders/internal/metrics"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/users"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kakao.OrderMessage
	tok  []string
	err  error
}

func (n *fakeNotifier) SendOrderMessage(_ context.Context, token string, m kakao.OrderMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, m)
	n.tok = append(n.tok, token)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

type fixture struct {
	svc      *orders.Service
	store    *memory.Store
	users    *memory.Users
	tokens   *auth.TokenService
	notifier *fakeNotifier
	placed   *fakePublisher
	failed   *fakePublisher
	logs     *observer.ObservedLogs
	product  int64
}

var orderedAt = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		store:    memory.NewStore(),
		users:    memory.NewUsers(),
		tokens:   auth.NewTokenService("test-secret", time.Hour),
		notifier: &fakeNotifier{},
		placed:   &fakePublisher{},
		failed:   &fakePublisher{},
		logs:     logs,
	}
	f.product = f.store.AddProduct("Americano")
	f.svc = &orders.Service{
		Tokens:             f.tokens,
		Users:              &users.Service{Store: f.users},
		Store:              f.store,
		Notifier:           f.notifier,
		PlacedEvents:       f.placed,
		NotifyFailedEvents: f.failed,
		Log:                zap.New(core),
		ServiceName:        "gift-api",
		MaxAttempts:        3,
		RetryBackOff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Now:                func() time.Time { return orderedAt },
	}
	return f
}

func (f *fixture) localUser(t *testing.T, name string) (users.User, string) {
	t.Helper()
	u, err := f.users.Create(context.Background(), users.User{Name: name})
	require.NoError(t, err)
	tok, err := f.tokens.Issue(auth.Claims{SubjectID: strconv.FormatInt(u.ID, 10), Provider: auth.ProviderLocal})
	require.NoError(t, err)
	return u, "Bearer " + tok
}

func (f *fixture) kakaoUser(t *testing.T, kakaoID int64) (users.User, string) {
	t.Helper()
	u, err := f.users.Create(context.Background(), users.User{Name: "kakao", KakaoID: &kakaoID})
	require.NoError(t, err)
	tok, err := f.tokens.Issue(auth.Claims{SubjectID: strconv.FormatInt(kakaoID, 10), Provider: auth.ProviderKakao})
	require.NoError(t, err)
	return u, tok
}

func TestCreateOrderDecrementsStockAndRemovesWish(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 5)
	u, tok := f.kakaoUser(t, 3001)
	_, err := f.store.Stores().Wishlist.Add(context.Background(), u.ID, f.product)
	require.NoError(t, err)

	conf, err := f.svc.CreateOrder(context.Background(), tok, "kakao-access", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 3, Message: "Happy birthday",
	})

	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, opt.ID, conf.OptionID)
	assert.Equal(t, 3, conf.Quantity)
	assert.Equal(t, "Happy birthday", conf.Message)
	assert.Equal(t, orderedAt, conf.OrderedAt)

	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 2, after.Quantity)
	assert.Equal(t, opt.Version+1, after.Version)

	wishes, err := f.store.Stores().Wishlist.List(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, wishes)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "kakao-access", f.notifier.tok[0])
	assert.Equal(t, conf.OrderID, f.notifier.sent[0].OrderID)

	require.Len(t, f.placed.msgs, 1)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(f.placed.msgs[0].Value, &env))
	assert.Equal(t, orders.EventOrderPlaced, env.EventType)
	var p orders.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, f.product, p.ProductID)
	assert.Equal(t, 3, p.Quantity)
	assert.Empty(t, f.failed.msgs)

	assert.Equal(t, 1, f.logs.FilterMessage("order_create_done").Len())
}

func TestCreateOrderWithoutWishStillSucceeds(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "HOT", 1)
	_, tok := f.localUser(t, "buyer")

	conf, err := f.svc.CreateOrder(context.Background(), tok, "kakao-access", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 1,
	})

	require.NoError(t, err)
	assert.NotZero(t, conf.OrderID)
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 0, after.Quantity)
}

func TestCreateOrderInsufficientQuantityChangesNothing(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 2)
	u, tok := f.localUser(t, "buyer")
	_, err := f.store.Stores().Wishlist.Add(context.Background(), u.ID, f.product)
	require.NoError(t, err)

	conf, err := f.svc.CreateOrder(context.Background(), tok, "kakao-access", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 3,
	})

	assert.Nil(t, conf)
	assert.ErrorIs(t, err, orders.ErrInsufficientQuantity)
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, opt, after)
	assert.Empty(t, f.store.Orders())
	wishes, _ := f.store.Stores().Wishlist.List(context.Background(), u.ID)
	assert.Len(t, wishes, 1)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.placed.msgs)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 5)
	_, tok := f.localUser(t, "buyer")
	long := make([]rune, 256)
	for i := range long {
		long[i] = '가'
	}

	cases := []struct {
		name  string
		req   orders.CreateOrderRequest
		token string
	}{
		{"zero quantity", orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: 0}, "kakao"},
		{"negative quantity", orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: -1}, "kakao"},
		{"no option", orders.CreateOrderRequest{Quantity: 1}, "kakao"},
		{"long message", orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: 1, Message: string(long)}, "kakao"},
		{"no notification token", orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: 1}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), tok, tc.token, tc.req)
			assert.ErrorIs(t, err, orders.ErrInvalidRequest)
		})
	}
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 5, after.Quantity)
}

func TestCreateOrderMessageOfExactlyMaxLength(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 5)
	_, tok := f.localUser(t, "buyer")
	msg := make([]rune, 255)
	for i := range msg {
		msg[i] = '가'
	}

	_, err := f.svc.CreateOrder(context.Background(), tok, "kakao", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 1, Message: string(msg),
	})

	require.NoError(t, err)
}

func TestCreateOrderAuthenticationAndLookupFailures(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 5)
	req := orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: 1}

	_, err := f.svc.CreateOrder(context.Background(), "Bearer garbage", "kakao", req)
	assert.ErrorIs(t, err, orders.ErrAuthentication)

	ghost, err := f.tokens.Issue(auth.Claims{SubjectID: "999", Provider: auth.ProviderLocal})
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(context.Background(), ghost, "kakao", req)
	assert.ErrorIs(t, err, orders.ErrUserNotFound)

	_, tok := f.localUser(t, "buyer")
	_, err = f.svc.CreateOrder(context.Background(), tok, "kakao", orders.CreateOrderRequest{ProductOptionID: 12345, Quantity: 1})
	assert.ErrorIs(t, err, orders.ErrProductOptionNotFound)

	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 5, after.Quantity)
	assert.Empty(t, f.store.Orders())
}

func TestCreateOrderNotificationFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"msg":"internal"}`))
	}))
	t.Cleanup(srv.Close)
	f.svc.Notifier = kakao.NewClient(kakao.Config{
		MessageURL:      srv.URL + "/v2/api/talk/memo/default/send",
		ConnectTimeout:  time.Second,
		ResponseTimeout: time.Second,
	}, zap.NewNop())

	opt := f.store.AddOption(f.product, "ICE", 5)
	_, tok := f.localUser(t, "buyer")

	conf, err := f.svc.CreateOrder(context.Background(), tok, "kakao-access", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 2,
	})

	require.ErrorIs(t, err, orders.ErrNotificationFailed)
	assert.Equal(t, kakao.CauseRemoteRejected, kakao.CauseOf(err))
	require.NotNil(t, conf)
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 3, after.Quantity)
	require.Len(t, f.store.Orders(), 1)
	assert.Equal(t, conf.OrderID, f.store.Orders()[0].ID)

	require.Len(t, f.failed.msgs, 1)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(f.failed.msgs[0].Value, &env))
	var p orders.NotificationFailedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, conf.OrderID, p.OrderID)
	assert.Equal(t, "remote_rejected", p.Cause)
}

func TestCreateOrderRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 10)
	_, tok := f.localUser(t, "buyer")

	calls := 0
	f.store.BeforeCommit(func() {
		calls++
		if calls == 1 {
			cur, _ := f.store.Option(opt.ID)
			_, err := f.store.Stores().Inventory.Decrement(context.Background(), cur, 1)
			require.NoError(t, err)
		}
	})

	_, err := f.svc.CreateOrder(context.Background(), tok, "kakao", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 6, after.Quantity)
	assert.Len(t, f.store.Orders(), 1)
}

func TestCreateOrderGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 10)
	_, tok := f.localUser(t, "buyer")

	calls := 0
	f.store.BeforeCommit(func() {
		calls++
		cur, _ := f.store.Option(opt.ID)
		_, err := f.store.Stores().Inventory.Decrement(context.Background(), cur, 0)
		require.NoError(t, err)
	})

	conf, err := f.svc.CreateOrder(context.Background(), tok, "kakao", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 1,
	})

	assert.Nil(t, conf)
	assert.ErrorIs(t, err, orders.ErrConcurrentModification)
	assert.Equal(t, 3, calls)
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 10, after.Quantity)
	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.notifier.sent)
}

func TestCreateOrderConcurrentBuyersNeverOversell(t *testing.T) {
	const stock, buyers = 5, 20
	f := newFixture(t)
	f.svc.MaxAttempts = stock + 1
	opt := f.store.AddOption(f.product, "ICE", stock)
	_, tok := f.localUser(t, "buyer")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), tok, "kakao", orders.CreateOrderRequest{
				ProductOptionID: opt.ID, Quantity: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, successes)
	for _, err := range failures {
		assert.True(t, errors.Is(err, orders.ErrInsufficientQuantity), "unexpected error: %v", err)
	}
	after, _ := f.store.Option(opt.ID)
	assert.Equal(t, 0, after.Quantity)
	assert.Len(t, f.store.Orders(), stock)
}

func TestGetOrderOnlyForOwner(t *testing.T) {
	f := newFixture(t)
	opt := f.store.AddOption(f.product, "ICE", 5)
	_, owner := f.localUser(t, "owner")
	_, other := f.localUser(t, "other")

	conf, err := f.svc.CreateOrder(context.Background(), owner, "kakao", orders.CreateOrderRequest{
		ProductOptionID: opt.ID, Quantity: 1, Message: "hi",
	})
	require.NoError(t, err)

	o, err := f.svc.GetOrder(context.Background(), owner, conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "hi", o.Message)
	assert.Equal(t, f.product, o.ProductID)

	_, err = f.svc.GetOrder(context.Background(), other, conf.OrderID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.svc.GetOrder(context.Background(), owner, 424242)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestWishes(t *testing.T) {
	f := newFixture(t)
	_, tok := f.localUser(t, "buyer")

	first, err := f.svc.AddWish(context.Background(), tok, f.product)
	require.NoError(t, err)
	again, err := f.svc.AddWish(context.Background(), tok, f.product)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	ws, err := f.svc.ListWishes(context.Background(), tok)
	require.NoError(t, err)
	assert.Len(t, ws, 1)

	_, err = f.svc.AddWish(context.Background(), tok, 98765)
	assert.ErrorIs(t, err, orders.ErrProductNotFound)

	_, err = f.svc.AddWish(context.Background(), tok, 0)
	assert.ErrorIs(t, err, orders.ErrInvalidRequest)

	_, err = f.svc.ListWishes(context.Background(), "")
	assert.ErrorIs(t, err, orders.ErrAuthentication)
}

func TestCreateOrderRecordsMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	f.svc.Metrics = metrics.NewOrders(reg)
	opt := f.store.AddOption(f.product, "ICE", 1)
	_, tok := f.localUser(t, "buyer")
	req := orders.CreateOrderRequest{ProductOptionID: opt.ID, Quantity: 1}

	_, err := f.svc.CreateOrder(context.Background(), tok, "kakao", req)
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(context.Background(), tok, "kakao", req)
	require.ErrorIs(t, err, orders.ErrInsufficientQuantity)

	expected := `
# HELP gift_orders_total Order placement calls by outcome.
# TYPE gift_orders_total counter
gift_orders_total{outcome="insufficient_quantity"} 1
gift_orders_total{outcome="success"} 1
# HELP gift_order_attempts_total Transactional order attempts by result.
# TYPE gift_order_attempts_total counter
gift_order_attempts_total{result="aborted"} 1
gift_order_attempts_total{result="committed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"gift_orders_total", "gift_order_attempts_total"))
}
