package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/changefeed"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/coordinator"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/dynamotest"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/idempotency"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/subscription"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	coord  *coordinator.Coordinator
	mirror *broadcast.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", map[string]string{
		orders.DefaultShopIndex:     "shop_id",
		orders.DefaultCustomerIndex: "customer_id",
	})
	fake.CreateTable("idempotency", "idempotency_key", nil)

	store := orders.NewStore(fake, "orders")
	mirror := broadcast.NewMemoryStore(nil)
	projector := changefeed.NewProjector(store, mirror, nil, nil)
	coord := coordinator.New(store, changefeed.NewLocalPublisher(projector),
		coordinator.WithIdempotency(idempotency.NewStore(fake, "idempotency", time.Hour)),
		coordinator.WithRetryPolicy(coordinator.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond}),
	)
	subs := subscription.NewManager(mirror, store,
		subscription.WithGracePeriod(50*time.Millisecond),
		subscription.WithPollInterval(20*time.Millisecond),
	)
	t.Cleanup(func() {
		subs.Close()
		_ = coord.Close()
	})

	return &testEnv{
		router: NewRouter(HandlerConfig{Coordinator: coord, Subscriptions: subs, Mirror: mirrorPinger{mirror}}),
		coord:  coord,
		mirror: mirror,
	}
}

type mirrorPinger struct{ m *broadcast.MemoryStore }

func (p mirrorPinger) Ping(ctx context.Context) error {
	_, err := p.m.Snapshot(ctx, broadcast.ShopKey("health"))
	return err
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const submitBody = `{
	"customerId": "cust-1",
	"shopId": "shop-1",
	"items": [
		{"itemId": "i1", "name": "Masala Dosa", "unitPrice": 5, "quantity": 2},
		{"itemId": "i2", "name": "Filter Coffee", "unitPrice": 3, "quantity": 1}
	],
	"totalAmount": 13,
	"paymentMethod": "upi",
	"pickupOption": "counter"
}`

func (e *testEnv) submit(t *testing.T, headers map[string]string) (*httptest.ResponseRecorder, orders.Order) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(submitBody))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var o orders.Order
	if w.Code < 300 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	}
	return w, o
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	kind, _ := body["error"].(string)
	return kind
}

func TestPostOrder(t *testing.T) {
	env := newTestEnv(t)

	w, o := env.submit(t, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/orders/"+o.ID, w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, orders.StatusNew, o.Status)
	assert.Equal(t, 13.0, o.TotalAmount)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Contains(t, raw, "statusTimestamps")
	assert.Contains(t, raw, "shopId")
}

func TestPostOrder_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{"Idempotency-Key": "checkout-42"}

	w1, first := env.submit(t, headers)
	require.Equal(t, http.StatusCreated, w1.Code)
	w2, second := env.submit(t, headers)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, first.ID, second.ID)
}

func TestPostOrder_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/orders", map[string]interface{}{
		"customerId":  "cust-1",
		"shopId":      "shop-1",
		"items":       []interface{}{},
		"totalAmount": 0,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorKind(t, w))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusChange(t *testing.T) {
	env := newTestEnv(t)
	_, o := env.submit(t, nil)
	path := "/orders/" + o.ID + "/status"

	w := env.do(t, http.MethodPost, path, map[string]string{"status": "accepted"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "completed"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", errorKind(t, w))

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "preparing", "expectedStatus": "new"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "stale_transition", errorKind(t, w))

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "cancelled", "actor": "customer", "customerId": "cust-2"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "cancelled", "actor": "customer"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "shipped"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, path, map[string]string{"status": "cancelled", "actor": "customer", "customerId": "cust-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/orders/"+o.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, orders.StatusCancelled, got.Status)

	w = env.do(t, http.MethodPost, "/orders/missing/status", map[string]string{"status": "accepted"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	_, a := env.submit(t, nil)
	_, b := env.submit(t, nil)
	w := env.do(t, http.MethodPost, "/orders/"+a.ID+"/status", map[string]string{"status": "accepted"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Orders []orders.Order `json:"orders"`
	}

	w = env.do(t, http.MethodGet, "/shops/shop-1/orders", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Orders, 2)
	assert.Equal(t, b.ID, body.Orders[0].ID)

	w = env.do(t, http.MethodGet, "/shops/shop-1/orders?status=accepted,pending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Orders = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Orders, 2)

	w = env.do(t, http.MethodGet, "/shops/shop-1/orders?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/customers/cust-1/orders", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Orders = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Orders, 2)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","mirror":"ok"}`, w.Body.String())

	env.mirror.SetAvailable(false)
	w = env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","mirror":"unavailable"}`, w.Body.String())
}

func TestShopStream(t *testing.T) {
	env := newTestEnv(t)
	_, o := env.submit(t, nil)
	env.coord.Wait()

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/shops/shop-1/orders/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
		}
		if strings.HasPrefix(line, "data:") && event == "orders" {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	require.NotEmpty(t, data)

	var payload struct {
		Mode   string         `json:"mode"`
		Orders []orders.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	require.Len(t, payload.Orders, 1)
	assert.Equal(t, o.ID, payload.Orders[0].ID)
}
