package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/dedup"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/jwtauth"
	"github.com/xenking/kart-orders/internal/payment"
	"github.com/xenking/kart-orders/internal/storage/memory"
)

var webhookSecret = []byte("whsec")

type testAPI struct {
	router http.Handler
	issuer *jwtauth.Issuer
	store  *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, p := range []product.Product{
		{ID: "A", Name: "Apple", Price: decimal.RequireFromString("10.00"), Stock: 5, Status: product.StatusActive},
		{ID: "B", Name: "Banana", Price: decimal.RequireFromString("5.00"), Stock: 3, Status: product.StatusActive},
		{ID: "C", Name: "Cherry", Price: decimal.RequireFromString("1.00"), Stock: 4, Status: product.StatusActive},
	} {
		require.NoError(t, store.Products().Upsert(ctx, p))
	}

	orders, err := order.NewService(store.Orders(), nil)
	require.NoError(t, err)
	issuer := jwtauth.NewIssuer([]byte("jwt-secret"), time.Hour)

	h := NewHandler(
		Config{
			WebhookSecret:       webhookSecret,
			DefaultShippingCost: decimal.RequireFromString("5.00"),
		},
		store.Products(),
		store.Users(),
		cart.NewService(store.Products(), store.Carts()),
		orders,
		payment.NewProcessor(orders, dedup.NewMemory(0)),
		issuer,
	)
	return &testAPI{router: h.Router(), issuer: issuer, store: store}
}

func (a *testAPI) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := a.issuer.Sign(auth.Actor{UserID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) webhook(t *testing.T, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var l []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l), rec.Body.String())
	return l
}

func requireErrorBody(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) map[string]any {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, float64(status), body["code"])
	assert.Equal(t, kind, body["error"])
	assert.NotEmpty(t, body["message"])
	return body
}

func (a *testAPI) placeDirect(t *testing.T, token, productID string, qty int) string {
	t.Helper()
	body := `{"shippingAddress":"1 Main St","directBuy":{"productId":"` + productID + `","quantity":` +
		decimal.NewFromInt(int64(qty)).String() + `}}`
	rec := a.do(t, http.MethodPost, "/api/orders", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeMap(t, rec)["id"].(string)
}

func TestProducts_Public(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 3)

	rec = api.do(t, http.MethodGet, "/api/products/A", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeMap(t, rec)
	assert.Equal(t, "10.00", p["price"])
	assert.Equal(t, float64(5), p["stock"])

	requireErrorBody(t, api.do(t, http.MethodGet, "/api/products/nope", "", ""), http.StatusNotFound, kindNotFound)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	requireErrorBody(t, api.do(t, http.MethodGet, "/api/cart", "", ""), http.StatusUnauthorized, kindUnauthorized)
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/orders", "garbage", "{}"), http.StatusUnauthorized, kindUnauthorized)
}

func TestCartCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"B","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeMap(t, rec)
	assert.Equal(t, "25.00", c["subtotal"])
	assert.Len(t, c["items"], 2)

	rec = api.do(t, http.MethodPut, "/api/me/address", u1, `{"address":"  42 Elm St "}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/orders", u1, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeMap(t, rec)
	assert.Equal(t, "30.00", o["totalAmount"])
	assert.Equal(t, "5.00", o["shippingCost"])
	assert.Equal(t, "42 Elm St", o["shippingAddress"])
	assert.Equal(t, "PENDING", o["status"])
	assert.Equal(t, "PENDING", o["paymentStatus"])
	assert.Len(t, o["items"], 2)
	orderID := o["id"].(string)

	rec = api.do(t, http.MethodGet, "/api/cart", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeMap(t, rec)["items"])

	rec = api.do(t, http.MethodGet, "/api/products/A", "", "")
	assert.Equal(t, float64(3), decodeMap(t, rec)["stock"])

	rec = api.do(t, http.MethodGet, "/api/orders/"+orderID, u1, "")
	require.Equal(t, http.StatusOK, rec.Code)

	u2 := api.token(t, "u2", auth.RoleCustomer)
	requireErrorBody(t, api.do(t, http.MethodGet, "/api/orders/"+orderID, u2, ""), http.StatusForbidden, kindUnauthorized)

	admin := api.token(t, "ops", auth.RoleAdmin)
	rec = api.do(t, http.MethodGet, "/api/orders/"+orderID, admin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 1)

	rec = api.do(t, http.MethodGet, "/api/orders/history", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeList(t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, orderID, history[0]["orderId"])
}

func TestCart_Errors(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":0}`),
		http.StatusBadRequest, kindInvalidRequest)
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"quantity":1}`),
		http.StatusBadRequest, kindInvalidRequest)
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":`),
		http.StatusBadRequest, kindInvalidRequest)
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"Z","quantity":1}`),
		http.StatusNotFound, kindNotFound)
	requireErrorBody(t, api.do(t, http.MethodPatch, "/api/cart/items/A", u1, `{"quantity":2}`),
		http.StatusNotFound, kindNotFound)

	rec := api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPatch, "/api/cart/items/A", u1, `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40.00", decodeMap(t, rec)["subtotal"])
	rec = api.do(t, http.MethodDelete, "/api/cart/items/A", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeMap(t, rec)["items"])
}

func TestCart_ConcurrentAddsAccumulate(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	const n = 20
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			rec := api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":1}`)
			if rec.Code != http.StatusOK {
				return errors.Errorf("add item: status %d: %s", rec.Code, rec.Body.String())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	rec := api.do(t, http.MethodGet, "/api/cart", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeMap(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(n), items[0].(map[string]any)["quantity"])
}

func TestCart_QuantityLimit(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":9223372036854775807}`),
		http.StatusBadRequest, kindInvalidRequest)

	rec := api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":10000}`),
		http.StatusBadRequest, kindInvalidRequest)

	rec = api.do(t, http.MethodGet, "/api/cart", u1, "")
	items := decodeMap(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(1), items[0].(map[string]any)["quantity"])
}

func TestPlaceOrder_MalformedBodyPlacesNothing(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/cart/items", u1, `{"productId":"A","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPut, "/api/me/address", u1, `{"address":"42 Elm St"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	for _, body := range []string{`xyz`, `[]`, `"{}"`, `{} trailing`} {
		t.Run(body, func(t *testing.T) {
			requireErrorBody(t, api.do(t, http.MethodPost, "/api/orders", u1, body),
				http.StatusBadRequest, kindInvalidRequest)
		})
	}

	rec = api.do(t, http.MethodGet, "/api/orders", u1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeList(t, rec))
	rec = api.do(t, http.MethodGet, "/api/products/A", "", "")
	assert.Equal(t, float64(5), decodeMap(t, rec)["stock"])

	rec = api.do(t, http.MethodPost, "/api/orders", u1, " \n\t")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	rec := api.do(t, http.MethodPost, "/api/orders", u1,
		`{"shippingAddress":"x","directBuy":{"productId":"C","quantity":10}}`)
	body := requireErrorBody(t, rec, http.StatusConflict, kindInsufficientStock)
	assert.Equal(t, "C", body["productId"])
	assert.Equal(t, float64(10), body["requested"])
	assert.Equal(t, float64(4), body["available"])

	rec = api.do(t, http.MethodGet, "/api/products/C", "", "")
	assert.Equal(t, float64(4), decodeMap(t, rec)["stock"])
}

func TestPlaceOrder_Errors(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{name: "empty cart", body: `{}`, status: http.StatusBadRequest, kind: kindInvalidRequest},
		{name: "missing address", body: `{"directBuy":{"productId":"A","quantity":1}}`, status: http.StatusUnprocessableEntity, kind: kindMissingAddress},
		{name: "unknown product", body: `{"shippingAddress":"x","directBuy":{"productId":"Z","quantity":1}}`, status: http.StatusNotFound, kind: kindNotFound},
		{name: "negative shipping", body: `{"shippingAddress":"x","shippingCost":-1,"directBuy":{"productId":"A","quantity":1}}`, status: http.StatusBadRequest, kind: kindInvalidRequest},
		{name: "bad shipping", body: `{"shippingCost":"abc"}`, status: http.StatusBadRequest, kind: kindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireErrorBody(t, api.do(t, http.MethodPost, "/api/orders", u1, tt.body), tt.status, tt.kind)
		})
	}

	rec := api.do(t, http.MethodPost, "/api/orders", u1,
		`{"shippingAddress":"x","shippingCost":"0.5","directBuy":{"productId":"C","quantity":2}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2.50", decodeMap(t, rec)["totalAmount"])
}

func TestCancelOrder(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)
	orderID := api.placeDirect(t, u1, "A", 2)
	path := "/api/orders/" + orderID + "/cancel"

	requireErrorBody(t, api.do(t, http.MethodPost, path, u1, `{"reason":"meh "}`),
		http.StatusUnprocessableEntity, kindInvalidReason)
	requireErrorBody(t, api.do(t, http.MethodPost, path, api.token(t, "u2", auth.RoleCustomer), `{"reason":"not mine at all"}`),
		http.StatusForbidden, kindUnauthorized)
	requireErrorBody(t, api.do(t, http.MethodPost, "/api/orders/missing/cancel", u1, `{"reason":"changed my mind"}`),
		http.StatusNotFound, kindNotFound)

	rec := api.do(t, http.MethodPost, path, u1, `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o := decodeMap(t, rec)
	assert.Equal(t, "CANCELLED", o["status"])
	assert.Equal(t, "CANCELLED", o["paymentStatus"])
	assert.Equal(t, "changed my mind", o["reasonForCancel"])
	assert.NotEmpty(t, o["cancelledAt"])

	rec = api.do(t, http.MethodGet, "/api/products/A", "", "")
	assert.Equal(t, float64(5), decodeMap(t, rec)["stock"])

	body := requireErrorBody(t, api.do(t, http.MethodPost, path, u1, `{"reason":"changed my mind"}`),
		http.StatusConflict, kindInvalidTransition)
	assert.Equal(t, "CANCELLED", body["from"])
}

func TestPaymentWebhook(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)
	orderID := api.placeDirect(t, u1, "B", 1)

	event := `{"eventId":"evt-1","orderId":"` + orderID + `","outcome":"succeeded"}`
	requireErrorBody(t, api.webhook(t, event, "deadbeef"), http.StatusUnauthorized, kindUnauthorized)

	sig := payment.Sign(webhookSecret, []byte(event))
	rec := api.webhook(t, event, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeMap(t, rec)["duplicate"])

	rec = api.webhook(t, event, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeMap(t, rec)["duplicate"])

	rec = api.do(t, http.MethodGet, "/api/orders/"+orderID, u1, "")
	o := decodeMap(t, rec)
	assert.Equal(t, "PROCESSING", o["status"])
	assert.Equal(t, "PAID", o["paymentStatus"])

	unknown := `{"eventId":"evt-2","orderId":"nope","outcome":"failed"}`
	requireErrorBody(t, api.webhook(t, unknown, payment.Sign(webhookSecret, []byte(unknown))),
		http.StatusNotFound, kindNotFound)

	malformed := `{"eventId":"evt-3","outcome":"refunded"}`
	requireErrorBody(t, api.webhook(t, malformed, payment.Sign(webhookSecret, []byte(malformed))),
		http.StatusBadRequest, kindInvalidRequest)
}

func TestAdminOrders(t *testing.T) {
	api := newTestAPI(t)
	u1 := api.token(t, "u1", auth.RoleCustomer)
	admin := api.token(t, "ops", auth.RoleAdmin)
	first := api.placeDirect(t, u1, "A", 1)
	api.placeDirect(t, u1, "B", 1)

	requireErrorBody(t, api.do(t, http.MethodGet, "/api/admin/orders", u1, ""), http.StatusForbidden, kindUnauthorized)
	requireErrorBody(t, api.do(t, http.MethodGet, "/api/admin/orders?limit=x", admin, ""), http.StatusBadRequest, kindInvalidRequest)
	requireErrorBody(t, api.do(t, http.MethodGet, "/api/admin/orders?status=LOST", admin, ""), http.StatusBadRequest, kindInvalidRequest)

	rec := api.do(t, http.MethodGet, "/api/admin/orders?limit=1", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 1)

	statusPath := "/api/admin/orders/" + first + "/status"
	requireErrorBody(t, api.do(t, http.MethodPost, statusPath, admin, `{"status":"SHIPPED"}`),
		http.StatusConflict, kindInvalidTransition)

	event := `{"eventId":"evt-9","orderId":"` + first + `","outcome":"succeeded"}`
	require.Equal(t, http.StatusOK, api.webhook(t, event, payment.Sign(webhookSecret, []byte(event))).Code)

	requireErrorBody(t, api.do(t, http.MethodPost, statusPath, u1, `{"status":"SHIPPED"}`),
		http.StatusForbidden, kindUnauthorized)
	rec = api.do(t, http.MethodPost, statusPath, admin, `{"status":"SHIPPED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SHIPPED", decodeMap(t, rec)["status"])

	rec = api.do(t, http.MethodGet, "/api/admin/orders?status=SHIPPED", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	shipped := decodeList(t, rec)
	require.Len(t, shipped, 1)
	assert.Equal(t, first, shipped[0]["id"])
}

func TestClassify_HidesInternalErrors(t *testing.T) {
	ae := classify(errors.Wrap(errors.New("pq: connection refused"), "list orders"))
	assert.Equal(t, http.StatusInternalServerError, ae.status)
	assert.Equal(t, kindInternal, ae.kind)
	assert.Equal(t, "internal error", ae.message)
}
