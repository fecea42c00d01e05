package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/infra/gateway"
	"commerce/internal/middleware"
	"commerce/internal/usecase"

	"github.com/shopspring/decimal"
)

const testSecret = "test-secret"

// カード名義がこれなら発行元で拒否される
const declinedHolder = "Declined Holder"

type TestClient struct {
	BaseURL string
	HTTP    *http.Client
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type testEnv struct {
	app    *App
	client *TestClient
	ctx    context.Context
}

func testConfig() config.Config {
	tiers, _ := config.ParseDiscountTiers("100:0.10,50:0.05")
	return config.Config{
		Port:                 "0",
		Storage:              config.StorageMemory,
		JWTSecret:            testSecret,
		EventPublisher:       config.PublisherLog,
		Currency:             "USD",
		TaxRate:              decimal.RequireFromString("0.08"),
		ShippingBase:         decimal.RequireFromString("5.99"),
		ShippingPerSeller:    decimal.RequireFromString("2.99"),
		DiscountTiers:        tiers,
		CartMaxLines:         50,
		CacheMaxEntries:      100,
		CacheDefaultTTL:      time.Minute,
		RetryAttempts:        1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
		GatewayTimeout:       time.Second,
		ReconcilePendingAge:  30 * time.Minute,
	}
}

func testProducts() []model.Product {
	return []model.Product{
		{ID: "p30", Name: "Canvas Tote", Price: decimal.RequireFromString("30.00"), Stock: 5, SellerID: "s1", SellerName: "Shop One", IsActive: true},
		{ID: "p50", Name: "Desk Lamp", Price: decimal.RequireFromString("50.00"), Stock: 1, SellerID: "s1", SellerName: "Shop One", IsActive: true},
		{ID: "hidden", Name: "Retired Mug", Price: decimal.RequireFromString("9.00"), Stock: 3, SellerID: "s2", IsActive: false},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gw := gateway.NewSimulatedGateway(gateway.SimulatedOptions{
		Approver: func(req usecase.GatewayRequest) bool {
			return req.Card == nil || req.Card.CardholderName != declinedHolder
		},
	})

	a := New(testConfig(), MemoryStores(testProducts()...), Options{
		Gateway: gw,
		Logger:  log.New(io.Discard, "", 0),
	})
	srv := httptest.NewServer(a.Server.Echo)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})

	return &testEnv{
		app:    a,
		client: &TestClient{BaseURL: srv.URL, HTTP: srv.Client()},
		ctx:    context.Background(),
	}
}

func (c *TestClient) doJSON(
	ctx context.Context,
	t *testing.T,
	method string,
	path string,
	bearer string,
	body any,
) (*http.Response, []byte) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("http.NewRequest failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		t.Fatalf("HTTP.Do failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return resp, data
}

func requireStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, want, string(body))
	}
}

func mustDecode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("json.Unmarshal(%T) failed: %v body=%s", v, err, string(body))
	}
	return v
}

func token(t *testing.T, sessionID string, role model.Role) string {
	t.Helper()
	tok, _, err := middleware.IssueToken(testSecret, sessionID, role, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return tok
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =====================
// Request bodies
// =====================

type addItemBody struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutBody struct {
	Customer        model.Customer `json:"customer"`
	ShippingAddress model.Address  `json:"shipping_address"`
	Payment         struct {
		Method model.PaymentMethod `json:"method"`
		Card   *model.CardDetails  `json:"card,omitempty"`
	} `json:"payment"`
}

func checkoutRequest(method model.PaymentMethod, card *model.CardDetails) checkoutBody {
	var b checkoutBody
	b.Customer = model.Customer{Name: "Jane Doe", Email: "jane@example.com", Phone: "+1 555 0100"}
	b.ShippingAddress = model.Address{
		FirstName: "Jane",
		LastName:  "Doe",
		Street:    "1 Main St",
		City:      "Springfield",
		State:     "IL",
		Zip:       "62701",
		Country:   "US",
	}
	b.Payment.Method = method
	b.Payment.Card = card
	return b
}

func testCard(holder string) *model.CardDetails {
	return &model.CardDetails{
		Number:         "4242424242424242",
		ExpiryMonth:    12,
		ExpiryYear:     time.Now().Year() + 2,
		CVV:            "123",
		CardholderName: holder,
	}
}

// $30 x2 と $50 x1 をカートに入れる
func fillCart(t *testing.T, env *testEnv, bearer string) {
	t.Helper()
	for _, it := range []addItemBody{{ProductID: "p30", Quantity: 2}, {ProductID: "p50", Quantity: 1}} {
		resp, body := env.client.doJSON(env.ctx, t, http.MethodPost, "/cart/items", bearer, it)
		requireStatus(t, resp, http.StatusOK, body)
	}
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}
