package app

import (
	"net/http"
	"testing"

	"commerce/internal/domain/model"
	"commerce/internal/infra/memory"
	"commerce/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, "/healthz", "", nil)
	requireStatus(t, resp, http.StatusOK, body)
}

func Test_Products_ListAndDetail(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, "/products", "", nil)
	requireStatus(t, resp, http.StatusOK, body)
	list := mustDecode[usecase.ProductListOutput](t, body)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "p30", list.Items[0].ID)
	assert.Equal(t, 20, list.Limit)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/products?limit=abc", "", nil)
	requireStatus(t, resp, http.StatusBadRequest, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/products/missing", "", nil)
	requireStatus(t, resp, http.StatusNotFound, body)
	assert.Equal(t, string(usecase.KindNotFound), mustDecode[ErrorResponse](t, body).Kind)
}

func Test_Cart_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, "/cart", "", nil)
	requireStatus(t, resp, http.StatusUnauthorized, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart", "not-a-jwt", nil)
	requireStatus(t, resp, http.StatusUnauthorized, body)
}

func Test_Cart_AddPatchDelete(t *testing.T) {
	env := newTestEnv(t)
	access := token(t, "sess-cart", model.RoleUser)

	fillCart(t, env, access)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, "/cart", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	cart := mustDecode[model.CartSummary](t, body)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, 3, cart.ItemCount)
	assert.True(t, money("110.00").Equal(cart.Total), cart.Total.String())

	// 在庫を超える分は在庫数で頭打ち
	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/cart/items", access, addItemBody{ProductID: "p50", Quantity: 1})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, 3, mustDecode[model.CartSummary](t, body).ItemCount)

	// 非公開の商品は入れられない
	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/cart/items", access, addItemBody{ProductID: "hidden", Quantity: 1})
	requireStatus(t, resp, http.StatusConflict, body)
	assert.Equal(t, string(usecase.KindStockConflict), mustDecode[ErrorResponse](t, body).Kind)

	var toteLine string
	for _, l := range cart.Lines {
		if l.ProductID == "p30" {
			toteLine = l.ID
		}
	}
	require.NotEmpty(t, toteLine)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPatch, "/cart/items/"+toteLine, access, map[string]int{"quantity": 4})
	requireStatus(t, resp, http.StatusOK, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart/count", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.JSONEq(t, `{"item_count":5}`, string(body))

	resp, body = env.client.doJSON(env.ctx, t, http.MethodDelete, "/cart/items/"+toteLine, access, nil)
	requireStatus(t, resp, http.StatusOK, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart/contains?product_id=p30", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.JSONEq(t, `{"in_cart":false,"quantity":0}`, string(body))

	// 別セッションのカートは空
	other := token(t, "sess-other", model.RoleUser)
	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart/count", other, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.JSONEq(t, `{"item_count":0}`, string(body))
}

func Test_Checkout_CardApproved(t *testing.T) {
	env := newTestEnv(t)
	access := token(t, "sess-buyer", model.RoleUser)
	fillCart(t, env, access)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodPost, "/checkout", access,
		checkoutRequest(model.PaymentMethodCreditCard, testCard("Jane Doe")))
	requireStatus(t, resp, http.StatusCreated, body)

	out := mustDecode[usecase.CheckoutResult](t, body)
	assert.Equal(t, model.OrderStatusConfirmed, out.Order.Status)
	assert.Equal(t, model.OrderPaymentPaid, out.Order.PaymentStatus)
	assert.True(t, money("113.79").Equal(out.Order.Total), out.Order.Total.String())
	assert.True(t, hasPrefix(out.Order.OrderNumber, "SM"), out.Order.OrderNumber)
	assert.Equal(t, model.PaymentStatusCompleted, out.Payment.Status)
	assert.Equal(t, "4242", out.Payment.GatewayResponse["card_last4"])

	// カートは空になる
	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart/count", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.JSONEq(t, `{"item_count":0}`, string(body))

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/orders", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.Len(t, mustDecode[[]model.Order](t, body), 1)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/orders/"+out.Order.ID+"/payments", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	payments := mustDecode[[]model.Payment](t, body)
	require.Len(t, payments, 1)
	assert.Equal(t, out.Payment.ID, payments[0].ID)

	// 他人の注文は見えない
	stranger := token(t, "sess-stranger", model.RoleUser)
	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/orders/"+out.Order.ID, stranger, nil)
	requireStatus(t, resp, http.StatusNotFound, body)

	names := env.app.Stores.Events.(*memory.EventStore).Names()
	assert.Contains(t, names, model.EventOrderCreated)
	assert.Contains(t, names, model.EventPaymentCompleted)
	assert.Contains(t, names, model.EventCheckoutCompleted)
}

func Test_Checkout_DeclinedKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	access := token(t, "sess-declined", model.RoleUser)
	fillCart(t, env, access)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodPost, "/checkout", access,
		checkoutRequest(model.PaymentMethodCreditCard, testCard(declinedHolder)))
	requireStatus(t, resp, http.StatusPaymentRequired, body)

	out := mustDecode[struct {
		ErrorResponse
		Order   model.Order   `json:"order"`
		Payment model.Payment `json:"payment"`
	}](t, body)
	assert.Equal(t, string(usecase.KindPaymentFailed), out.Kind)
	assert.Equal(t, model.OrderStatusCancelled, out.Order.Status)
	assert.Equal(t, model.OrderPaymentFailed, out.Order.PaymentStatus)
	assert.Equal(t, model.PaymentStatusFailed, out.Payment.Status)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/cart/count", access, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.JSONEq(t, `{"item_count":3}`, string(body))
}

func Test_Checkout_ValidationAndEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	access := token(t, "sess-empty", model.RoleUser)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodPost, "/checkout", access,
		checkoutRequest(model.PaymentMethodCashOnDelivery, nil))
	requireStatus(t, resp, http.StatusBadRequest, body)
	assert.Equal(t, string(usecase.KindEmptyCart), mustDecode[ErrorResponse](t, body).Kind)

	fillCart(t, env, access)
	req := checkoutRequest(model.PaymentMethodCashOnDelivery, nil)
	req.Customer.Email = "nope"
	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/checkout", access, req)
	requireStatus(t, resp, http.StatusBadRequest, body)
	assert.Equal(t, string(usecase.KindValidation), mustDecode[ErrorResponse](t, body).Kind)
}

func Test_Admin_RequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	user := token(t, "sess-user", model.RoleUser)

	for _, path := range []string{"/admin/orders", "/admin/payments", "/admin/orders/stats"} {
		resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, path, user, nil)
		requireStatus(t, resp, http.StatusForbidden, body)
	}

	resp, body := env.client.doJSON(env.ctx, t, http.MethodGet, "/admin/orders", "", nil)
	requireStatus(t, resp, http.StatusUnauthorized, body)
}

func Test_Admin_OrderLifecycleAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	buyer := token(t, "sess-lifecycle", model.RoleUser)
	admin := token(t, "ops", model.RoleAdmin)
	fillCart(t, env, buyer)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodPost, "/checkout", buyer,
		checkoutRequest(model.PaymentMethodCreditCard, testCard("Jane Doe")))
	requireStatus(t, resp, http.StatusCreated, body)
	out := mustDecode[usecase.CheckoutResult](t, body)
	orderPath := "/admin/orders/" + out.Order.ID

	// 確定前の状態には戻せない
	resp, body = env.client.doJSON(env.ctx, t, http.MethodPut, orderPath+"/status", admin,
		map[string]string{"status": string(model.OrderStatusPending)})
	requireStatus(t, resp, http.StatusConflict, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPut, orderPath+"/status", admin,
		map[string]string{"status": string(model.OrderStatusProcessing), "note": "picked"})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, model.OrderStatusProcessing, mustDecode[model.Order](t, body).Status)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, orderPath+"/tracking", admin,
		map[string]string{"tracking_number": "1Z999", "carrier": "UPS"})
	requireStatus(t, resp, http.StatusOK, body)
	tracked := mustDecode[model.Order](t, body)
	require.NotNil(t, tracked.TrackingNumber)
	assert.Equal(t, "1Z999", *tracked.TrackingNumber)

	// 決済側の一部返金は注文にも反映される
	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/admin/payments/"+out.Payment.ID+"/refund", admin,
		map[string]string{"amount": "10.00", "reason": "damaged"})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, model.PaymentStatusPartiallyRefunded, mustDecode[model.Payment](t, body).Status)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, orderPath, admin, nil)
	requireStatus(t, resp, http.StatusOK, body)
	o := mustDecode[model.Order](t, body)
	assert.Equal(t, model.OrderPaymentPartiallyRefunded, o.PaymentStatus)
	assert.True(t, money("10.00").Equal(o.RefundedAmount), o.RefundedAmount.String())

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/admin/payments/"+out.Payment.ID+"/refund", admin,
		map[string]string{"amount": "1000.00"})
	requireStatus(t, resp, http.StatusBadRequest, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/admin/orders/stats", admin, nil)
	requireStatus(t, resp, http.StatusOK, body)
	stats := mustDecode[usecase.OrderStats](t, body)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[model.OrderStatusProcessing])

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPost, "/admin/reconcile", admin, nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, usecase.ReconcileReport{}, mustDecode[usecase.ReconcileReport](t, body))
}

func Test_Admin_ProductUpsertAndStock(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "ops", model.RoleAdmin)

	resp, body := env.client.doJSON(env.ctx, t, http.MethodPut, "/admin/inventory/p50", admin, map[string]int{"stock": 7})
	requireStatus(t, resp, http.StatusOK, body)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodGet, "/products/p50", "", nil)
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, 7, mustDecode[model.Product](t, body).Stock)

	resp, body = env.client.doJSON(env.ctx, t, http.MethodPut, "/admin/inventory/missing", admin, map[string]int{"stock": 1})
	requireStatus(t, resp, http.StatusNotFound, body)
}
