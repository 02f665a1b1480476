package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
)

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserID(r.Context())
	if caller == "" {
		unauthorized(w)
		return
	}
	var req order.CreateOrderRequest
	if err := decode(r, &req); err != nil {
		fail(w, h.Logger, "create order", err)
		return
	}
	req.Buyer.BuyerID = caller

	o, err := h.Orders.CreateOrder(r.Context(), req)
	if err != nil {
		fail(w, h.Logger, "create order", err)
		return
	}
	ok(w, http.StatusCreated, "order created", o)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserID(r.Context())
	if caller == "" {
		unauthorized(w)
		return
	}
	orders, err := h.Orders.ListOrders(r.Context(), caller)
	if err != nil {
		fail(w, h.Logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	ok(w, http.StatusOK, "orders", orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, h.Logger, "get order", err)
		return
	}
	ok(w, http.StatusOK, "order", o)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, h.Logger, "cancel order", err)
		return
	}
	ok(w, http.StatusOK, "order cancelled", o)
}

// PaymentSignal is the HTTP form of the gateway's payment outcome message.
func (h *Handler) PaymentSignal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reference string `json:"reference"`
		Succeeded bool   `json:"succeeded"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "payment signal", err)
		return
	}
	id := chi.URLParam(r, "orderID")
	sig := models.PaymentSignal{OrderID: id, Reference: body.Reference, Succeeded: body.Succeeded}
	if err := h.Orders.HandlePaymentSignal(r.Context(), sig); err != nil {
		fail(w, h.Logger, "payment signal", err)
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), id)
	if err != nil {
		fail(w, h.Logger, "payment signal", err)
		return
	}
	ok(w, http.StatusOK, "payment applied", o)
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "refund order", err)
		return
	}
	o, err := h.Orders.RefundOrder(r.Context(), chi.URLParam(r, "orderID"), body.Amount)
	if err != nil {
		fail(w, h.Logger, "refund order", err)
		return
	}
	ok(w, http.StatusOK, "order refunded", o)
}

func (h *Handler) RestockOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.RestockOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, h.Logger, "restock order", err)
		return
	}
	ok(w, http.StatusOK, "order restocked", o)
}

func (h *Handler) SavePromo(w http.ResponseWriter, r *http.Request) {
	var p models.PromoCode
	if err := decode(r, &p); err != nil {
		fail(w, h.Logger, "save promo", err)
		return
	}
	if err := h.Orders.SavePromo(r.Context(), &p); err != nil {
		fail(w, h.Logger, "save promo", err)
		return
	}
	ok(w, http.StatusOK, "promo saved", p)
}

func (h *Handler) SaveFee(w http.ResponseWriter, r *http.Request) {
	var f models.Fee
	if err := decode(r, &f); err != nil {
		fail(w, h.Logger, "save fee", err)
		return
	}
	if err := h.Orders.SaveFee(r.Context(), &f); err != nil {
		fail(w, h.Logger, "save fee", err)
		return
	}
	ok(w, http.StatusOK, "fee saved", f)
}

func (h *Handler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	status := models.ReconciliationStatus(r.URL.Query().Get("status"))
	cases, err := h.Orders.ListReconciliationCases(r.Context(), status)
	if err != nil {
		fail(w, h.Logger, "list reconciliation cases", err)
		return
	}
	if cases == nil {
		cases = []models.ReconciliationCase{}
	}
	ok(w, http.StatusOK, "reconciliation cases", cases)
}

func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resolution string `json:"resolution"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, h.Logger, "resolve case", err)
		return
	}
	if err := h.Orders.ResolveReconciliationCase(r.Context(), chi.URLParam(r, "caseID"), body.Resolution); err != nil {
		fail(w, h.Logger, "resolve case", err)
		return
	}
	ok(w, http.StatusOK, "case resolved", nil)
}
