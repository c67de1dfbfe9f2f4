package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/services"
)

// VendorOrderHandlers exposes the vendor order feed: each order is narrowed
// to the caller's own lines while the order-level totals stay intact.
type VendorOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewVendorOrderHandlers constructs a new VendorOrderHandlers instance.
func NewVendorOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *VendorOrderHandlers {
	return &VendorOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /vendor/orders endpoints.
func (h *VendorOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listVendorOrders)
}

func (h *VendorOrderHandlers) listVendorOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListForVendor(ctx, actorFromIdentity(identity), query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]vendorOrderPayload, 0, len(page.Items))
	for _, view := range page.Items {
		items = append(items, buildVendorOrderPayload(view))
	}

	writeJSONResponse(w, http.StatusOK, vendorOrderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type vendorOrderListResponse struct {
	Items         []vendorOrderPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type vendorOrderPayload struct {
	ID           string               `json:"id"`
	OrderNumber  string               `json:"order_number"`
	Status       string               `json:"status"`
	Items        []orderItemPayload   `json:"items"`
	Shipping     orderShippingPayload `json:"shipping"`
	Note         string               `json:"note,omitempty"`
	Subtotal     float64              `json:"subtotal"`
	ShippingCost float64              `json:"shipping_cost"`
	Total        float64              `json:"total"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at,omitempty"`
}

func buildVendorOrderPayload(view services.VendorOrderView) vendorOrderPayload {
	order := view.Order
	payload := vendorOrderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Items:       make([]orderItemPayload, 0, len(view.Items)),
		Shipping: orderShippingPayload{
			Name:    order.Shipping.Name,
			Phone:   order.Shipping.Phone,
			Address: order.Shipping.Address,
			Region:  order.Shipping.Region,
		},
		Note:         order.Note,
		Subtotal:     order.Subtotal,
		ShippingCost: order.ShippingCost,
		Total:        order.Total,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	for _, item := range view.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}
	return payload
}
