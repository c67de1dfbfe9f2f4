package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/httpx"
	"github.com/vendora/api/internal/repositories"
	"github.com/vendora/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

var orderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:   {},
	domain.OrderStatusAccepted:  {},
	domain.OrderStatusConfirmed: {},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusDeclined:  {},
	domain.OrderStatusCancelled: {},
}

type createOrderRequest struct {
	Items    []createOrderItemRequest   `json:"items"`
	Shipping createOrderShippingRequest `json:"shipping"`
	Note     string                     `json:"note"`
}

type createOrderItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type createOrderShippingRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Region  string `json:"region"`
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance. The idempotency
// middleware guards order creation against duplicate submissions and may be nil.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, idempotency func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		orders:      orders,
		idempotency: idempotency,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.transitionOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Actor: actorFromIdentity(identity),
		Items: make([]services.CreateOrderItem, 0, len(req.Items)),
		Shipping: domain.ShippingDetails{
			Name:    strings.TrimSpace(req.Shipping.Name),
			Phone:   strings.TrimSpace(req.Shipping.Phone),
			Address: strings.TrimSpace(req.Shipping.Address),
			Region:  strings.TrimSpace(req.Shipping.Region),
		},
		Note: strings.TrimSpace(req.Note),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	page, err := h.orders.ListForUser(ctx, actorFromIdentity(identity), query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, actorFromIdentity(identity), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
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

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		Actor:        actorFromIdentity(identity),
		OrderID:      orderID,
		TargetStatus: target,
		Reason:       strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseOrderListQuery(r *http.Request) (services.OrderListQuery, error) {
	query := r.URL.Query()

	pager, err := parsePagination(query, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		return services.OrderListQuery{}, err
	}

	out := services.OrderListQuery{
		Status:     parseFilterValues(query["status"]),
		Pagination: pager,
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return services.OrderListQuery{}, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		out.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return services.OrderListQuery{}, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		out.DateRange.To = &ts
	}
	return out, nil
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"order_number"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
	ItemCount   int     `json:"item_count"`
	CreatedAt   string  `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	UserID        string               `json:"user_id"`
	Status        string               `json:"status"`
	Items         []orderItemPayload   `json:"items"`
	Shipping      orderShippingPayload `json:"shipping"`
	Note          string               `json:"note,omitempty"`
	Subtotal      float64              `json:"subtotal"`
	ShippingCost  float64              `json:"shipping_cost"`
	Total         float64              `json:"total"`
	DeclineReason *string              `json:"decline_reason,omitempty"`
	CancelReason  *string              `json:"cancel_reason,omitempty"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
	AcceptedAt    string               `json:"accepted_at,omitempty"`
	ConfirmedAt   string               `json:"confirmed_at,omitempty"`
	DeliveredAt   string               `json:"delivered_at,omitempty"`
	DeclinedAt    string               `json:"declined_at,omitempty"`
	CancelledAt   string               `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	VendorID  string  `json:"vendor_id"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type orderShippingPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Region  string `json:"region"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Total:       order.Total,
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      strings.TrimSpace(string(order.Status)),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Shipping: orderShippingPayload{
			Name:    order.Shipping.Name,
			Phone:   order.Shipping.Phone,
			Address: order.Shipping.Address,
			Region:  order.Shipping.Region,
		},
		Note:          order.Note,
		Subtotal:      order.Subtotal,
		ShippingCost:  order.ShippingCost,
		Total:         order.Total,
		DeclineReason: cloneStringPointer(order.DeclineReason),
		CancelReason:  cloneStringPointer(order.CancelReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		AcceptedAt:    formatTime(pointerTime(order.AcceptedAt)),
		ConfirmedAt:   formatTime(pointerTime(order.ConfirmedAt)),
		DeliveredAt:   formatTime(pointerTime(order.DeliveredAt)),
		DeclinedAt:    formatTime(pointerTime(order.DeclinedAt)),
		CancelledAt:   formatTime(pointerTime(order.CancelledAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}

	return payload
}

func buildOrderItemPayload(item domain.OrderItem) orderItemPayload {
	return orderItemPayload{
		ProductID: strings.TrimSpace(item.ProductID),
		VendorID:  strings.TrimSpace(item.VendorID),
		Name:      strings.TrimSpace(item.Name),
		Image:     strings.TrimSpace(item.Image),
		Price:     item.Price,
		Quantity:  item.Quantity,
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *repositories.StockError
	if errors.Is(err, services.ErrOrderStockUnavailable) && errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "one or more items are unavailable", http.StatusConflict).
			WithDetails(map[string]any{"lines": buildStockLineDetails(stockErr.Lines)}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "not allowed to act on this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_exhausted", "could not allocate an order number", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func buildStockLineDetails(lines []repositories.StockLineError) []map[string]any {
	details := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		entry := map[string]any{
			"product_id": line.ProductID,
			"reason":     line.Reason,
		}
		if line.Name != "" {
			entry["name"] = line.Name
		}
		if line.Reason == repositories.StockLineInsufficient {
			entry["requested"] = line.Requested
			entry["available"] = line.Available
		}
		details = append(details, entry)
	}
	return details
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := orderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

