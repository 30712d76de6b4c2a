package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

type CartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=1000"`
}

type LocationRequest struct {
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
	Address string  `json:"address,omitempty" validate:"omitempty,max=500"`
}

// CreateOrderRequest carries no prices; they are read from the catalog.
// CustomerID is ignored for customers and required for admins.
type CreateOrderRequest struct {
	CustomerID       *uuid.UUID        `json:"customer_id,omitempty"`
	StoreID          uuid.UUID         `json:"store_id" validate:"required"`
	Items            []CartItemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryLocation LocationRequest   `json:"delivery_location"`
}

// UpdateOrderRequest is the only mutable surface of an order.
type UpdateOrderRequest struct {
	Status string `json:"status" validate:"required"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes expects the router to already run auth middleware.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Get("/", h.handleListOrders)
		r.Get("/by-stores", h.handleListOrdersByStores)
		r.Get("/number/{number}", h.handleGetOrderByNumber)
		r.Get("/{id}", h.handleGetOrder)
		r.Get("/{id}/history", h.handleGetOrderHistory)
		r.Patch("/{id}", h.handleUpdateOrder)
		r.Delete("/{id}", h.handleDeleteOrder)
		r.Post("/{id}/accept", h.handleAcceptOrder)
		r.Post("/{id}/deny", h.handleDenyOrder)
	})
}

func actorFrom(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
	}
	return actor, ok
}

func orderIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("handler: failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var requestPayload CreateOrderRequest
	if err := decodeJSON(r, &requestPayload); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode create order request")
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.validateRequest(w, requestPayload) {
		return
	}

	input := order.CreateInput{
		StoreID: requestPayload.StoreID,
		Items:   make([]order.CartItem, 0, len(requestPayload.Items)),
		DeliveryLocation: order.Location{
			Lat:     requestPayload.DeliveryLocation.Lat,
			Lng:     requestPayload.DeliveryLocation.Lng,
			Address: requestPayload.DeliveryLocation.Address,
		},
	}
	if requestPayload.CustomerID != nil {
		input.CustomerID = *requestPayload.CustomerID
	}
	for _, item := range requestPayload.Items {
		input.Items = append(input.Items, order.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	created, err := h.service.CreateOrder(r.Context(), actor, input)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	numberParam := chi.URLParam(r, "number")
	number, err := strconv.ParseInt(numberParam, 10, 64)
	if err != nil || number <= 0 {
		log.Warn().Str("number", numberParam).Msg("handler: failed to parse order number")
		respondWithError(w, http.StatusBadRequest, "Invalid number parameter")
		return
	}

	found, err := h.service.GetOrderByNumber(r.Context(), actor, number)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order by number")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	history, err := h.service.GetOrderHistory(r.Context(), actor, id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order history")
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	query, err := parseListQuery(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ListOrders(r.Context(), actor, query)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// parseListQuery reads ?status=&store_id=&customer_id=&courier_id=&sort=&order=&page=&limit=.
// store_id may repeat or be comma separated.
func parseListQuery(r *http.Request) (order.ListQuery, error) {
	values := r.URL.Query()
	var query order.ListQuery

	if raw := values.Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			return query, err
		}
		query.Filter.Status = &status
	}

	storeIDs, err := parseUUIDList(values["store_id"])
	if err != nil {
		return query, fmt.Errorf("invalid store_id: %w", err)
	}
	query.Filter.StoreIDs = storeIDs

	for _, param := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"customer_id", &query.Filter.CustomerID},
		{"courier_id", &query.Filter.CourierID},
	} {
		raw := values.Get(param.name)
		if raw == "" {
			continue
		}
		id, err := uuid.FromString(raw)
		if err != nil {
			return query, fmt.Errorf("invalid %s: %w", param.name, err)
		}
		*param.dst = &id
	}

	query.Sort.Field = order.SortField(values.Get("sort"))
	switch strings.ToLower(values.Get("order")) {
	case "", "desc":
		query.Sort.Desc = true
	case "asc":
	default:
		return query, fmt.Errorf("order must be asc or desc")
	}

	for _, param := range []struct {
		name string
		dst  *int
	}{
		{"page", &query.Page.Page},
		{"limit", &query.Page.Limit},
	} {
		raw := values.Get(param.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return query, fmt.Errorf("invalid %s: %q", param.name, raw)
		}
		*param.dst = n
	}

	return query, nil
}

func parseUUIDList(raw []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, chunk := range raw {
		for _, part := range strings.Split(chunk, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.FromString(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (h *OrderHandler) handleListOrdersByStores(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	storeIDs, err := parseUUIDList(r.URL.Query()["store_ids"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid store_ids parameter")
		return
	}

	orders, err := h.service.ListOrdersByStores(r.Context(), actor, storeIDs)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders by stores")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderRequest
	if err := decodeJSON(r, &requestPayload); err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("handler: failed to decode update order request")
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.validateRequest(w, requestPayload) {
		return
	}

	status, err := order.ParseStatus(requestPayload.Status)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.UpdateOrder(r.Context(), actor, id, order.UpdateInput{Status: status})
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteOrder(r.Context(), actor, id); err != nil {
		respondWithServiceError(w, err, "Failed to delete order")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	updated, err := h.service.AcceptOrder(r.Context(), actor, id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to accept order")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleDenyOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderIDFrom(w, r)
	if !ok {
		return
	}

	updated, err := h.service.DenyOrder(r.Context(), actor, id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to deny order")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}
