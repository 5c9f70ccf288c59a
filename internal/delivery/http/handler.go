package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/service"
)

// Handler handles HTTP requests for the application.
type Handler struct {
	catalog  *service.CatalogService
	orderSvc *service.OrderService
	audit    *service.AuditService
	ping     func(ctx context.Context) error
}

func NewHandler(catalog *service.CatalogService, orderSvc *service.OrderService, audit *service.AuditService, ping func(ctx context.Context) error) *Handler {
	return &Handler{
		catalog:  catalog,
		orderSvc: orderSvc,
		audit:    audit,
		ping:     ping,
	}
}

// Routes builds the router with the standard middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	r.Use(middleware.Timeout(60 * time.Second))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleCreateItem)
		r.Get("/", h.handleListItems)
		r.Patch("/", h.handleUpdateItems)
		r.Get("/count", h.handleCountItems)
		r.Get("/filter", h.handleFilterItems)
		r.Get("/{id}", h.handleGetItem)
		r.Patch("/{id}", h.handleUpdateItem)
		r.Put("/{id}", h.handleReplaceItem)
		r.Delete("/{id}", h.handleDeleteItem)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.handleCreateUser)
		r.Get("/", h.handleListUsers)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Post("/multiple", h.handleCreateOrder)
		r.Get("/", h.handleGetOrders)
		r.Get("/{id}", h.handleGetOrder)
		r.Get("/{id}/events", h.handleGetOrderEvents)
	})
}

// --- Health ---

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		slog.Error("Health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Items ---

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item entity.Item
	if !decodeBody(w, r, &item) {
		return
	}
	item.ID = 0

	created, err := h.catalog.CreateItem(r.Context(), item)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListItems(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleCountItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	n, err := h.catalog.CountItems(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) handleFilterItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items, err := h.catalog.FilterItems(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	item, err := h.catalog.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch entity.ItemPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	n, err := h.catalog.UpdateItems(r.Context(), patch, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch entity.ItemPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := h.catalog.UpdateItem(r.Context(), id, patch); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReplaceItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var item entity.Item
	if !decodeBody(w, r, &item) {
		return
	}
	if err := h.catalog.ReplaceItem(r.Context(), id, item); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.catalog.DeleteItem(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var user entity.User
	if !decodeBody(w, r, &user) {
		return
	}
	user.ID = 0

	created, err := h.catalog.CreateUser(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.catalog.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// --- Orders ---

// CreateOrderRequest accepts the bulk shape {user_id, items:[...]} and the
// single-item shape {user_id, item_id, count}.
type CreateOrderRequest struct {
	UserID int64              `json:"user_id"`
	Items  []entity.OrderLine `json:"items"`
	ItemID *int64             `json:"item_id"`
	Count  *int               `json:"count"`
}

func (req CreateOrderRequest) command() (entity.PlaceOrder, error) {
	cmd := entity.PlaceOrder{UserID: req.UserID, Lines: req.Items}
	if req.ItemID == nil && req.Count == nil {
		return cmd, nil
	}
	if len(req.Items) > 0 {
		return entity.PlaceOrder{}, &entity.InvalidInputError{Field: "items", Reason: "use either items or item_id/count, not both"}
	}
	if req.ItemID == nil {
		return entity.PlaceOrder{}, &entity.InvalidInputError{Field: "item_id", Reason: "is required"}
	}
	line := entity.OrderLine{ItemID: *req.ItemID}
	if req.Count != nil {
		line.Count = *req.Count
	}
	cmd.Lines = []entity.OrderLine{line}
	return cmd, nil
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := req.command()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.orderSvc.PlaceOrder(r.Context(), cmd)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to place order", "user_id", cmd.UserID, "err", err)
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderSvc.GetOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	order, err := h.orderSvc.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleGetOrderEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.orderSvc.GetOrder(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	events, err := h.audit.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Helpers ---

type countResponse struct {
	Count int64 `json:"count"`
}

type ErrorResponse struct {
	Error   string                   `json:"error"`
	Message string                   `json:"message,omitempty"`
	Orders  []entity.OrderLineResult `json:"orders,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps the error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Message: err.Error()}
	var partial *entity.PartialOrderError
	if errors.As(err, &partial) {
		resp.Orders = partial.Created
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, entity.ErrInvalidInput):
		status, resp.Error = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, entity.ErrOutOfStock):
		status, resp.Error = http.StatusBadRequest, "out_of_stock"
	default:
		resp.Error = "internal_error"
		resp.Message = "internal server error"
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &entity.InvalidInputError{Field: "id", Reason: "must be an integer"}
	}
	return id, nil
}

func parseFilter(r *http.Request) (entity.ItemFilter, error) {
	q := r.URL.Query()
	filter := entity.ItemFilter{Name: q.Get("name")}

	var err error
	if filter.MinPrice, err = decimalParam(q.Get("minPrice"), "minPrice"); err != nil {
		return entity.ItemFilter{}, err
	}
	if filter.MaxPrice, err = decimalParam(q.Get("maxPrice"), "maxPrice"); err != nil {
		return entity.ItemFilter{}, err
	}
	if filter.MinStock, err = intParam(q.Get("minStock"), "minStock"); err != nil {
		return entity.ItemFilter{}, err
	}
	if filter.MaxStock, err = intParam(q.Get("maxStock"), "maxStock"); err != nil {
		return entity.ItemFilter{}, err
	}
	return filter, nil
}

func decimalParam(raw, field string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &entity.InvalidInputError{Field: field, Reason: "must be a number"}
	}
	return &d, nil
}

func intParam(raw, field string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &entity.InvalidInputError{Field: field, Reason: "must be an integer"}
	}
	return &n, nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
