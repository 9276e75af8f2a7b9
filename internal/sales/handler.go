package sales

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vitacare-erp/vitacare/internal/platform/httpx"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// Handler exposes order endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/restore", h.restoreOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

type cartLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	Unit      string  `json:"unit" validate:"required"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createOrderRequest struct {
	CustomerID  int64             `json:"customer_id"`
	WarehouseID int64             `json:"warehouse_id"`
	Note        string            `json:"note"`
	Lines       []cartLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineResponse struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	BatchID    int64   `json:"batch_id"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

type invoiceResponse struct {
	ID          int64          `json:"id"`
	CustomerID  int64          `json:"customer_id,omitempty"`
	WarehouseID int64          `json:"warehouse_id"`
	Status      InvoiceStatus  `json:"status"`
	TotalBill   float64        `json:"total_bill"`
	Note        string         `json:"note,omitempty"`
	Lines       []lineResponse `json:"lines"`
	CreatedAt   time.Time      `json:"created_at"`
}

func toInvoiceResponse(inv SaleInvoice) invoiceResponse {
	resp := invoiceResponse{
		ID:          inv.ID,
		CustomerID:  inv.CustomerID,
		WarehouseID: inv.WarehouseID,
		Status:      inv.Status,
		TotalBill:   inv.TotalBill,
		Note:        inv.Note,
		CreatedAt:   inv.CreatedAt,
		Lines:       make([]lineResponse, 0, len(inv.Lines)),
	}
	for _, l := range inv.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID: l.ID, ProductID: l.ProductID, BatchID: l.BatchID,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice, TotalPrice: l.TotalPrice,
		})
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", err.Error()))
		return
	}
	input := CreateOrderInput{
		CustomerID:  req.CustomerID,
		WarehouseID: req.WarehouseID,
		Note:        req.Note,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, CartLine{
			ProductID: l.ProductID, Quantity: l.Quantity, Unit: l.Unit, UnitPrice: l.UnitPrice,
		})
	}
	invoice, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(invoice))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter OrderFilter
	filter.CustomerID, _ = strconv.ParseInt(q.Get("customer_id"), 10, 64)
	filter.Status = InvoiceStatus(q.Get("status"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	invoices, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.service.CancelOrder(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("cancel order", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// restoreOrder credits the order's batches without changing its status.
// The walk is not idempotent, so the order must not already be cancelled.
func (h *Handler) restoreOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	restored, err := h.service.RestoreStockForOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("restore order", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": id, "restored": restored})
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteOrder(r.Context(), id, 0); err != nil {
		h.logger.Error("delete order", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func parseOrderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidation("id", "must be a positive integer")
	}
	return id, nil
}
