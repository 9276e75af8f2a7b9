package catalog

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

// Handler exposes catalog endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/convert", h.convert)
	r.Post("/{id}/recompute", h.recompute)
}

type convertRequest struct {
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
	Unit     string `json:"unit" validate:"required"`
}

type variantResponse struct {
	Unit     string  `json:"unit"`
	Ratio    int64   `json:"ratio"`
	Price    float64 `json:"price"`
	Position int     `json:"position"`
}

type productResponse struct {
	ID            int64             `json:"id"`
	SKU           string            `json:"sku"`
	Name          string            `json:"name"`
	Category      string            `json:"category,omitempty"`
	Variants      []variantResponse `json:"variants"`
	StockBaseQty  int64             `json:"stock_base_qty"`
	NearestExpiry *time.Time        `json:"nearest_expiry,omitempty"`
}

func toProductResponse(p Product) productResponse {
	resp := productResponse{
		ID:            p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		Category:      p.Category,
		StockBaseQty:  p.StockBaseQty,
		NearestExpiry: p.NearestExpiry,
		Variants:      make([]variantResponse, 0, len(p.Variants)),
	}
	for _, v := range p.Variants {
		resp.Variants = append(resp.Variants, variantResponse{
			Unit: v.Unit, Ratio: v.Ratio, Price: v.Price, Position: v.Position,
		})
	}
	return resp
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	products, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req convertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", err.Error()))
		return
	}
	conv, err := h.service.ConvertToBase(r.Context(), id, req.Quantity, req.Unit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    conv.ProductID,
		"unit":          conv.Unit,
		"base_unit":     conv.BaseUnit,
		"ratio":         conv.Ratio,
		"base_quantity": conv.BaseQuantity,
		"unit_price":    conv.UnitPrice,
	})
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RecomputeStockSummary(r.Context(), id); err != nil {
		h.logger.Error("recompute stock summary", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "recomputed"})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidation("id", "must be a positive integer")
	}
	return id, nil
}
