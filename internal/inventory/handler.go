package inventory

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

const dateLayout = "2006-01-02"

// Handler exposes ledger and transfer endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.listBatches)
		r.Post("/", h.createBatch)
		r.Post("/bulk", h.bulkCreateBatches)
		r.Get("/{id}", h.getBatch)
		r.Patch("/{id}", h.updateBatch)
		r.Delete("/{id}", h.deleteBatch)
	})
	r.Get("/products/{id}/batches", h.productBatches)
	r.Get("/warehouses/{id}/stock", h.warehouseStock)
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.listTransfers)
		r.Post("/", h.createTransfer)
		r.Get("/{id}", h.getTransfer)
		r.Post("/{id}/complete", h.completeTransfer)
		r.Post("/{id}/cancel", h.cancelTransfer)
		r.Delete("/{id}", h.deleteTransfer)
	})
}

type batchRequest struct {
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID     int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity        int64  `json:"quantity" validate:"required,gt=0"`
	Unit            string `json:"unit" validate:"required"`
	ManufactureDate string `json:"manufacture_date" validate:"required"`
	ExpiryDate      string `json:"expiry_date" validate:"required"`
}

func (req batchRequest) toInput() (CreateBatchInput, error) {
	mfg, err := time.Parse(dateLayout, req.ManufactureDate)
	if err != nil {
		return CreateBatchInput{}, shared.NewValidation("manufacture_date", "expected YYYY-MM-DD")
	}
	exp, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		return CreateBatchInput{}, shared.NewValidation("expiry_date", "expected YYYY-MM-DD")
	}
	return CreateBatchInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		Quantity:        req.Quantity,
		Unit:            req.Unit,
		ManufactureDate: mfg,
		ExpiryDate:      exp,
	}, nil
}

type batchResponse struct {
	ID               int64     `json:"id"`
	ProductID        int64     `json:"product_id"`
	WarehouseID      int64     `json:"warehouse_id"`
	Quantity         int64     `json:"quantity"`
	RemainingQty     int64     `json:"remaining_qty"`
	BaseUnit         string    `json:"base_unit"`
	ManufactureDate  string    `json:"manufacture_date"`
	ExpiryDate       string    `json:"expiry_date"`
	OriginInvoiceID  string    `json:"origin_invoice_id,omitempty"`
	OriginTransferID int64     `json:"origin_transfer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toBatchResponse(b Batch) batchResponse {
	return batchResponse{
		ID:               b.ID,
		ProductID:        b.ProductID,
		WarehouseID:      b.WarehouseID,
		Quantity:         b.Quantity,
		RemainingQty:     b.RemainingQty,
		BaseUnit:         b.BaseUnit,
		ManufactureDate:  b.ManufactureDate.Format(dateLayout),
		ExpiryDate:       b.ExpiryDate.Format(dateLayout),
		OriginInvoiceID:  b.OriginInvoiceID,
		OriginTransferID: b.OriginTransferID,
		CreatedAt:        b.CreatedAt,
	}
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", err.Error()))
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), input)
	if err != nil {
		h.logger.Error("create batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatchResponse(batch))
}

func (h *Handler) bulkCreateBatches(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Batches []batchRequest `json:"batches" validate:"required,min=1,dive"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", err.Error()))
		return
	}
	inputs := make([]CreateBatchInput, 0, len(req.Batches))
	for _, b := range req.Batches {
		input, err := b.toInput()
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		inputs = append(inputs, input)
	}
	batches, err := h.service.BulkCreateBatches(r.Context(), inputs)
	if err != nil {
		h.logger.Error("bulk create batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batches": out})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter BatchFilter
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.OnlyInStock = q.Get("in_stock") == "true"
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

func (h *Handler) updateBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req struct {
		Quantity        *int64  `json:"quantity"`
		ManufactureDate *string `json:"manufacture_date"`
		ExpiryDate      *string `json:"expiry_date"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	input := UpdateBatchInput{BatchID: id, Quantity: req.Quantity}
	if req.ManufactureDate != nil {
		mfg, err := time.Parse(dateLayout, *req.ManufactureDate)
		if err != nil {
			httpx.RespondError(w, shared.NewValidation("manufacture_date", "expected YYYY-MM-DD"))
			return
		}
		input.ManufactureDate = &mfg
	}
	if req.ExpiryDate != nil {
		exp, err := time.Parse(dateLayout, *req.ExpiryDate)
		if err != nil {
			httpx.RespondError(w, shared.NewValidation("expiry_date", "expected YYYY-MM-DD"))
			return
		}
		input.ExpiryDate = &exp
	}
	batch, err := h.service.UpdateBatch(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

func (h *Handler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteBatch(r.Context(), id, 0); err != nil {
		h.logger.Error("delete batch", slog.Int64("batch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) productBatches(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := BatchFilter{ProductID: id}
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.OnlyInStock = q.Get("in_stock") == "true"

	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.logger.Error("product batches", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "batches": out})
}

func (h *Handler) warehouseStock(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.GetWarehouseStock(r.Context(), id)
	if err != nil {
		h.logger.Error("warehouse stock", slog.Int64("warehouse_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouse_id": id, "stock": entries})
}

type transferRequest struct {
	SourceID      int64  `json:"source_id" validate:"required,gt=0"`
	DestinationID int64  `json:"destination_id" validate:"required,gt=0"`
	Note          string `json:"note"`
	Lines         []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Quantity  int64 `json:"quantity" validate:"required,gt=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

type transferResponse struct {
	ID            int64          `json:"id"`
	SourceID      int64          `json:"source_id"`
	DestinationID int64          `json:"destination_id"`
	Status        TransferStatus `json:"status"`
	Note          string         `json:"note,omitempty"`
	Lines         []TransferLine `json:"lines"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

func toTransferResponse(t Transfer) transferResponse {
	return transferResponse{
		ID:            t.ID,
		SourceID:      t.SourceID,
		DestinationID: t.DestinationID,
		Status:        t.Status,
		Note:          t.Note,
		Lines:         t.Lines,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", err.Error()))
		return
	}
	input := CreateTransferInput{
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Note:          req.Note,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, TransferLineInput{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	transfer, err := h.service.CreateTransfer(r.Context(), input)
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(transfer))
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	transfers, err := h.service.ListTransfers(r.Context(), TransferStatus(q.Get("status")), limit, offset)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer))
}

func (h *Handler) completeTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.CompleteTransfer(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("complete transfer", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer))
}

func (h *Handler) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.CancelTransfer(r.Context(), id, 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer))
}

func (h *Handler) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteTransfer(r.Context(), id, 0); err != nil {
		h.logger.Error("delete transfer", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func parsePathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidation("id", "must be a positive integer")
	}
	return id, nil
}
