package web

import (
	"encoding/json"
	"net/http"
	"time"

	"medsupply/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handler wires the ledger services into a JSON API.
type Handler struct {
	ledger    core.LedgerService
	stock     core.StockService
	catalog   core.CatalogService
	reporting core.ReportingService
	router    chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(ledger core.LedgerService, stock core.StockService,
	catalog core.CatalogService, reporting core.ReportingService,
	allowedOrigins string) http.Handler {

	h := &Handler{ledger: ledger, stock: stock, catalog: catalog, reporting: reporting}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	// Catalog
	r.Post("/api/items", h.createItem)
	r.Get("/api/items/{code}", h.getItem)
	r.Post("/api/locations", h.createLocation)
	r.Get("/api/locations/{code}", h.getLocation)

	// Ledger operations
	r.Post("/api/transactions", h.postTransaction)
	r.Post("/api/transfers", h.postTransfer)
	r.Post("/api/adjustments", h.postAdjustment)
	r.Post("/api/reservations", h.postReservation)
	r.Post("/api/reservations/release", h.postRelease)

	// Read-only projections
	r.Get("/api/stock", h.stockLevels)
	r.Get("/api/items/{code}/history", h.itemHistory)
	r.Get("/api/reports/summary", h.itemSummaries)
	r.Get("/api/reports/low-stock", h.lowStock)
	r.Get("/api/reports/activity", h.activity)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// ── Catalog ───────────────────────────────────────────────────────────────────

type createItemRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Unit         string `json:"unit,omitempty"`
	IsLotTracked bool   `json:"is_lot_tracked,omitempty"`
	IsSerialized bool   `json:"is_serialized,omitempty"`
	HasExpiry    bool   `json:"has_expiry,omitempty"`
	ReorderPoint int64  `json:"reorder_point,omitempty"`
	AverageCost  string `json:"average_cost,omitempty"` // decimal string
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	in := core.CreateItemInput{
		Code:         req.Code,
		Name:         req.Name,
		Unit:         req.Unit,
		IsLotTracked: req.IsLotTracked,
		IsSerialized: req.IsSerialized,
		HasExpiry:    req.HasExpiry,
		ReorderPoint: req.ReorderPoint,
	}
	if req.AverageCost != "" {
		cost, err := decimal.NewFromString(req.AverageCost)
		if err != nil {
			writeError(w, r, "average_cost is not a valid decimal", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		in.AverageCost = cost
	}

	item, err := h.catalog.CreateItem(r.Context(), in)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, item)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req core.CreateLocationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	loc, err := h.catalog.CreateLocation(r.Context(), req)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, loc)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.catalog.GetLocation(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, loc)
}

// ── Write operations ──────────────────────────────────────────────────────────

type postTransactionRequest struct {
	Type           string `json:"type"`
	ItemCode       string `json:"item_code"`
	Quantity       int64  `json:"quantity"`
	FromLocation   string `json:"from_location,omitempty"`
	ToLocation     string `json:"to_location,omitempty"`
	LotNumber      string `json:"lot_number,omitempty"`
	SerialNumber   string `json:"serial_number,omitempty"`
	UnitCost       string `json:"unit_cost,omitempty"`        // decimal string
	ExpirationDate string `json:"expiration_date,omitempty"`  // YYYY-MM-DD
	Reason         string `json:"reason,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	PerformedBy    string `json:"performed_by"`
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req postTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	in := core.PostInput{
		Type:             core.TransactionType(req.Type),
		ItemCode:         req.ItemCode,
		Quantity:         req.Quantity,
		FromLocationCode: req.FromLocation,
		ToLocationCode:   req.ToLocation,
		LotNumber:        req.LotNumber,
		SerialNumber:     req.SerialNumber,
		Reason:           req.Reason,
		Notes:            req.Notes,
		IdempotencyKey:   req.IdempotencyKey,
		PerformedBy:      req.PerformedBy,
	}

	if req.UnitCost != "" {
		cost, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			writeError(w, r, "unit_cost is not a valid decimal", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		in.UnitCost = &cost
	}
	if req.ExpirationDate != "" {
		exp, err := time.Parse("2006-01-02", req.ExpirationDate)
		if err != nil {
			writeError(w, r, "expiration_date must be YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		in.ExpirationDate = &exp
	}

	txn, err := h.ledger.Post(r.Context(), in)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, txn)
}

type transferRequest struct {
	ItemCode     string `json:"item_code"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
	Quantity     int64  `json:"quantity"`
	LotNumber    string `json:"lot_number,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Reason       string `json:"reason,omitempty"`
	PerformedBy  string `json:"performed_by"`
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.stock.Transfer(r.Context(), core.TransferInput{
		ItemCode:         req.ItemCode,
		FromLocationCode: req.FromLocation,
		ToLocationCode:   req.ToLocation,
		Quantity:         req.Quantity,
		LotNumber:        req.LotNumber,
		SerialNumber:     req.SerialNumber,
		Reason:           req.Reason,
		PerformedBy:      req.PerformedBy,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, result)
}

type adjustmentRequest struct {
	ItemCode     string `json:"item_code"`
	Location     string `json:"location"`
	NewQtyOnHand int64  `json:"new_qty_on_hand"`
	Reason       string `json:"reason"`
	PerformedBy  string `json:"performed_by"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	txn, err := h.stock.Adjust(r.Context(), core.AdjustInput{
		ItemCode:     req.ItemCode,
		LocationCode: req.Location,
		NewQtyOnHand: req.NewQtyOnHand,
		Reason:       req.Reason,
		PerformedBy:  req.PerformedBy,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, txn)
}

type reservationRequest struct {
	ItemCode     string `json:"item_code"`
	Location     string `json:"location"`
	LotNumber    string `json:"lot_number,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Quantity     int64  `json:"quantity"`
}

func (h *Handler) postReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	err := h.stock.Reserve(r.Context(), core.ReserveInput{
		ItemCode:     req.ItemCode,
		LocationCode: req.Location,
		LotNumber:    req.LotNumber,
		SerialNumber: req.SerialNumber,
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "reserved"})
}

func (h *Handler) postRelease(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	err := h.stock.Release(r.Context(), core.ReleaseInput{
		ItemCode:     req.ItemCode,
		LocationCode: req.Location,
		LotNumber:    req.LotNumber,
		SerialNumber: req.SerialNumber,
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "released"})
}

// ── Read-only projections ─────────────────────────────────────────────────────

func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.stock.GetStockLevels(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, levels)
}

func (h *Handler) itemHistory(w http.ResponseWriter, r *http.Request) {
	txns, err := h.reporting.GetItemHistory(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, txns)
}

func (h *Handler) itemSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.reporting.GetItemSummaries(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, summaries)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.reporting.GetLowStockItems(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, summaries)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	lines, err := h.reporting.GetActivity(r.Context(),
		r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, lines)
}
