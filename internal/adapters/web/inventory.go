package web

import (
	"net/http"
	"strconv"

	"stores-engine/internal/app"

	"github.com/shopspring/decimal"
)

func intQuery(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	return v, err == nil && v > 0
}

// availability handles GET /api/inventory/availability?item_id=&warehouse_id=.
func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	itemID, ok1 := intQuery(r, "item_id")
	warehouseID, ok2 := intQuery(r, "warehouse_id")
	if !ok1 || !ok2 {
		writeError(w, r, "item_id and warehouse_id are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	avail, err := h.svc.CheckAvailability(r.Context(), itemID, warehouseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, avail)
}

// inventoryRecord handles GET /api/inventory/record?item_id=&warehouse_id=.
func (h *Handler) inventoryRecord(w http.ResponseWriter, r *http.Request) {
	itemID, ok1 := intQuery(r, "item_id")
	warehouseID, ok2 := intQuery(r, "warehouse_id")
	if !ok1 || !ok2 {
		writeError(w, r, "item_id and warehouse_id are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	rec, err := h.svc.GetInventoryRecord(r.Context(), itemID, warehouseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// stockLevels handles GET /api/inventory/levels?warehouse_id=.
func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := intQuery(r, "warehouse_id")
	if !ok {
		writeError(w, r, "warehouse_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetStockLevels(r.Context(), warehouseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

type thresholdsBody struct {
	ItemID       int             `json:"item_id"`
	WarehouseID  int             `json:"warehouse_id"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	MinReserve   decimal.Decimal `json:"min_reserve"`
}

// setThresholds handles PUT /api/inventory/thresholds.
func (h *Handler) setThresholds(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body thresholdsBody
	if !decodeBody(w, r, &body) {
		return
	}
	err := h.svc.SetStockThresholds(r.Context(), app.SetThresholdsRequest{
		ItemID:       body.ItemID,
		WarehouseID:  body.WarehouseID,
		ReorderPoint: body.ReorderPoint,
		MinReserve:   body.MinReserve,
		Actor:        actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "updated"})
}

type adjustBody struct {
	ItemID      int             `json:"item_id"`
	WarehouseID int             `json:"warehouse_id"`
	GeneralQty  decimal.Decimal `json:"general_qty"`
	ReserveQty  decimal.Decimal `json:"reserve_qty"`
	Reason      string          `json:"reason"`
}

// adjustStock handles POST /api/inventory/adjust.
func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body adjustBody
	if !decodeBody(w, r, &body) {
		return
	}
	rec, err := h.svc.AdjustStock(r.Context(), app.AdjustStockRequest{
		ItemID:      body.ItemID,
		WarehouseID: body.WarehouseID,
		GeneralQty:  body.GeneralQty,
		ReserveQty:  body.ReserveQty,
		Reason:      body.Reason,
		Actor:       actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rec)
}
