package web

import (
	"context"
	"net/http"
	"time"

	"stores-engine/internal/app"
	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

type issueCustodyBody struct {
	WorkerID    int             `json:"worker_id"`
	Department  string          `json:"department"`
	ItemID      int             `json:"item_id"`
	WarehouseID int             `json:"warehouse_id"`
	Qty         decimal.Decimal `json:"qty"`
	LimitDays   int             `json:"limit_days"`
}

// issueCustody handles POST /api/custody.
func (h *Handler) issueCustody(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body issueCustodyBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.IssueCustody(r.Context(), app.IssueCustodyRequest{
		WorkerID:    body.WorkerID,
		Department:  body.Department,
		ItemID:      body.ItemID,
		WarehouseID: body.WarehouseID,
		Qty:         body.Qty,
		LimitDays:   body.LimitDays,
		Actor:       actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

type custodyQtyBody struct {
	Qty decimal.Decimal `json:"qty"`
}

// returnCustody handles POST /api/custody/{id}/return.
func (h *Handler) returnCustody(w http.ResponseWriter, r *http.Request) {
	h.custodyQtyAction(w, r, h.svc.ReturnCustody)
}

// consumeCustody handles POST /api/custody/{id}/consume.
func (h *Handler) consumeCustody(w http.ResponseWriter, r *http.Request) {
	h.custodyQtyAction(w, r, h.svc.ConsumeCustody)
}

func (h *Handler) custodyQtyAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, custodyID int, qty decimal.Decimal, actor core.Actor) (*app.CustodyResult, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid custody id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body custodyQtyBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := fn(r.Context(), id, body.Qty, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

type transferCustodyBody struct {
	ToWorkerID   int    `json:"to_worker_id"`
	ToDepartment string `json:"to_department"`
}

// transferCustody handles POST /api/custody/{id}/transfer.
func (h *Handler) transferCustody(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid custody id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body transferCustodyBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.TransferCustody(r.Context(), app.TransferCustodyRequest{
		CustodyID:    id,
		ToWorkerID:   body.ToWorkerID,
		ToDepartment: body.ToDepartment,
		Actor:        actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// workerCustody handles GET /api/custody/workers/{id}.
func (h *Handler) workerCustody(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid worker id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	results, err := h.svc.GetWorkerCustody(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, results)
}

// overdueCustody handles GET /api/custody/overdue.
func (h *Handler) overdueCustody(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.GetOverdueCustody(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, results)
}

// custodyAging handles GET /api/custody/aging?warehouse_id=.
func (h *Handler) custodyAging(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := intQuery(r, "warehouse_id")
	if !ok {
		writeError(w, r, "warehouse_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	buckets, err := h.svc.GetCustodyAging(r.Context(), warehouseID, time.Now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, buckets)
}
