package web

import (
	"net/http"

	"stores-engine/internal/app"
	"stores-engine/internal/core"
)

type requestApprovalBody struct {
	LineID int `json:"line_id"`
}

// requestApproval handles POST /api/reserve-approvals.
func (h *Handler) requestApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body requestApprovalBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.RequestReserveApproval(r.Context(), body.LineID, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// approveReserve handles POST /api/reserve-approvals/{id}/approve.
func (h *Handler) approveReserve(w http.ResponseWriter, r *http.Request) {
	h.decideReserve(w, r, true)
}

// rejectReserve handles POST /api/reserve-approvals/{id}/reject.
func (h *Handler) rejectReserve(w http.ResponseWriter, r *http.Request) {
	h.decideReserve(w, r, false)
}

func (h *Handler) decideReserve(w http.ResponseWriter, r *http.Request, approve bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid approval id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body reasonBody
	if !approve {
		if !decodeBody(w, r, &body) {
			return
		}
	}
	result, err := h.svc.DecideReserveApproval(r.Context(), app.DecideReserveRequest{
		ApprovalID: id,
		Approve:    approve,
		Reason:     body.Reason,
		Actor:      actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// listPendingApprovals handles GET /api/reserve-approvals.
func (h *Handler) listPendingApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.svc.ListPendingReserveApprovals(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if approvals == nil {
		approvals = []core.ReserveApproval{}
	}
	writeJSON(w, approvals)
}
