package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"stores-engine/internal/app"
	"stores-engine/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// actorFromRequest builds the acting user from the gateway-set headers.
func actorFromRequest(r *http.Request) (core.Actor, bool) {
	id, err := strconv.Atoi(r.Header.Get("X-Actor-ID"))
	if err != nil || id <= 0 {
		return core.Actor{}, false
	}
	role := core.Role(r.Header.Get("X-Actor-Role"))
	if !role.Satisfies(core.RoleStorekeeper) {
		return core.Actor{}, false
	}
	return core.Actor{ID: id, Role: role}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (core.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, "missing or invalid actor headers", "UNAUTHENTICATED", http.StatusUnauthorized)
	}
	return actor, ok
}

func idParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, "invalid request body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

type createDocumentBody struct {
	Type            string  `json:"type"`
	Priority        string  `json:"priority"`
	WarehouseID     int     `json:"warehouse_id"`
	DestWarehouseID *int    `json:"dest_warehouse_id,omitempty"`
	ProjectCode     *string `json:"project_code,omitempty"`
	Notes           string  `json:"notes"`
	Lines           []struct {
		ItemID              int             `json:"item_id"`
		Quantity            decimal.Decimal `json:"quantity"`
		UseCommanderReserve bool            `json:"use_commander_reserve"`
		ReserveQty          decimal.Decimal `json:"reserve_qty"`
	} `json:"lines"`
}

// createDocument handles POST /api/documents.
func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body createDocumentBody
	if !decodeBody(w, r, &body) {
		return
	}

	req := app.CreateDocumentRequest{
		Type:            core.DocumentType(body.Type),
		Priority:        core.Priority(body.Priority),
		WarehouseID:     body.WarehouseID,
		DestWarehouseID: body.DestWarehouseID,
		ProjectCode:     body.ProjectCode,
		Notes:           body.Notes,
		Actor:           actor,
	}
	for _, l := range body.Lines {
		req.Lines = append(req.Lines, app.DocumentLineInput{
			ItemID:              l.ItemID,
			Quantity:            l.Quantity,
			UseCommanderReserve: l.UseCommanderReserve,
			ReserveQty:          l.ReserveQty,
		})
	}

	result, err := h.svc.CreateDocument(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// listDocuments handles GET /api/documents.
func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	var filter core.DocumentFilter
	q := r.URL.Query()
	if raw := q.Get("warehouse_id"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			filter.WarehouseID = &id
		}
	}
	if raw := q.Get("type"); raw != "" {
		t := core.DocumentType(raw)
		filter.Type = &t
	}
	if raw := q.Get("status"); raw != "" {
		s := core.DocumentStatus(raw)
		filter.Status = &s
	}
	if raw := q.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}

	result, err := h.svc.ListDocuments(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// getDocument handles GET /api/documents/{id}.
func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid document id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) submitDocument(w http.ResponseWriter, r *http.Request) {
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.SubmitDocument(r.Context(), id, actor)
	})
}

type reasonBody struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (h *Handler) approveDocument(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.ApproveDocument(r.Context(), id, body.Notes, actor)
	})
}

func (h *Handler) rejectDocument(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if !decodeBody(w, r, &body) {
		return
	}
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.RejectDocument(r.Context(), id, body.Reason, actor)
	})
}

func (h *Handler) reserveDocument(w http.ResponseWriter, r *http.Request) {
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.ReserveDocumentStock(r.Context(), id, actor)
	})
}

type issueBody struct {
	AllowPartial bool `json:"allow_partial"`
}

func (h *Handler) issueDocument(w http.ResponseWriter, r *http.Request) {
	var body issueBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.IssueDocument(r.Context(), id, body.AllowPartial, actor)
	})
}

func (h *Handler) receiveDocument(w http.ResponseWriter, r *http.Request) {
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.ReceiveDocument(r.Context(), id, actor)
	})
}

func (h *Handler) cancelDocument(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	h.docAction(w, r, func(id int, actor core.Actor) (any, error) {
		return h.svc.CancelDocument(r.Context(), id, body.Reason, actor)
	})
}

// docAction factors the shared id/actor plumbing of the lifecycle endpoints.
func (h *Handler) docAction(w http.ResponseWriter, r *http.Request, fn func(id int, actor core.Actor) (any, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r)
	if !ok {
		writeError(w, r, "invalid document id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := fn(id, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
