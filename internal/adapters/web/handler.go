package web

import (
	"net/http"

	"stores-engine/internal/app"

	"github.com/go-chi/chi/v5"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes. Callers are
// identified by the X-Actor-ID and X-Actor-Role headers set by the upstream
// gateway; this service performs role checks but no authentication.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)
	r.Get("/api/schemas", h.schemas)

	// ── Documents ─────────────────────────────────────────────────────────
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", h.createDocument)
		r.Get("/", h.listDocuments)
		r.Get("/{id}", h.getDocument)
		r.Post("/{id}/submit", h.submitDocument)
		r.Post("/{id}/approve", h.approveDocument)
		r.Post("/{id}/reject", h.rejectDocument)
		r.Post("/{id}/reserve", h.reserveDocument)
		r.Post("/{id}/issue", h.issueDocument)
		r.Post("/{id}/receive", h.receiveDocument)
		r.Post("/{id}/cancel", h.cancelDocument)
	})

	// ── Commander's reserve gate ──────────────────────────────────────────
	r.Route("/api/reserve-approvals", func(r chi.Router) {
		r.Get("/", h.listPendingApprovals)
		r.Post("/", h.requestApproval)
		r.Post("/{id}/approve", h.approveReserve)
		r.Post("/{id}/reject", h.rejectReserve)
	})

	// ── Inventory ─────────────────────────────────────────────────────────
	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/availability", h.availability)
		r.Get("/record", h.inventoryRecord)
		r.Get("/levels", h.stockLevels)
		r.Put("/thresholds", h.setThresholds)
		r.Post("/adjust", h.adjustStock)
	})

	// ── Custody ───────────────────────────────────────────────────────────
	r.Route("/api/custody", func(r chi.Router) {
		r.Post("/", h.issueCustody)
		r.Get("/overdue", h.overdueCustody)
		r.Get("/aging", h.custodyAging)
		r.Get("/workers/{id}", h.workerCustody)
		r.Post("/{id}/return", h.returnCustody)
		r.Post("/{id}/consume", h.consumeCustody)
		r.Post("/{id}/transfer", h.transferCustody)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) schemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, app.CommandSchemas())
}
