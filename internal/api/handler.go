package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/uptrace/bun"

	"ticket-ledger/internal/batch"
	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/identity"
	"ticket-ledger/internal/instance"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/redemption"
	"ticket-ledger/internal/store"
	"ticket-ledger/internal/transfer"
	"ticket-ledger/internal/utils"
)

type Handler struct {
	Batches   *batch.Service
	Instances *instance.Service
	Engine    *transfer.Engine
	Validator *redemption.Validator
	Directory *identity.DB
	Bun       *bun.DB
	Logger    *logger.Logger
}

// Routes mounts the boundary operations. Everything except registration and
// health requires an authenticated principal.
func (h *Handler) Routes(r chi.Router, authed func(http.Handler) http.Handler) {
	r.Get("/healthz", h.Health)
	r.Post("/principals", h.RegisterPrincipal)

	r.Group(func(r chi.Router) {
		r.Use(authed)

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Get("/", h.ListBatches)
			r.Post("/{batchID}/cancel", h.CancelBatch)
			r.Patch("/{batchID}/status", h.SetBatchStatus)
			r.Post("/{batchID}/purchase", h.PurchaseFromBatch)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", h.ListOwned)
			r.Post("/{instanceID}/resale", h.ListForResale)
			r.Post("/{instanceID}/purchase", h.PurchaseResale)
			r.Post("/{instanceID}/redeem", h.Redeem)
			r.Get("/{instanceID}/qr", h.Pass)
		})

		r.Get("/resales", h.ListResales)

		r.Post("/pos", h.AddPOS)
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Post("/pos", h.AddPOSForEvent)
			r.Post("/scanners", h.AddScanner)
		})

		r.Post("/admin/rebuild", h.Rebuild)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

func (h *Handler) RegisterPrincipal(w http.ResponseWriter, r *http.Request) {
	var reg identity.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	principal, err := h.Directory.Register(r.Context(), reg)
	if err != nil {
		h.writeError(w, "failed to register", err)
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("principal registered", principal))
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("unauthenticated", ""))
		return
	}
	var spec batch.CreateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	created, err := h.Batches.Create(r.Context(), principal, spec)
	if err != nil {
		h.writeError(w, "failed to create batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("batch created", created))
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid from date", err.Error()))
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid to date", err.Error()))
		return
	}
	batches, err := h.Batches.List(r.Context(), from, to)
	if err != nil {
		h.writeError(w, "failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("batches", batches))
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	cancelled, err := h.Batches.Cancel(r.Context(), principal, chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeError(w, "failed to cancel batch", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("batch cancelled", cancelled))
}

func (h *Handler) SetBatchStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	updated, err := h.Batches.SetStatus(r.Context(), principal, chi.URLParam(r, "batchID"), body.Status)
	if err != nil {
		h.writeError(w, "failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("status updated", updated))
}

func (h *Handler) PurchaseFromBatch(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	instances, err := h.Engine.PurchaseFromBatch(r.Context(), principal, chi.URLParam(r, "batchID"), body.Count)
	if err != nil {
		h.writeError(w, "purchase failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("tickets purchased", instances))
}

func (h *Handler) ListOwned(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	instances, err := h.Instances.OwnedBy(r.Context(), principal.ID)
	if err != nil {
		h.writeError(w, "failed to list tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("tickets", instances))
}

func (h *Handler) ListForResale(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	var body struct {
		Price int64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	listed, err := h.Engine.ListForResale(r.Context(), principal, chi.URLParam(r, "instanceID"), body.Price)
	if err != nil {
		h.writeError(w, "failed to list for resale", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("listed for resale", listed))
}

func (h *Handler) PurchaseResale(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	transferred, breakdown, err := h.Engine.PurchaseResale(r.Context(), principal, chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, "resale purchase failed", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("resale purchased", map[string]interface{}{
		"ticket":     transferred,
		"settlement": breakdown,
	}))
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	used, err := h.Validator.Redeem(r.Context(), principal, chi.URLParam(r, "instanceID"), body.Payload)
	if err != nil {
		h.writeError(w, "redemption failed", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket redeemed", used))
}

func (h *Handler) Pass(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	png, err := h.Validator.PassFor(r.Context(), principal, chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, "failed to render pass", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) ListResales(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	instances, err := h.Instances.ResalesExcluding(r.Context(), principal.ID)
	if err != nil {
		h.writeError(w, "failed to list resales", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("resale listings", instances))
}

func (h *Handler) AddPOS(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	principalID, ok := decodePrincipalID(w, r)
	if !ok {
		return
	}
	if err := h.Validator.AddPOS(r.Context(), principal, principalID); err != nil {
		h.writeError(w, "failed to add POS", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("POS added", nil))
}

func (h *Handler) AddPOSForEvent(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	principalID, ok := decodePrincipalID(w, r)
	if !ok {
		return
	}
	if err := h.Validator.AddPOSForEvent(r.Context(), principal, chi.URLParam(r, "eventID"), principalID); err != nil {
		h.writeError(w, "failed to add POS for event", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("POS assigned to event", nil))
}

func (h *Handler) AddScanner(w http.ResponseWriter, r *http.Request) {
	principal, _ := identity.FromContext(r.Context())
	principalID, ok := decodePrincipalID(w, r)
	if !ok {
		return
	}
	if err := h.Validator.AddScanner(r.Context(), principal, chi.URLParam(r, "eventID"), principalID); err != nil {
		h.writeError(w, "failed to add scanner", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("scanner assigned to event", nil))
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := store.Rebuild(r.Context(), h.Bun); err != nil {
		h.writeError(w, "rebuild failed", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("projections rebuilt from ledger", nil))
}

func decodePrincipalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		PrincipalID string `json:"principal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PrincipalID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("principal_id is required", ""))
		return "", false
	}
	return body.PrincipalID, true
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", message+": "+err.Error())
	}
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Date-only filters are the common case for event ranges.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
