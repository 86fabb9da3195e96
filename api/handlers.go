/*
handlers.go - HTTP API handlers for the insurance tracker

PURPOSE:
  Exposes asset and policy management, renewal, import reconciliation,
  notification administration and the dashboard over REST. Handlers parse
  the request, delegate to the insurance Manager, the Importer or the
  notification Scheduler, and serialize the result.

ENDPOINTS:
  Assets:
    GET    /api/assets                  List assets with current policy and status
    POST   /api/assets                  Create asset (and first policy)
    PUT    /api/assets/{id}             Partial update of asset and latest policy
    DELETE /api/assets/{id}             Delete asset with its policies
    GET    /api/assets/{id}/history     Policy history, end date descending
    POST   /api/assets/{id}/renew       Archive current policy, create a new one
    GET    /api/assets/{id}/files       Attachments of the latest policy
    POST   /api/assets/{id}/files       Add attachment metadata

  Import:
    POST   /api/import/dry-run          Preview conflicts and new records
    POST   /api/import/commit           Apply with per-identifier resolutions

  Admin:
    GET    /api/admin/settings          Notification thresholds
    PUT    /api/admin/settings
    GET    /api/admin/recipients        ?assetId= for asset-scoped recipients
    POST   /api/admin/recipients
    DELETE /api/admin/recipients/{id}
    POST   /api/admin/notifications/run Run a notification sweep now
    GET    /api/policies/{id}/notifications  Sent stages of a policy

  Dashboard:
    GET    /api/dashboard

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with:
  - 400: Validation errors, malformed JSON
  - 404: Asset, policy or recipient not found
  - 409: Duplicate identifier, sweep already running
  - 500: Storage and other internal errors

SECURITY NOTE:
  No authentication. Put the service behind an authenticating proxy.

SEE ALSO:
  - dto.go: Response shapes
  - factory/request.go: Request bodies
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/insurance-tracker/factory"
	"github.com/warp/insurance-tracker/importer"
	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/logger"
	"github.com/warp/insurance-tracker/notify"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 16 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Manager   *insurance.Manager
	Importer  *importer.Importer
	Scheduler *notify.Scheduler // nil disables the manual sweep endpoint
	Logger    logger.Logger
	Now       func() time.Time
}

// NewHandler creates a handler. sched may be nil.
func NewHandler(m *insurance.Manager, sched *notify.Scheduler, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		Manager:   m,
		Importer:  importer.New(m, log),
		Scheduler: sched,
		Logger:    log,
		Now:       time.Now,
	}
}

// =============================================================================
// ASSET HANDLERS
// =============================================================================

// ListAssets returns every asset flattened with its current policy.
// GET /api/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	views, err := h.Manager.ListAssets(r.Context(), h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to fetch assets", err)
		return
	}

	dtos := make([]AssetDTO, len(views))
	for i, v := range views {
		dtos[i] = toAssetDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAsset creates an asset and, when a policy number is given, its
// first policy.
// POST /api/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req factory.CreateAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.ToInput(insurance.DateOf(h.Now()))
	if err != nil {
		h.writeDomainError(w, "Validation error", err)
		return
	}

	asset, err := h.Manager.CreateAsset(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to create asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// UpdateAsset applies a partial update.
// PUT /api/assets/{id}
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req factory.UpdateAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		h.writeDomainError(w, "Validation error", err)
		return
	}

	asset, err := h.Manager.UpdateAsset(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeDomainError(w, "Failed to update asset", err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// DeleteAsset removes an asset with its policies.
// DELETE /api/assets/{id}
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.DeleteAsset(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns every policy of the asset.
// GET /api/assets/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Manager.History(r.Context(), chi.URLParam(r, "id"), h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// RenewPolicy archives the current policy and creates the next version.
// POST /api/assets/{id}/renew
func (h *Handler) RenewPolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.RenewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.writeDomainError(w, "Validation error", err)
		return
	}

	result, err := h.Manager.RenewPolicy(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeDomainError(w, "Failed to renew policy", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListFiles returns attachments of the latest policy.
// GET /api/assets/{id}/files
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.Manager.ListAttachments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list files", err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// AddFiles records attachment metadata on the latest policy.
// POST /api/assets/{id}/files
func (h *Handler) AddFiles(w http.ResponseWriter, r *http.Request) {
	var req AddFilesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	files, err := h.Manager.AddAttachments(r.Context(), chi.URLParam(r, "id"), factory.ToAttachments(req.Files))
	if err != nil {
		h.writeDomainError(w, "Failed to upload files", err)
		return
	}
	writeJSON(w, http.StatusOK, FilesDTO{Files: files})
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// ImportDryRun previews an import.
// POST /api/import/dry-run
func (h *Handler) ImportDryRun(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.readImportBatch(w, r)
	if !ok {
		return
	}

	result, err := h.Importer.DryRun(r.Context(), batch.Records)
	if err != nil {
		h.writeDomainError(w, "Failed to preview import", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ImportCommit applies an import with the caller's resolutions.
// POST /api/import/commit
func (h *Handler) ImportCommit(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.readImportBatch(w, r)
	if !ok {
		return
	}
	resolutions, err := importer.ParseResolutions(batch.Resolutions)
	if err != nil {
		h.writeDomainError(w, "Validation error", err)
		return
	}

	result, err := h.Importer.Commit(r.Context(), batch.Records, resolutions)
	if err != nil {
		h.writeDomainError(w, "Failed to commit import", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) readImportBatch(w http.ResponseWriter, r *http.Request) (*factory.ImportBatch, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return nil, false
	}
	if err := validateImportPayload(body); err != nil {
		h.writeDomainError(w, "Validation error", err)
		return nil, false
	}
	batch, err := factory.ParseImportBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid import payload", err)
		return nil, false
	}
	return batch, true
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetSettings returns the notification thresholds.
// GET /api/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.GetSettings(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to fetch settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the thresholds. Missing fields take the defaults.
// PUT /api/admin/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.Manager.DefaultSettings
	if req.DefaultLeadDays != nil {
		s.DefaultLeadDays = *req.DefaultLeadDays
	}
	if req.FollowUpLeadDays != nil {
		s.FollowUpLeadDays = *req.FollowUpLeadDays
	}
	if req.DeadlineLeadDays != nil {
		s.DeadlineLeadDays = *req.DeadlineLeadDays
	}

	saved, err := h.Manager.UpdateSettings(r.Context(), s)
	if err != nil {
		h.writeDomainError(w, "Failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ListRecipients returns global recipients, or those of ?assetId=.
// GET /api/admin/recipients
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.Manager.ListRecipients(r.Context(), r.URL.Query().Get("assetId"))
	if err != nil {
		h.writeDomainError(w, "Failed to list recipients", err)
		return
	}
	writeJSON(w, http.StatusOK, recipients)
}

// AddRecipient registers a recipient.
// POST /api/admin/recipients
func (h *Handler) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var req RecipientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipient, err := h.Manager.AddRecipient(r.Context(), req.Email, req.AssetID)
	if err != nil {
		h.writeDomainError(w, "Failed to add recipient", err)
		return
	}
	writeJSON(w, http.StatusCreated, recipient)
}

// DeleteRecipient removes a recipient.
// DELETE /api/admin/recipients/{id}
func (h *Handler) DeleteRecipient(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.DeleteRecipient(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete recipient", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunNotifications runs a sweep synchronously and returns its report.
// POST /api/admin/notifications/run
func (h *Handler) RunNotifications(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Notification scheduler is not configured", nil)
		return
	}

	report, err := h.Scheduler.RunNow(r.Context())
	if errors.Is(err, notify.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "A notification sweep is already running", err)
		return
	}
	if err != nil {
		h.writeDomainError(w, "Notification sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPolicyNotifications returns the stages already sent for a policy.
// GET /api/policies/{id}/notifications
func (h *Handler) ListPolicyNotifications(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Manager.Store.ListNotifications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list notifications", insurance.WrapPersistence("list notifications", err))
		return
	}
	if entries == nil {
		entries = []insurance.NotificationLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// DASHBOARD
// =============================================================================

// GetDashboard returns portfolio totals, action items and cashflow.
// GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.Manager.Dashboard(r.Context(), h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeDomainError maps the insurance error taxonomy to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var verr *insurance.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation error", Details: verr.Fields})
	case errors.Is(err, insurance.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, insurance.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.Logger.WithError(err).Error(message, nil)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
