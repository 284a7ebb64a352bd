// Package handler provides the HTTP handlers of the sync server.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/middleware"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/scope"
	"github.com/devrev/storesync/internal/service"
)

// maxPushBody bounds a push request body.
const maxPushBody = 8 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	reconciler   *service.ReconcilerService
	puller       *service.PullService
	catalog      *service.CatalogService
	partitioner  *scope.Partitioner
	errorHandler *errors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	reconciler *service.ReconcilerService,
	puller *service.PullService,
	catalog *service.CatalogService,
	partitioner *scope.Partitioner,
	errorHandler *errors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	return &Handlers{
		reconciler:   reconciler,
		puller:       puller,
		catalog:      catalog,
		partitioner:  partitioner,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// Push handles POST /sync/push requests.
func (h *Handlers) Push(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid push body: "+err.Error(), requestID)
		return
	}
	if req.ClientGroupID == "" {
		h.errorHandler.WriteValidationError(w, "client_group_id is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.reconciler.Push(ctx, session, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// Pull handles GET /sync/pull requests.
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := model.PullRequest{
		ClientGroupID: q.Get("client_group_id"),
		SpaceID:       q.Get("space_id"),
		SubspaceIDs:   q["subspace_id"],
	}
	if req.ClientGroupID == "" {
		h.errorHandler.WriteValidationError(w, "client_group_id is required", requestID)
		return
	}
	if raw := q.Get("since_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.errorHandler.WriteValidationError(w, "since_version must be an integer", requestID)
			return
		}
		req.SinceVersion = v
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorHandler.WriteValidationError(w, "limit must be a non-negative integer", requestID)
			return
		}
		req.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.puller.Pull(ctx, session, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// VariantByHandle handles GET /catalog/variants/{store_id}/{handle} requests.
func (h *Handlers) VariantByHandle(w http.ResponseWriter, r *http.Request) {
	token, ok := h.catalogScope(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	variant, err := h.catalog.VariantByHandle(ctx, token, vars["store_id"], vars["handle"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, variant)
}

// Record handles GET /catalog/records/{key} requests.
func (h *Handlers) Record(w http.ResponseWriter, r *http.Request) {
	token, ok := h.catalogScope(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	record, err := h.catalog.Record(ctx, token, mux.Vars(r)["key"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, record)
}

// catalogScope returns the scope a catalog read runs under: the current
// binding of client_group_id when given, otherwise the session's space
// narrowed to the requested subspaces. Catalog reads never rebind.
func (h *Handlers) catalogScope(w http.ResponseWriter, r *http.Request) (model.ScopeToken, bool) {
	session, ok := h.session(w, r)
	if !ok {
		return model.ScopeToken{}, false
	}
	q := r.URL.Query()

	if cg := q.Get("client_group_id"); cg != "" {
		token, bound := h.partitioner.Current(cg)
		if !bound {
			h.errorHandler.HandleError(w, r, errors.InvalidArgument("client group "+cg+" is not bound", nil))
			return model.ScopeToken{}, false
		}
		if token.SpaceID != session.SpaceID {
			h.errorHandler.HandleError(w, r, errors.ScopeViolation("", token.SpaceID))
			return model.ScopeToken{}, false
		}
		return token, true
	}

	subspaces := append([]string(nil), q["subspace_id"]...)
	sort.Strings(subspaces)
	return model.ScopeToken{
		UserID:      session.UserID,
		SpaceID:     session.SpaceID,
		SubspaceIDs: subspaces,
	}, true
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, errors.Unauthenticated("no session"))
		return model.Session{}, false
	}
	return s, true
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
