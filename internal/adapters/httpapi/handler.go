package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/doctrail/internal/core/actor"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	tenantIDCtxKey  ctxKey = "tenant_id"
	maxJSONBodySize        = 1 << 20
)

type Handler struct {
	docs    *usecase.DocumentService
	schemas *usecase.SchemaService
	auth    *usecase.AuthService

	log      logrus.FieldLogger
	gatherer prometheus.Gatherer
}

type HandlerOption func(*Handler)

func WithLogger(log logrus.FieldLogger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics serves the gatherer's metrics at /metrics.
func WithMetrics(g prometheus.Gatherer) HandlerOption {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func NewHandler(docs *usecase.DocumentService, schemas *usecase.SchemaService, auth *usecase.AuthService, opts ...HandlerOption) *Handler {
	h := &Handler{docs: docs, schemas: schemas, auth: auth, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)

		pr.Get("/v1/collections/{collection}/records", h.listDocuments)
		pr.Put("/v1/collections/{collection}/records/{id}", h.putDocument)
		pr.Patch("/v1/collections/{collection}/records/{id}", h.patchDocument)
		pr.Get("/v1/collections/{collection}/records/{id}", h.getDocument)
		pr.Delete("/v1/collections/{collection}/records/{id}", h.deleteDocument)
		pr.Post("/v1/collections/{collection}/records/{id}/soft-delete", h.softDeleteDocument)
		pr.Post("/v1/collections/{collection}/records/{id}/restore", h.restoreDocument)

		pr.Post("/v1/collections/{collection}/records:delete-one", h.deleteWhere(false))
		pr.Post("/v1/collections/{collection}/records:delete-many", h.deleteWhere(true))
		pr.Post("/v1/collections/{collection}/records:update-one", h.updateWhere(false))
		pr.Post("/v1/collections/{collection}/records:update-many", h.updateWhere(true))

		pr.Put("/v1/collections/{collection}/schema", h.putSchema)
		pr.Get("/v1/collections/{collection}/schema", h.getSchema)
		pr.Delete("/v1/collections/{collection}/schema", h.deleteSchema)
	})

	return r
}

type documentResponse struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

type patchRequest struct {
	Set   map[string]any `json:"set"`
	Unset []string       `json:"unset"`
}

type criteriaFilter struct {
	Prefix string `json:"prefix"`
	After  string `json:"after"`
	Limit  int    `json:"limit"`
	domain.JSONPathFilter
}

type deleteWhereRequest struct {
	Filter criteriaFilter `json:"filter"`
}

type updateWhereRequest struct {
	Filter criteriaFilter `json:"filter"`
	Patch  domain.Patch   `json:"patch"`
}

type schemaResponse struct {
	Collection string          `json:"collection"`
	Schema     json.RawMessage `json:"schema"`
	UpdatedBy  string          `json:"updated_by,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

func (h *Handler) putDocument(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decodeBody(w, r, &fields, false) {
		return
	}
	if fields == nil {
		writeError(w, http.StatusBadRequest, "body must be a json object")
		return
	}

	doc, created, err := h.docs.Put(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), fields)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDocumentResponse(doc))
}

func (h *Handler) patchDocument(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if len(req.Set) == 0 && len(req.Unset) == 0 {
		writeError(w, http.StatusBadRequest, "patch must set or unset at least one path")
		return
	}

	doc, err := h.docs.Patch(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), req.Set, req.Unset)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.docs.Delete(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) softDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.SoftDelete(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) restoreDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Restore(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	docs, err := h.docs.List(r.Context(), domain.Query{
		TenantID:   tenantIDFromContext(r.Context()),
		Collection: chi.URLParam(r, "collection"),
		Prefix:     q.Get("prefix"),
		After:      q.Get("after"),
		Limit:      limit,
		JSON: domain.JSONPathFilter{
			Path:  q.Get("path"),
			Op:    q.Get("op"),
			Value: q.Get("value"),
		},
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	result := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		result = append(result, toDocumentResponse(doc))
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) deleteWhere(many bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteWhereRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		n, err := h.docs.DeleteWhere(r.Context(), criteria(r, req.Filter), many)
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func (h *Handler) updateWhere(many bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateWhereRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		n, err := h.docs.UpdateWhere(r.Context(), criteria(r, req.Filter), req.Patch, many)
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	}
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	schema, err := h.schemas.Upsert(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"), body)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.schemas.Get(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.schemas.Delete(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "collection"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

// requireAPIKey authenticates the request and binds its tenant and actor.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		principal, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.log.WithError(err).Error("authenticate api key")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDCtxKey, principal.TenantID)
		ctx = actor.WithID(ctx, principal.ActorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

func criteria(r *http.Request, f criteriaFilter) domain.Query {
	return domain.Query{
		TenantID:   tenantIDFromContext(r.Context()),
		Collection: chi.URLParam(r, "collection"),
		Prefix:     f.Prefix,
		After:      f.After,
		Limit:      f.Limit,
		JSON:       f.JSONPathFilter,
	}
}

func toDocumentResponse(doc *domain.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		Collection: doc.Collection,
		Data:       doc.Fields(),
		CreatedAt:  doc.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:  doc.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toSchemaResponse(s domain.CollectionSchema) schemaResponse {
	return schemaResponse{
		Collection: s.Collection,
		Schema:     s.Schema,
		UpdatedBy:  s.UpdatedBy,
		CreatedAt:  s.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:  s.UpdatedAt.UTC().Format(timeFormat),
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

// decodeBody reads exactly one JSON value into dst and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Error("encode json response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Debug("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "schema validation failed",
			"errors": violation.Errors,
		})
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidPath),
		errors.Is(err, domain.ErrInvalidPatch),
		errors.Is(err, domain.ErrInvalidSchema):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func tenantIDFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantIDCtxKey).(string)
	return tenant
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "doctrail",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/collections/{collection}/records": map[string]any{
				"get": map[string]any{"summary": "List documents"},
			},
			"/v1/collections/{collection}/records/{id}": map[string]any{
				"put":    map[string]any{"summary": "Create or replace document"},
				"patch":  map[string]any{"summary": "Set and unset document paths"},
				"get":    map[string]any{"summary": "Get document"},
				"delete": map[string]any{"summary": "Hard delete document"},
			},
			"/v1/collections/{collection}/records/{id}/soft-delete": map[string]any{
				"post": map[string]any{"summary": "Soft delete document"},
			},
			"/v1/collections/{collection}/records/{id}/restore": map[string]any{
				"post": map[string]any{"summary": "Restore soft-deleted document"},
			},
			"/v1/collections/{collection}/records:delete-one": map[string]any{
				"post": map[string]any{"summary": "Delete first document matching filter"},
			},
			"/v1/collections/{collection}/records:delete-many": map[string]any{
				"post": map[string]any{"summary": "Delete every document matching filter"},
			},
			"/v1/collections/{collection}/records:update-one": map[string]any{
				"post": map[string]any{"summary": "Patch first document matching filter"},
			},
			"/v1/collections/{collection}/records:update-many": map[string]any{
				"post": map[string]any{"summary": "Patch every document matching filter"},
			},
			"/v1/collections/{collection}/schema": map[string]any{
				"put":    map[string]any{"summary": "Set collection JSON schema"},
				"get":    map[string]any{"summary": "Get collection JSON schema"},
				"delete": map[string]any{"summary": "Delete collection JSON schema"},
			},
		},
	}
}
