// Package data serves json-server style CRUD over named collections of JSON
// documents.
package data

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/getsentry/sentry-go"

	"mock-auth-api/internal/storage"
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Collections that never go through the router. users would leak passwords.
var reserved = map[string]bool{
	"users": true,
	"auth":  true,
}

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	docs storage.Documents
}

func NewHandler(docs storage.Documents) *Handler {
	return &Handler{docs: docs}
}

// Register mounts the collection routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{collection}", h.List)
	mux.HandleFunc("POST /{collection}", h.Create)
	mux.HandleFunc("GET /{collection}/{id}", h.Get)
	mux.HandleFunc("PUT /{collection}/{id}", h.Replace)
	mux.HandleFunc("PATCH /{collection}/{id}", h.Patch)
	mux.HandleFunc("DELETE /{collection}/{id}", h.Delete)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionFrom(w, r)
	if !ok {
		return
	}

	query, err := ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := h.docs.ListDocuments(r.Context(), collection)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	result, total := query.Apply(docs)
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := documentFrom(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), collection, id)
	if err != nil {
		writeStoreError(w, err, "failed to load document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionFrom(w, r)
	if !ok {
		return
	}
	body, ok := decodeDocument(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.CreateDocument(r.Context(), collection, body)
	if err != nil {
		writeStoreError(w, err, "failed to create document")
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := documentFrom(w, r)
	if !ok {
		return
	}
	body, ok := decodeDocument(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.ReplaceDocument(r.Context(), collection, id, body)
	if err != nil {
		writeStoreError(w, err, "failed to replace document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := documentFrom(w, r)
	if !ok {
		return
	}
	body, ok := decodeDocument(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.PatchDocument(r.Context(), collection, id, body)
	if err != nil {
		writeStoreError(w, err, "failed to update document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := documentFrom(w, r)
	if !ok {
		return
	}

	if err := h.docs.DeleteDocument(r.Context(), collection, id); err != nil {
		writeStoreError(w, err, "failed to delete document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

func collectionFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	collection := r.PathValue("collection")
	if !collectionName.MatchString(collection) || reserved[collection] {
		writeError(w, http.StatusNotFound, "Not Found")
		return "", false
	}
	return collection, true
}

func documentFrom(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	collection, ok := collectionFrom(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Not Found")
		return "", 0, false
	}
	return collection, id, true
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (storage.Document, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var doc storage.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return nil, false
	}
	return doc, true
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": status, "message": message})
}
