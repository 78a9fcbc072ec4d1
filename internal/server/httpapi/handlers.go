package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ivolkov/shelfsync/internal/server/models"
	"github.com/ivolkov/shelfsync/internal/shared"
)

func rowFromDoc(t, id string, raw json.RawMessage, doc map[string]json.RawMessage, now time.Time) *models.EntityRow {
	return &models.EntityRow{
		ID:           id,
		Type:         t,
		Doc:          raw,
		ExternalCode: stringField(doc, "externalCode"),
		Deleted:      boolField(doc, "deleted"),
		UpdatedAt:    now,
	}
}

// resourceTypes maps URL resource segments to entity type names.
var resourceTypes = map[string]string{
	"items":      "item",
	"containers": "container",
	"categories": "category",
	"locations":  "location",
}

func (s *Server) entityType(w http.ResponseWriter, r *http.Request) (string, bool) {
	resource := chi.URLParam(r, "resource")
	t, ok := resourceTypes[resource]
	if !ok {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return "", false
	}
	return t, true
}

func decodeDoc(r *http.Request) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func stringField(doc map[string]json.RawMessage, name string) string {
	raw, ok := doc[name]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func boolField(doc map[string]json.RawMessage, name string) bool {
	raw, ok := doc[name]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

func setField(doc map[string]json.RawMessage, name string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	doc[name] = raw
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrorNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, shared.ErrorAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// list returns entities changed strictly after the changed_since watermark,
// soft-deleted ones included.
func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("changed_since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid changed_since", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	rows, err := s.repo.ListChangedSince(r.Context(), t, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	docs := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.Doc)
	}
	writeJSON(w, http.StatusOK, docs)
}

// create assigns the permanent id and stores the document. A duplicate
// external code within the type is refused with 409.
func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}

	doc, err := decodeDoc(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	now := s.now().UTC()
	setField(doc, "id", id)
	setField(doc, "deleted", false)
	setField(doc, "createdAt", now)
	setField(doc, "updatedAt", now)

	raw, err := json.Marshal(doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	row := rowFromDoc(t, id, raw, doc, now)
	row.CreatedAt = now
	if err := s.repo.Insert(r.Context(), row); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// update replaces the stored document for an existing entity.
func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	doc, err := decodeDoc(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	now := s.now().UTC()
	setField(doc, "id", id)
	setField(doc, "updatedAt", now)

	raw, err := json.Marshal(doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.repo.Update(r.Context(), rowFromDoc(t, id, raw, doc, now)); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// remove soft-deletes the entity; the tombstone stays visible to changed-since
// listings so other devices learn about the delete.
func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.repo.SoftDelete(r.Context(), t, id, s.now().UTC()); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// presignBlob issues a presigned PUT slot for a photo blob upload.
func (s *Server) presignBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlobID string `json:"blobId"`
		MIME   string `json:"mime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BlobID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	key, url, err := s.blobs.PresignPut(r.Context(), req.BlobID, req.MIME)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"key": key, "url": url})
}
