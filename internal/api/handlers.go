package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/models"
	"github.com/punchamoorthee/bitbeam/internal/service"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports whether the backend answers a ping.
func (h *Handler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "unavailable", "backend unreachable")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) SubmitBeamHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id := uuid.NewString()
	if req.ID != nil {
		if err := domain.ValidateID(*req.ID); err != nil {
			h.writeError(w, r, err)
			return
		}
		id = *req.ID
	}

	rec, err := h.ledger.Submit(r.Context(), service.SubmitParams{
		ID:          id,
		Checksum:    req.Checksum,
		SizeBytes:   req.SizeBytes,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/beams/"+url.PathEscape(rec.ID))
	respondWithJSON(w, http.StatusCreated, rec)
}

func (h *Handler) ListBeamsHandler(w http.ResponseWriter, r *http.Request) {
	filter, cursor, limit, err := listParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.ledger.List(r.Context(), filter, cursor, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := models.ListResponse{Items: page.Items}
	if page.Next != nil {
		resp.NextCursor = page.Next.Encode()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetBeamHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) BeginBeamHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.ledger.Begin(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) CompleteBeamHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req models.CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.ledger.Complete(r.Context(), id, req.Checksum)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) FailBeamHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req models.FailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.ledger.Fail(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

// UploadPayloadHandler streams the request body into the blob store and
// responds with the settled record.
func (h *Handler) UploadPayloadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.payloads.Upload(r.Context(), id, r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) DownloadPayloadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc, rec, err := h.payloads.Download(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	w.Header().Set("ETag", strconv.Quote(rec.Checksum))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; the client sees a truncated body.
		h.logger.WarnContext(r.Context(), "payload stream interrupted", "id", id, "error", err)
	}
}
