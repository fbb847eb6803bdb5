package handler

import (
	"net/http"
	"strconv"

	"contentdrive/internal/service"
	"github.com/go-chi/chi/v5"
)

type updateVersionRequest struct {
	Version           service.VersionUpdate `json:"version"`
	Content           []byte                `json:"content,omitempty"`
	ReplaceAttributes bool                  `json:"replace_attributes"`
}

type filenamesRequest struct {
	Filenames []string `json:"filenames" validate:"required"`
}

type cleanupResponse struct {
	Purged int `json:"purged"`
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.versions.GetFileVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, versions)
}

func (h *Handler) LatestVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.versions.GetFileLatestVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, v)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.versions.GetVersion(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, v)
}

func (h *Handler) GetVersionByID(w http.ResponseWriter, r *http.Request) {
	v, err := h.versions.GetVersionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, v)
}

// CreateVersion stores the raw request body as a new version of the file.
// An empty body creates a version without payload.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	content, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if len(content) == 0 {
		content = nil
	}
	var size int64
	if s := q.Get("size"); s != "" {
		var err error
		if size, err = strconv.ParseInt(s, 10, 64); err != nil || size < 0 {
			h.badRequest(w, r, "invalid size")
			return
		}
	}

	c := callerFrom(r)
	meta := service.VersionInput{Name: q.Get("name"), Mimetype: q.Get("mimetype"), ContentSize: size}
	id, err := h.versions.CreateVersion(r.Context(), chi.URLParam(r, "id"), meta, q.Get("filename"), content, c.userID, c.lockToken)
	if err != nil {
		h.writeErrorWithID(w, r, err, id)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	var req updateVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Version.ID == "" {
		h.badRequest(w, r, "version id is required")
		return
	}
	c := callerFrom(r)
	err := h.versions.UpdateVersion(r.Context(), chi.URLParam(r, "id"), req.Version, req.Content, c.userID, req.ReplaceAttributes, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetVersionContent(w http.ResponseWriter, r *http.Request) {
	fileID, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	v, err := h.versions.GetVersion(r.Context(), fileID, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	content, err := h.versions.GetBinContent(r.Context(), fileID, v.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", v.Mimetype)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		h.logger.Warn(r.Context(), "failed to write content", "version_id", v.ID, "error", err)
	}
}

func (h *Handler) UpdateVersionAttributes(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	err := h.versions.UpdateAttributes(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Attributes, c.userID, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteVersionAttribute(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	err := h.versions.DeleteAttribute(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), chi.URLParam(r, "attr"), c.userID, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	if err := h.versions.DeleteVersion(r.Context(), chi.URLParam(r, "id"), callerFrom(r).lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReplaceContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.versions.GetVersionByID(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	content, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.versions.ReplaceVersionContent(r.Context(), id, content); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func chunkIndex(r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	return idx, err == nil
}

func (h *Handler) SetChunk(w http.ResponseWriter, r *http.Request) {
	idx, ok := chunkIndex(r)
	if !ok {
		h.badRequest(w, r, "invalid chunk index")
		return
	}
	content, ok := h.readBody(w, r)
	if !ok {
		return
	}
	id, err := h.versions.SetBinChunk(r.Context(), chi.URLParam(r, "id"), content, idx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, idResponse{ID: id})
}

func (h *Handler) GetChunk(w http.ResponseWriter, r *http.Request) {
	idx, ok := chunkIndex(r)
	if !ok {
		h.badRequest(w, r, "invalid chunk index")
		return
	}
	c, err := h.versions.GetBinChunk(r.Context(), chi.URLParam(r, "id"), idx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(c.Content); err != nil {
		h.logger.Warn(r.Context(), "failed to write chunk", "chunk_id", c.ID, "error", err)
	}
}

func (h *Handler) VersionsByFilenames(w http.ResponseWriter, r *http.Request) {
	var req filenamesRequest
	if !h.decode(w, r, &req) {
		return
	}
	versions, err := h.versions.GetVersionsByFilenames(r.Context(), chi.URLParam(r, "id"), req.Filenames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, versions)
}

func (h *Handler) LatestVersionByAttributes(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.versions.GetFileLatestVersionByNodeAttributes(r.Context(), chi.URLParam(r, "id"), req.Attributes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, v)
}

func (h *Handler) DetectMimetype(w http.ResponseWriter, r *http.Request) {
	content, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"mimetype": h.versions.DetectMimetype(content)})
}

// RunCleanup triggers one sweep outside the periodic loop.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	limit := defaultCleanupLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.badRequest(w, r, "invalid limit")
			return
		}
		limit = n
	}
	n, err := h.cleanup.Sweep(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, cleanupResponse{Purged: n})
}
