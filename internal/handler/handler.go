// Package handler exposes the document services over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"contentdrive/internal/domain"
	"contentdrive/internal/logging"
	"contentdrive/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderLockToken = "X-Lock-Token"

	defaultCleanupLimit = 100
)

type Handler struct {
	docs     *service.DocumentService
	versions *service.VersionService
	locks    *service.ConcurrencyControl
	archive  *service.ArchiveService
	cleanup  *service.CleanupService
	validate *validator.Validate
	logger   logging.Logger

	maxBodyBytes int64
}

func NewHandler(
	docs *service.DocumentService,
	versions *service.VersionService,
	locks *service.ConcurrencyControl,
	archive *service.ArchiveService,
	cleanup *service.CleanupService,
	maxBodyBytes int64,
	logger logging.Logger,
) *Handler {
	return &Handler{
		docs:     docs,
		versions: versions,
		locks:    locks,
		archive:  archive,
		cleanup:  cleanup,
		validate: validator.New(),
		logger:   logger.With("component", "http"),

		maxBodyBytes: maxBodyBytes,
	}
}

// Routes returns the API router, meant to be mounted under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/root", h.GetRoot)
	r.Post("/mimetype", h.DetectMimetype)
	r.Post("/cleanup", h.RunCleanup)

	r.Post("/folders", h.CreateFolder)
	r.Route("/folders/{id}", func(r chi.Router) {
		r.Get("/", h.GetFolder)
		r.Delete("/", h.DeleteFolder)
		r.Get("/zip", h.GetFolderZip)
		r.Post("/upload", h.UploadFile)
		r.Post("/search", h.FindByAttributes)
		r.Get("/names/unique", h.IsNameUnique)
		r.Post("/names/duplicates", h.DuplicateNames)
		r.Post("/versions/by-filename", h.VersionsByFilenames)
		r.Post("/versions/latest-by-attributes", h.LatestVersionByAttributes)
	})

	r.Post("/files", h.CreateFile)
	r.Route("/files/{id}", func(r chi.Router) {
		r.Get("/", h.GetFile)
		r.Delete("/", h.DeleteFile)
		r.Get("/zip", h.GetFileZip)
		r.Get("/versions", h.ListVersions)
		r.Post("/versions", h.CreateVersion)
		r.Put("/versions", h.UpdateVersion)
		r.Get("/versions/latest", h.LatestVersion)
		r.Get("/versions/{name}", h.GetVersion)
		r.Get("/versions/{name}/content", h.GetVersionContent)
		r.Put("/versions/{name}/attributes", h.UpdateVersionAttributes)
		r.Delete("/versions/{name}/attributes/{attr}", h.DeleteVersionAttribute)
	})

	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", h.GetNode)
		r.Get("/parent", h.GetParent)
		r.Get("/ancestors", h.GetAncestors)
		r.Put("/name", h.Rename)
		r.Post("/move", h.Move)
		r.Post("/copy", h.Copy)
		r.Post("/lock", h.Lock)
		r.Delete("/lock", h.Unlock)
		r.Get("/lock/conflicts", h.LockConflicts)
		r.Post("/attributes", h.CreateAttribute)
		r.Put("/attributes", h.UpdateAttributes)
		r.Put("/attributes/{name}", h.UpdateAttribute)
		r.Delete("/attributes/{name}", h.DeleteAttribute)
	})

	r.Route("/versions/{id}", func(r chi.Router) {
		r.Get("/", h.GetVersionByID)
		r.Delete("/", h.DeleteVersion)
		r.Put("/content", h.ReplaceContent)
		r.Put("/chunks/{index}", h.SetChunk)
		r.Get("/chunks/{index}", h.GetChunk)
	})

	return r
}

// caller carries the identity and lock token presented with a request.
type caller struct {
	userID    string
	lockToken string
}

func callerFrom(r *http.Request) caller {
	return caller{
		userID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		lockToken: r.Header.Get(HeaderLockToken),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	ID    string `json:"id,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockConflict):
		return http.StatusLocked
	case errors.Is(err, domain.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidMove),
		errors.Is(err, domain.ErrNotFolder),
		errors.Is(err, domain.ErrNotFile),
		errors.Is(err, domain.ErrInvalidChunk),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrRootFolder),
		errors.Is(err, service.ErrEmptyLockToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrContentIO), errors.Is(err, domain.ErrArchive):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorWithID(w, r, err, "")
}

// writeErrorWithID reports a failure that happened after id was committed.
func (h *Handler) writeErrorWithID(w http.ResponseWriter, r *http.Request, err error, id string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, r, status, errorResponse{Error: err.Error(), ID: id})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msg})
}

// decode parses a JSON body into v and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	h.limitBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.bodyError(w, r, err, "invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.badRequest(w, r, fmt.Sprintf("field %s failed on %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag()))
			return false
		}
		h.badRequest(w, r, err.Error())
		return false
	}
	return true
}

func (h *Handler) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
}

// readBody reads the whole request body up to the configured limit. On failure
// the response has already been written.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	h.limitBody(w, r)
	defer r.Body.Close()
	content, err := io.ReadAll(r.Body)
	if err != nil {
		h.bodyError(w, r, err, "failed to read body")
		return nil, false
	}
	return content, true
}

func (h *Handler) bodyError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return
	}
	h.badRequest(w, r, msg)
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func (h *Handler) writeZip(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn(r.Context(), "failed to write archive", "error", err)
	}
}
