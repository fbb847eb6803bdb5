package handler

import (
	"context"
	"net/http"

	"contentdrive/internal/domain"
	"contentdrive/internal/service"
	"github.com/go-chi/chi/v5"
)

type createNodeRequest struct {
	ParentID string `json:"parent_id"`
	Name     string `json:"name" validate:"required"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required"`
}

type relocateRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
}

type lockRequest struct {
	Token string `json:"token" validate:"required"`
}

type attributeRequest struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

type attributesRequest struct {
	Attributes map[string]string `json:"attributes" validate:"required"`
}

type namesRequest struct {
	Names []string `json:"names" validate:"required"`
}

type lockConflictsResponse struct {
	SelectedNode   *domain.Node `json:"selected_node,omitempty"`
	AncestorFolder *domain.Node `json:"ancestor_folder,omitempty"`
	DescendantNode *domain.Node `json:"descendant_node,omitempty"`
}

func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	root, err := h.docs.GetOrCreateRoot(r.Context(), callerFrom(r).userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, root)
}

// parentOrRoot resolves an empty parent id to the root folder.
func (h *Handler) parentOrRoot(r *http.Request, parentID string) (string, error) {
	if parentID != "" {
		return parentID, nil
	}
	root, err := h.docs.GetOrCreateRoot(r.Context(), callerFrom(r).userID)
	if err != nil {
		return "", err
	}
	return root.ID, nil
}

func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	h.createNode(w, r, h.docs.CreateFolder)
}

func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	h.createNode(w, r, h.docs.CreateFile)
}

func (h *Handler) createNode(
	w http.ResponseWriter,
	r *http.Request,
	create func(ctx context.Context, parentID, name, userID, lockToken string) (string, error),
) {
	var req createNodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	parentID, err := h.parentOrRoot(r, req.ParentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c := callerFrom(r)
	id, err := create(r.Context(), parentID, req.Name, c.userID, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, idResponse{ID: id})
}

// UploadFile creates a file with its first version from the raw request body.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		h.badRequest(w, r, "name is required")
		return
	}
	filename := q.Get("filename")
	if filename == "" {
		filename = name
	}
	content, ok := h.readBody(w, r)
	if !ok {
		return
	}

	c := callerFrom(r)
	st, err := h.docs.CreateFileAndVersion(r.Context(),
		service.FileInput{ParentID: chi.URLParam(r, "id"), Name: name},
		service.VersionInput{Name: q.Get("version"), Mimetype: q.Get("mimetype")},
		filename, content, c.userID, c.lockToken)
	if err != nil {
		if st != nil {
			h.writeErrorWithID(w, r, err, st.FileID)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, st)
}

func (h *Handler) GetFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := h.docs.GetFolderByID(r.Context(), chi.URLParam(r, "id"), queryBool(r, "children"), queryBool(r, "path"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, folder)
}

func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.docs.GetFileByID(r.Context(), chi.URLParam(r, "id"), queryBool(r, "versions"), queryBool(r, "path"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, file)
}

func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.DeleteFolder(r.Context(), chi.URLParam(r, "id"), callerFrom(r).lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.DeleteFile(r.Context(), chi.URLParam(r, "id"), callerFrom(r).lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.docs.GetNodeByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, node)
}

func (h *Handler) GetParent(w http.ResponseWriter, r *http.Request) {
	parent, err := h.docs.GetParent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if parent == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, r, http.StatusOK, parent)
}

func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.docs.GetAncestors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nodes)
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	if err := h.docs.Rename(r.Context(), chi.URLParam(r, "id"), req.Name, c.userID, c.lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req relocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	if err := h.docs.Move(r.Context(), chi.URLParam(r, "id"), req.ParentID, c.userID, c.lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	var req relocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	id, err := h.docs.Copy(r.Context(), chi.URLParam(r, "id"), req.ParentID, c.userID, c.lockToken)
	if err != nil {
		h.writeErrorWithID(w, r, err, id)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.locks.Lock(r.Context(), chi.URLParam(r, "id"), req.Token, callerFrom(r).userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	if err := h.locks.Unlock(r.Context(), chi.URLParam(r, "id"), c.lockToken, queryBool(r, "override"), c.userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LockConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	token := callerFrom(r).lockToken

	var (
		resp lockConflictsResponse
		err  error
	)
	if resp.SelectedNode, err = h.locks.GetSelectedNodeWithLockConflict(ctx, id, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	if resp.AncestorFolder, err = h.locks.GetAncestorFolderWithLockConflict(ctx, id, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	if resp.DescendantNode, err = h.locks.GetDescendantNodeWithLockConflict(ctx, id, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) CreateAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	id, err := h.docs.CreateAttribute(r.Context(), chi.URLParam(r, "id"), req.Name, req.Value, c.userID, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) UpdateAttribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	err := h.docs.UpdateAttribute(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Value, c.userID, c.lockToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateAttributes(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r)
	if err := h.docs.UpdateAttributes(r.Context(), chi.URLParam(r, "id"), req.Attributes, c.userID, c.lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	if err := h.docs.DeleteAttribute(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), c.userID, c.lockToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) FindByAttributes(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if !h.decode(w, r, &req) {
		return
	}
	nodes, err := h.docs.GetNodeByAttributes(r.Context(), chi.URLParam(r, "id"), req.Attributes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nodes)
}

func (h *Handler) IsNameUnique(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.badRequest(w, r, "name is required")
		return
	}
	unique, err := h.docs.IsFileNameUnique(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"unique": unique})
}

func (h *Handler) DuplicateNames(w http.ResponseWriter, r *http.Request) {
	var req namesRequest
	if !h.decode(w, r, &req) {
		return
	}
	dups, err := h.docs.DuplicateFileNamesInDirectory(r.Context(), req.Names, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string][]string{"duplicates": dups})
}

func (h *Handler) GetFolderZip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.archive.GetFolderAsZip(r.Context(), id, queryBool(r, "properties"), queryBool(r, "deep"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeZip(w, r, id, data)
}

func (h *Handler) GetFileZip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.archive.GetFileAsZip(r.Context(), id, r.URL.Query().Get("version"), queryBool(r, "properties"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeZip(w, r, id, data)
}
