package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"contentdrive/internal/logging"
	"contentdrive/internal/repository/memory"
	"contentdrive/internal/service"
	memstorage "contentdrive/internal/storage/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxBodyBytes = 1 << 10

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	engine := memstorage.New(16)
	log := logging.Discard()

	h := NewHandler(
		service.NewDocumentService(store, engine, service.SniffingDetector{}, log),
		service.NewVersionService(store, engine, service.SniffingDetector{}, log),
		service.NewConcurrencyControl(store, log),
		service.NewArchiveService(store, engine, log),
		service.NewCleanupService(store, engine, log),
		testMaxBodyBytes,
		log,
	)
	r := chi.NewRouter()
	r.Mount("/v1", h.Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

func (s *testServer) do(method, path string, body io.Reader, headers map[string]string) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+"/v1"+path, body)
	require.NoError(s.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) json(method, path string, payload any, headers map[string]string) *http.Response {
	s.t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(s.t, err)
	return s.do(method, path, bytes.NewReader(b), headers)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) createFolder(parentID, name string, headers map[string]string) string {
	s.t.Helper()
	resp := s.json(http.MethodPost, "/folders", createNodeRequest{ParentID: parentID, Name: name}, headers)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	return decodeBody[idResponse](s.t, resp).ID
}

func TestLockScenario(t *testing.T) {
	s := newTestServer(t)
	alice := map[string]string{HeaderUserID: "alice"}

	docs := s.createFolder("", "docs", alice)

	resp := s.json(http.MethodPost, "/nodes/"+docs+"/lock", lockRequest{Token: "t1"}, alice)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.json(http.MethodPost, "/files", createNodeRequest{ParentID: docs, Name: "a.txt"},
		map[string]string{HeaderUserID: "bob", HeaderLockToken: "t2"})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = s.json(http.MethodPost, "/files", createNodeRequest{ParentID: docs, Name: "a.txt"},
		map[string]string{HeaderUserID: "alice", HeaderLockToken: "t1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[idResponse](t, resp).ID)

	resp = s.do(http.MethodGet, "/nodes/"+docs+"/lock/conflicts", nil, map[string]string{HeaderLockToken: "t2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conflicts := decodeBody[lockConflictsResponse](t, resp)
	require.NotNil(t, conflicts.SelectedNode)
	assert.Equal(t, docs, conflicts.SelectedNode.ID)
	assert.Nil(t, conflicts.AncestorFolder)
}

func TestUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	docs := s.createFolder("", "docs", nil)
	payload := []byte("a payload longer than one sixteen byte chunk")

	resp := s.do(http.MethodPost, "/folders/"+docs+"/upload?name=a.txt", bytes.NewReader(payload), map[string]string{HeaderUserID: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	st := decodeBody[service.CreateFileAndVersionStatus](t, resp)

	resp = s.do(http.MethodGet, "/files/"+st.FileID+"/versions/1/content", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	resp = s.do(http.MethodGet, "/versions/"+st.VersionID+"/chunks/1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload[:16], got)

	resp = s.do(http.MethodGet, "/files/"+st.FileID+"/zip", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	docs := s.createFolder("", "docs", nil)
	sub := s.createFolder(docs, "sub", nil)
	root := decodeBody[idResponse](t, s.do(http.MethodGet, "/root", nil, nil)).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "missing node", method: http.MethodGet, path: "/nodes/nope", want: http.StatusNotFound},
		{name: "duplicate name", method: http.MethodPost, path: "/folders", body: createNodeRequest{ParentID: docs, Name: "sub"}, want: http.StatusConflict},
		{name: "move into own subtree", method: http.MethodPost, path: "/nodes/" + docs + "/move", body: relocateRequest{ParentID: sub}, want: http.StatusBadRequest},
		{name: "missing name", method: http.MethodPost, path: "/folders", body: createNodeRequest{ParentID: docs}, want: http.StatusBadRequest},
		{name: "empty lock token", method: http.MethodPost, path: "/nodes/" + docs + "/lock", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "delete root", method: http.MethodDelete, path: "/folders/" + root, want: http.StatusBadRequest},
		{name: "bad chunk index", method: http.MethodGet, path: "/versions/x/chunks/zero", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.body != nil {
				resp = s.json(tt.method, tt.path, tt.body, nil)
			} else {
				resp = s.do(tt.method, tt.path, nil, nil)
			}
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDuplicateNamesAndCleanup(t *testing.T) {
	s := newTestServer(t)
	docs := s.createFolder("", "docs", nil)

	resp := s.do(http.MethodPost, "/folders/"+docs+"/upload?name=a.txt", bytes.NewReader([]byte("x")), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	st := decodeBody[service.CreateFileAndVersionStatus](t, resp)

	resp = s.json(http.MethodPost, "/folders/"+docs+"/names/duplicates", namesRequest{Names: []string{"a.txt", "b.txt"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string][]string{"duplicates": {"a.txt"}}, decodeBody[map[string][]string](t, resp))

	resp = s.do(http.MethodDelete, "/versions/"+st.VersionID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodPost, "/cleanup", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[cleanupResponse](t, resp).Purged)

	resp = s.do(http.MethodPost, "/cleanup?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)
	docs := s.createFolder("", "docs", nil)
	big := bytes.Repeat([]byte("x"), testMaxBodyBytes+1)

	resp := s.do(http.MethodPost, "/folders/"+docs+"/upload?name=big.bin", bytes.NewReader(big), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = s.do(http.MethodGet, "/folders/"+docs+"/names/unique?name=big.bin", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"unique": true}, decodeBody[map[string]bool](t, resp))

	resp = s.do(http.MethodPost, "/folders/"+docs+"/upload?name=small.bin", bytes.NewReader(big[:testMaxBodyBytes]), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
