package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"contentdrive/internal/logging"
	"contentdrive/internal/repository/memory"
	memstorage "contentdrive/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type env struct {
	store    *memory.Store
	engine   *flakyEngine
	docs     *DocumentService
	versions *VersionService
	locks    *ConcurrencyControl
	archive  *ArchiveService
	cleanup  *CleanupService
	root     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	engine := &flakyEngine{Engine: memstorage.New(8)}
	log := logging.Discard()

	e := &env{
		store:    store,
		engine:   engine,
		docs:     NewDocumentService(store, engine, SniffingDetector{}, log),
		versions: NewVersionService(store, engine, SniffingDetector{}, log),
		locks:    NewConcurrencyControl(store, log),
		archive:  NewArchiveService(store, engine, log),
		cleanup:  NewCleanupService(store, engine, log),
	}
	root, err := e.docs.GetOrCreateRoot(context.Background(), "system")
	require.NoError(t, err)
	e.root = root.ID
	return e
}

func (e *env) folder(t *testing.T, parentID, name string) string {
	t.Helper()
	id, err := e.docs.CreateFolder(context.Background(), parentID, name, "alice", "")
	require.NoError(t, err)
	return id
}

func (e *env) file(t *testing.T, parentID, name string, content []byte) (string, string) {
	t.Helper()
	st, err := e.docs.CreateFileAndVersion(context.Background(),
		FileInput{ParentID: parentID, Name: name},
		VersionInput{},
		name, content, "alice", "")
	require.NoError(t, err)
	return st.FileID, st.VersionID
}

var errEngineDown = errors.New("engine down")

// flakyEngine fails calls for the version ids listed in failing.
type flakyEngine struct {
	*memstorage.Engine
	mu      sync.Mutex
	failing map[string]bool
}

func (f *flakyEngine) fail(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = make(map[string]bool)
	}
	for _, id := range ids {
		f.failing[id] = true
	}
}

func (f *flakyEngine) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = nil
}

func (f *flakyEngine) broken(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[id] || f.failing["*"]
}

func (f *flakyEngine) SetVersionContent(ctx context.Context, id string, content []byte) error {
	if f.broken(id) {
		return errEngineDown
	}
	return f.Engine.SetVersionContent(ctx, id, content)
}

func (f *flakyEngine) GetVersionContent(ctx context.Context, id string) ([]byte, error) {
	if f.broken(id) {
		return nil, errEngineDown
	}
	return f.Engine.GetVersionContent(ctx, id)
}

func (f *flakyEngine) DeleteVersion(ctx context.Context, id string) (bool, error) {
	if f.broken(id) {
		return false, errEngineDown
	}
	return f.Engine.DeleteVersion(ctx, id)
}
