package service

import (
	"context"
	"testing"

	"contentdrive/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateRoot_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	root, err := e.docs.GetOrCreateRoot(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, e.root, root.ID)
	assert.Equal(t, domain.RootFolderName, root.Name)
	assert.Nil(t, root.ParentID)
}

func TestCreateFolder_StampsAttributes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.docs.CreateFolder(ctx, e.root, "docs", "alice", "")
	require.NoError(t, err)

	node, err := e.docs.GetNodeByID(ctx, id)
	require.NoError(t, err)
	attrs := node.AttributeMap()
	assert.Equal(t, "alice", attrs[domain.AttrCreatedBy])
	assert.Equal(t, "alice", attrs[domain.AttrLastModifiedBy])
	assert.NotEmpty(t, attrs[domain.AttrLastModifiedOn])

	anon, err := e.docs.CreateFolder(ctx, e.root, "anon", "", "")
	require.NoError(t, err)
	node, err = e.docs.GetNodeByID(ctx, anon)
	require.NoError(t, err)
	assert.Empty(t, node.Attributes)
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	fileID, _ := e.file(t, e.root, "a.txt", nil)

	_, err := e.docs.CreateFolder(ctx, e.root, "a.txt", "alice", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = e.docs.CreateFile(ctx, e.root, "  ", "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = e.docs.CreateFile(ctx, "missing", "b.txt", "alice", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.docs.CreateFile(ctx, fileID, "b.txt", "alice", "")
	assert.ErrorIs(t, err, domain.ErrNotFolder)
}

func TestRename(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.file(t, e.root, "a.txt", nil)
	e.file(t, e.root, "b.txt", nil)

	assert.ErrorIs(t, e.docs.Rename(ctx, a, "b.txt", "bob", ""), domain.ErrDuplicateName)
	assert.NoError(t, e.docs.Rename(ctx, a, "a.txt", "bob", ""))
	require.NoError(t, e.docs.Rename(ctx, a, "c.txt", "bob", ""))

	node, err := e.docs.GetNodeByID(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "c.txt", node.Name)
	by, _ := node.Attribute(domain.AttrLastModifiedBy)
	assert.Equal(t, "bob", by)
}

func TestMove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.folder(t, e.root, "src")
	child := e.folder(t, src, "child")
	dst := e.folder(t, e.root, "dst")
	fileID, _ := e.file(t, e.root, "a.txt", nil)

	assert.ErrorIs(t, e.docs.Move(ctx, src, child, "bob", ""), domain.ErrInvalidMove)
	assert.ErrorIs(t, e.docs.Move(ctx, src, src, "bob", ""), domain.ErrInvalidMove)
	assert.ErrorIs(t, e.docs.Move(ctx, e.root, dst, "bob", ""), domain.ErrInvalidMove)
	assert.ErrorIs(t, e.docs.Move(ctx, src, fileID, "bob", ""), domain.ErrNotFolder)

	require.NoError(t, e.docs.Move(ctx, src, dst, "bob", ""))
	parent, err := e.docs.GetParent(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, dst, parent.ID)

	path, err := e.docs.GetAncestors(ctx, child)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{e.root, dst, src}, []string{path[0].ID, path[1].ID, path[2].ID})
}

func TestMove_DestinationLocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.folder(t, e.root, "src")
	dst := e.folder(t, e.root, "dst")
	require.NoError(t, e.locks.Lock(ctx, dst, "D", "alice"))

	err := e.docs.Move(ctx, src, dst, "bob", "")
	assert.True(t, domain.IsLockConflict(err, domain.LockScopeAncestorFolder), "got %v", err)
	assert.NoError(t, e.docs.Move(ctx, src, dst, "bob", "D"))
}

func TestCopy_DuplicatesSubtreeAndPayloads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.folder(t, e.root, "src")
	sub := e.folder(t, src, "sub")
	fileID, versionID := e.file(t, sub, "a.txt", []byte("copied bytes"))
	require.NoError(t, e.docs.UpdateAttribute(ctx, fileID, "color", "blue", "alice", ""))
	dst := e.folder(t, e.root, "dst")

	copyID, err := e.docs.Copy(ctx, src, dst, "bob", "")
	require.NoError(t, err)
	assert.NotEqual(t, src, copyID)

	copied, err := e.docs.GetFolderByID(ctx, copyID, true, false)
	require.NoError(t, err)
	assert.Equal(t, "src", copied.Name)
	require.Len(t, copied.Children, 1)
	subCopy := copied.Children[0]
	assert.Equal(t, "sub", subCopy.Name)

	files, err := e.store.Nodes().GetChildren(ctx, subCopy.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	fileCopy := files[0]
	assert.NotEqual(t, fileID, fileCopy.ID)
	color, _ := fileCopy.Attribute("color")
	assert.Equal(t, "blue", color)

	v, err := e.versions.GetFileLatestVersion(ctx, fileCopy.ID)
	require.NoError(t, err)
	assert.NotEqual(t, versionID, v.ID)
	content, err := e.versions.GetBinContent(ctx, fileCopy.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("copied bytes"), content)

	// the original is untouched
	orig, err := e.versions.GetBinContent(ctx, fileID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("copied bytes"), orig)

	_, err = e.docs.Copy(ctx, src, src, "bob", "")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)
	_, err = e.docs.Copy(ctx, src, dst, "bob", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestCopy_ReportsPayloadFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	fileID, versionID := e.file(t, e.root, "a.txt", []byte("bytes"))
	dst := e.folder(t, e.root, "dst")
	e.engine.fail(versionID)

	copyID, err := e.docs.Copy(ctx, fileID, dst, "bob", "")
	require.ErrorIs(t, err, domain.ErrContentIO)
	assert.NotEmpty(t, copyID)

	_, err = e.docs.GetFileByID(ctx, copyID, true, false)
	assert.NoError(t, err)
}

func TestDeleteFolder_TombstonesVersions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	docs := e.folder(t, e.root, "docs")
	sub := e.folder(t, docs, "sub")
	a, _ := e.file(t, docs, "a.txt", []byte("a"))
	b, _ := e.file(t, sub, "b.txt", []byte("b"))
	_, err := e.versions.CreateVersion(ctx, b, VersionInput{}, "b.txt", []byte("b2"), "alice", "")
	require.NoError(t, err)

	require.NoError(t, e.docs.DeleteFolder(ctx, docs, ""))

	for _, id := range []string{docs, sub, a, b} {
		_, err := e.docs.GetNodeByID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
	n, err := e.store.Tombstones().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.ErrorIs(t, e.docs.DeleteFolder(ctx, docs, ""), domain.ErrNotFound)
}

func TestDeleteFile_WrongType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	docs := e.folder(t, e.root, "docs")

	assert.ErrorIs(t, e.docs.DeleteFile(ctx, docs, ""), domain.ErrNotFile)
	assert.ErrorIs(t, e.docs.DeleteFile(ctx, "missing", ""), domain.ErrNotFound)
}

func TestDeleteFolder_RootRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.folder(t, e.root, "docs")

	assert.ErrorIs(t, e.docs.DeleteFolder(ctx, e.root, ""), domain.ErrRootFolder)

	root, err := e.docs.GetFolderByID(ctx, e.root, true, false)
	require.NoError(t, err)
	assert.Len(t, root.Children, 1)
}

func TestGetParentOfRoot(t *testing.T) {
	e := newEnv(t)
	parent, err := e.docs.GetParent(context.Background(), e.root)
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestNodeAttributes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	docs := e.folder(t, e.root, "docs")

	id, err := e.docs.CreateAttribute(ctx, docs, "project", "x", "bob", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = e.docs.CreateAttribute(ctx, docs, "project", "y", "bob", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	require.NoError(t, e.docs.UpdateAttributes(ctx, docs, map[string]string{"project": "y", "stage": "draft"}, "carol", ""))
	node, err := e.docs.GetNodeByID(ctx, docs)
	require.NoError(t, err)
	attrs := node.AttributeMap()
	assert.Equal(t, "y", attrs["project"])
	assert.Equal(t, "draft", attrs["stage"])
	assert.Equal(t, "carol", attrs[domain.AttrLastModifiedBy])

	require.NoError(t, e.docs.DeleteAttribute(ctx, docs, "stage", "carol", ""))
	node, err = e.docs.GetNodeByID(ctx, docs)
	require.NoError(t, err)
	_, ok := node.Attribute("stage")
	assert.False(t, ok)
}

func TestGetNodeByAttributes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.docs.CreateFileAndVersion(ctx,
		FileInput{ParentID: e.root, Name: "a.txt", Attributes: map[string]string{"kind": "invoice", "year": "2024"}},
		VersionInput{}, "a.txt", []byte("a"), "alice", "")
	require.NoError(t, err)
	_, err = e.docs.CreateFileAndVersion(ctx,
		FileInput{ParentID: e.root, Name: "b.txt", Attributes: map[string]string{"kind": "invoice", "year": "2023"}},
		VersionInput{}, "b.txt", []byte("b"), "alice", "")
	require.NoError(t, err)

	nodes, err := e.docs.GetNodeByAttributes(ctx, e.root, map[string]string{"kind": "invoice", "year": "2024"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, first.FileID, nodes[0].ID)

	nodes, err = e.docs.GetNodeByAttributes(ctx, e.root, map[string]string{"kind": "invoice"})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestNameQueries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.file(t, e.root, "a.txt", nil)

	dups, err := e.docs.DuplicateFileNamesInDirectory(ctx, []string{"a.txt", "b.txt"}, e.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, dups)

	dups, err = e.docs.DuplicateFileNamesInDirectory(ctx, []string{"b.txt", "a.txt", "a.txt"}, e.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, dups)

	unique, err := e.docs.IsFileNameUnique(ctx, "a.txt", e.root)
	require.NoError(t, err)
	assert.False(t, unique)
	unique, err = e.docs.IsFileNameUnique(ctx, "b.txt", e.root)
	require.NoError(t, err)
	assert.True(t, unique)
}

func TestCreateFileAndVersion_ContentFailureKeepsMetadata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.engine.fail("*")

	st, err := e.docs.CreateFileAndVersion(ctx, FileInput{ParentID: e.root, Name: "a.txt"}, VersionInput{}, "a.txt", []byte("x"), "alice", "")
	require.ErrorIs(t, err, domain.ErrContentIO)
	require.NotNil(t, st)
	e.engine.heal()

	v, err := e.versions.GetVersionByID(ctx, st.VersionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ContentSize)
	_, err = e.versions.GetBinContent(ctx, st.FileID, "")
	assert.ErrorIs(t, err, domain.ErrContentNotFound)
}
