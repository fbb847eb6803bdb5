package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"contentdrive/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_FailedDeletesStayPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ok := e.file(t, e.root, "ok.txt", []byte("ok"))
	_, bad := e.file(t, e.root, "bad.txt", []byte("bad"))
	require.NoError(t, e.versions.DeleteVersion(ctx, ok, ""))
	require.NoError(t, e.versions.DeleteVersion(ctx, bad, ""))
	e.engine.fail(bad)

	n, err := e.cleanup.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := e.store.Tombstones().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	e.engine.heal()
	n, err = e.cleanup.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = e.engine.GetVersionContent(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrContentNotFound)
}

func TestSweep_RespectsCycleLength(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	docs := e.folder(t, e.root, "docs")
	for _, name := range []string{"a", "b", "c"} {
		e.file(t, docs, name, []byte(name))
	}
	require.NoError(t, e.docs.DeleteFolder(ctx, docs, ""))

	n, err := e.cleanup.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = e.cleanup.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.cleanup.Sweep(ctx, 0)
	assert.Error(t, err)
}

func TestSweep_TombstoneWithoutPayload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Tombstones().Insert(ctx, []string{"never-stored"}))

	n, err := e.cleanup.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_ConcurrentSweepsPurgeEachTombstoneOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = "v" + string(rune('a'+i))
		require.NoError(t, e.engine.SetVersionContent(ctx, ids[i], []byte(ids[i])))
	}
	require.NoError(t, e.store.Tombstones().Insert(ctx, ids))

	const workers = 4
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := e.cleanup.Sweep(ctx, 5)
			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, len(ids), total)
	pending, err := e.store.Tombstones().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	for _, id := range ids {
		_, err := e.engine.GetVersionContent(ctx, id)
		assert.ErrorIs(t, err, domain.ErrContentNotFound)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t)
	_, v := e.file(t, e.root, "a.txt", []byte("a"))
	require.NoError(t, e.versions.DeleteVersion(context.Background(), v, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.cleanup.Run(ctx, 5*time.Millisecond, 10) }()

	require.Eventually(t, func() bool {
		n, err := e.store.Tombstones().Count(context.Background())
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
