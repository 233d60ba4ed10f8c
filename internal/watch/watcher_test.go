package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type collector struct {
	mu    sync.Mutex
	files []string
	calls int
	err   error
}

func (c *collector) handle(_ context.Context, files []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = append(c.files, files...)
	c.calls++
	return c.err
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

func TestWatcherReportsSettledFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	c := &collector{}
	w, err := New(dir, 40*time.Millisecond, c.handle)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.nc"), []byte("CDF\x01"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nc"), []byte("CDF\x01"), 0644))

	require.Eventually(t, func() bool { return len(c.seen()) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.nc"), filepath.Join(dir, "b.nc")}, c.seen())

	stats := w.Stats()
	assert.Equal(t, 2, stats.Settled)
	assert.GreaterOrEqual(t, stats.Events, 2)
	assert.GreaterOrEqual(t, stats.Batches, 1)
}

func TestWatcherWaitsForEmptyFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	c := &collector{}
	w, err := New(dir, 20*time.Millisecond, c.handle)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(dir, "growing.nc")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, c.seen(), "empty file must not settle")

	require.NoError(t, os.WriteFile(path, []byte("CDF\x01 data"), 0644))
	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 5*time.Second, 20*time.Millisecond)
	w.Stop()
}

func TestWatcherHandlerErrorsAreCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	c := &collector{err: errors.New("boom")}
	w, err := New(dir, 20*time.Millisecond, c.handle)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nc"), []byte("CDF"), 0644))
	require.Eventually(t, func() bool { return w.Stats().Errors == 1 }, 5*time.Second, 20*time.Millisecond)
	w.Stop()
	w.Stop()
}

func TestWatcherStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(t.TempDir(), 0, func(context.Context, []string) error { return nil })
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "starting twice is a no-op")
	cancel()
	w.Stop()
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(t.TempDir(), 0, nil)
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing"), 0, func(context.Context, []string) error { return nil })
	assert.Error(t, err)
}
