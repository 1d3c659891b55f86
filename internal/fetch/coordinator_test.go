package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/metrics"
	"github.com/nanovideo/nanovideo/internal/ytdlp"
)

// fakeExtractor counts invocations and writes canned bytes, optionally
// failing or stalling until released.
type fakeExtractor struct {
	metadataCalls int32
	fetchCalls    int32

	ext     string
	payload string
	fail    error
	block   chan struct{} // when non-nil, Fetch waits for close
}

func (f *fakeExtractor) Metadata(ctx context.Context, url string) (*ytdlp.Metadata, error) {
	atomic.AddInt32(&f.metadataCalls, 1)
	// Hold here too: a failing extraction must stay in flight until released
	// so tests can attach waiters before the outcome broadcasts.
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	ext := f.ext
	if ext == "" {
		ext = "mp4"
	}
	return &ytdlp.Metadata{ID: "vid1", Title: "A Video", Ext: ext}, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, url, format, dest string) error {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail != nil {
		return f.fail
	}
	payload := f.payload
	if payload == "" {
		payload = "media-bytes"
	}
	return os.WriteFile(dest, []byte(payload), 0o644)
}

func newTestCoordinator(t *testing.T, ext Extractor) (*Coordinator, *cache.Index) {
	t.Helper()
	ix := &cache.Index{Dir: t.TempDir()}
	require.NoError(t, ix.EnsureDir())
	c := New(ix, ext, Options{MaxConcurrent: 4, Timeout: 10 * time.Second})
	return c, ix
}

func TestDownloadMissThenHit(t *testing.T) {
	ext := &fakeExtractor{}
	c, ix := newTestCoordinator(t, ext)

	res, err := c.Download(context.Background(), "https://example.com/watch?v=a", "best")
	require.NoError(t, err)
	require.NotNil(t, res.Meta)
	assert.Equal(t, int64(len("media-bytes")), res.Entry.Size)
	assert.True(t, strings.HasSuffix(res.Entry.Name, ".mp4"))

	// Entry is visible through the index with matching size.
	e, ok, err := ix.Lookup(res.Entry.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Entry.Size, e.Size)

	// Second request: no further extractor invocation, same content.
	res2, err := c.Download(context.Background(), "https://example.com/watch?v=a", "best")
	require.NoError(t, err)
	assert.Nil(t, res2.Meta, "cache hit carries no metadata")
	assert.Equal(t, res.Entry.Name, res2.Entry.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ext.fetchCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ext.metadataCalls))
}

func TestDownloadInvalidURL(t *testing.T) {
	ext := &fakeExtractor{}
	c, ix := newTestCoordinator(t, ext)

	_, err := c.Download(context.Background(), "not-a-url", "best")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrInvalidInput))
	assert.Zero(t, atomic.LoadInt32(&ext.fetchCalls), "no extraction for invalid input")
	assert.Zero(t, c.InFlight(), "no slot may be created for invalid input")

	entries, err := ix.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadSingleFlight(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	c, _ := newTestCoordinator(t, ext)

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Download(context.Background(), "https://example.com/watch?v=u1", "best")
		}(i)
	}

	// Let all five reach the slot, then release the single fetch.
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)
	close(ext.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, results[0].Entry.Name, results[i].Entry.Name)
		assert.Equal(t, results[0].Entry.Size, results[i].Entry.Size)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ext.fetchCalls), "extractor must run exactly once")
	assert.Zero(t, c.InFlight(), "slot must be gone after resolution")
}

func TestDownloadFailureBroadcast(t *testing.T) {
	boom := errors.New("tool exploded: HTTP 403")
	ext := &fakeExtractor{fail: boom, block: make(chan struct{})}
	c, ix := newTestCoordinator(t, ext)

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Download(context.Background(), "https://example.com/watch?v=u2", "best")
		}(i)
	}
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)
	close(ext.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Error(t, errs[i])
		assert.True(t, errors.Is(errs[i], ErrExtractionFailed), "caller %d: %v", i, errs[i])
		assert.Equal(t, errs[0].Error(), errs[i].Error(), "all waiters get the identical failure")
	}

	// No entry and no temp file left behind.
	key, err := cache.DeriveKey("https://example.com/watch?v=u2", "best")
	require.NoError(t, err)
	_, ok, err := ix.Lookup(key)
	require.NoError(t, err)
	assert.False(t, ok)
	assertNoPartialFiles(t, ix.Dir)

	// The failed key's slot is gone: a retry starts a fresh extraction.
	ext.fail = nil
	ext.block = nil
	_, err = c.Download(context.Background(), "https://example.com/watch?v=u2", "best")
	require.NoError(t, err)
}

func TestDownloadEmptyOutputIsFailure(t *testing.T) {
	// An extractor that reports success but writes zero bytes.
	meta := &fakeExtractor{}
	c, ix := newTestCoordinator(t, extractorFunc{
		meta: meta.Metadata,
		fetch: func(ctx context.Context, url, format, dest string) error {
			return os.WriteFile(dest, nil, 0o644)
		},
	})

	_, err := c.Download(context.Background(), "https://example.com/watch?v=e", "best")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
	assertNoPartialFiles(t, ix.Dir)
}

func TestWaiterContextCancelDoesNotAbortFetch(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	c, _ := newTestCoordinator(t, ext)

	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Download(context.Background(), "https://example.com/watch?v=w", "best")
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	// A waiter with a dead context detaches immediately with ctx.Err().
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Download(ctx, "https://example.com/watch?v=w", "best")
	require.ErrorIs(t, err, context.Canceled)

	// The fetch itself is unaffected.
	close(ext.block)
	require.NoError(t, <-leaderDone)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ext.fetchCalls))
}

func TestLeaderRecheckDoesNotDoubleCount(t *testing.T) {
	ext := &fakeExtractor{}
	c, _ := newTestCoordinator(t, ext)

	res, err := c.Download(context.Background(), "https://example.com/watch?v=m", "best")
	require.NoError(t, err)

	// A leader whose miss went stale finds the entry on its re-check. That
	// request was already counted as a miss, so the re-check must not also
	// record a hit.
	hits := testutil.ToFloat64(metrics.CacheHits)
	again, err := c.run(context.Background(), res.Entry.Key, "https://example.com/watch?v=m", "best")
	require.NoError(t, err)
	assert.Equal(t, res.Entry.Name, again.Entry.Name)
	assert.Equal(t, hits, testutil.ToFloat64(metrics.CacheHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ext.fetchCalls), "re-check must not refetch")
}

func TestRecorderReceivesCompletion(t *testing.T) {
	ext := &fakeExtractor{}
	c, _ := newTestCoordinator(t, ext)

	var mu sync.Mutex
	var got []Completion
	c.SetRecorder(recorderFunc(func(comp Completion) {
		mu.Lock()
		got = append(got, comp)
		mu.Unlock()
	}))

	res, err := c.Download(context.Background(), "https://example.com/watch?v=r", "bestaudio")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, res.Entry.Key, got[0].Key)
	assert.Equal(t, "bestaudio", got[0].Format)
	assert.Equal(t, res.Entry.Size, got[0].Size)
	assert.NotEmpty(t, got[0].JobID)
}

func assertNoPartialFiles(t *testing.T, dir string) {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, de := range des {
		assert.False(t, strings.HasSuffix(de.Name(), ".partial"),
			"stray partial file %s", filepath.Join(dir, de.Name()))
	}
}

// extractorFunc adapts bare funcs to the Extractor interface.
type extractorFunc struct {
	meta  func(context.Context, string) (*ytdlp.Metadata, error)
	fetch func(context.Context, string, string, string) error
}

func (e extractorFunc) Metadata(ctx context.Context, url string) (*ytdlp.Metadata, error) {
	return e.meta(ctx, url)
}

func (e extractorFunc) Fetch(ctx context.Context, url, format, dest string) error {
	return e.fetch(ctx, url, format, dest)
}

type recorderFunc func(Completion)

func (f recorderFunc) RecordCompletion(c Completion) { f(c) }
