// Package fetch coordinates downloads so the external extractor runs at
// most once per cache key at a time. The first requester for an uncached
// key becomes the leader and drives the download; everyone else arriving
// before it resolves waits on the same slot and observes the same outcome.
package fetch

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/metrics"
	"github.com/nanovideo/nanovideo/internal/safeurl"
	"github.com/nanovideo/nanovideo/internal/ytdlp"
)

// Extractor is the calling contract for the external media tool. Both calls
// may block for a long time and are only ever invoked off the hot request
// path, behind the coordinator's concurrency bound.
type Extractor interface {
	Metadata(ctx context.Context, url string) (*ytdlp.Metadata, error)
	Fetch(ctx context.Context, url, format, dest string) error
}

// Result is delivered to every waiter on a slot: the now-complete cache
// entry plus the metadata the leader extracted. Meta is nil on a plain
// cache hit (no extractor ran).
type Result struct {
	Entry cache.Entry
	Meta  *ytdlp.Metadata
}

// Completion describes a finished download for the history ledger.
type Completion struct {
	JobID    string
	Key      string
	URL      string
	Format   string
	Filename string
	Size     int64
	Elapsed  time.Duration
}

// Recorder persists completions. Implemented by the history store; optional.
type Recorder interface {
	RecordCompletion(Completion)
}

// slot is the in-flight record for one key. res/err are written exactly
// once, before done is closed; waiters read them only after <-done.
type slot struct {
	done    chan struct{}
	res     *Result
	err     error
	started time.Time
}

// Options bound the coordinator's appetite for extractor processes.
type Options struct {
	// MaxConcurrent extractor invocations across all keys.
	MaxConcurrent int
	// StartInterval/StartBurst pace extraction starts (token bucket).
	// Zero interval disables pacing.
	StartInterval time.Duration
	StartBurst    int
	// Timeout bounds one whole fetch (metadata + download + rename).
	Timeout time.Duration
}

// Coordinator implements single-flight per cache key.
type Coordinator struct {
	index    *cache.Index
	ext      Extractor
	recorder Recorder
	timeout  time.Duration

	sem     chan struct{}
	limiter *rate.Limiter

	mu    sync.Mutex
	slots map[string]*slot
}

func New(index *cache.Index, ext Extractor, opts Options) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	limit := rate.Inf
	burst := opts.StartBurst
	if opts.StartInterval > 0 {
		limit = rate.Every(opts.StartInterval)
		if burst <= 0 {
			burst = opts.MaxConcurrent
		}
	} else {
		burst = 1
	}
	return &Coordinator{
		index:   index,
		ext:     ext,
		timeout: opts.Timeout,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		slots:   make(map[string]*slot),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// SetRecorder attaches a completion recorder (history ledger).
func (c *Coordinator) SetRecorder(r Recorder) { c.recorder = r }

// Download returns a complete cache entry for (url, format), fetching it
// through the extractor when absent. Concurrent callers for the same key
// share one extraction; ctx cancels only this caller's wait, never an
// extraction that other waiters still care about.
func (c *Coordinator) Download(ctx context.Context, url, format string) (*Result, error) {
	key, err := cache.DeriveKey(url, format)
	if err != nil {
		return nil, err
	}

	if e, ok, err := c.index.Lookup(key); err != nil {
		return nil, errors.Wrap(ErrStorage, err.Error())
	} else if ok {
		metrics.CacheHits.Inc()
		return &Result{Entry: e}, nil
	}
	metrics.CacheMisses.Inc()

	c.mu.Lock()
	if s, exists := c.slots[key]; exists {
		c.mu.Unlock()
		log.WithField("key", key).Debug("fetch: joining in-flight download")
		return c.wait(ctx, s)
	}
	s := &slot{done: make(chan struct{}), started: time.Now()}
	c.slots[key] = s
	c.mu.Unlock()

	// The leader's work runs on its own goroutine and the leader then waits
	// like any other caller, so a leader whose client disconnects detaches
	// without aborting the download for later joiners.
	go c.lead(ctx, key, url, format, s)
	return c.wait(ctx, s)
}

// wait blocks until the slot resolves or the caller's context expires.
func (c *Coordinator) wait(ctx context.Context, s *slot) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return s.res, s.err
	}
}

// lead runs the download as the slot's leader and broadcasts the outcome.
// The work runs on a context detached from the leader's own request: one
// impatient client must not kill the download for every other waiter.
func (c *Coordinator) lead(ctx context.Context, key, url, format string, s *slot) {
	jobID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"job":    jobID,
		"key":    key,
		"url":    safeurl.Redact(url),
		"format": format,
	})
	logger.Info("fetch: starting download")

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	metrics.FetchesInFlight.Inc()
	res, err := c.run(lctx, key, url, format)
	metrics.FetchesInFlight.Dec()

	elapsed := time.Since(s.started)
	if err != nil {
		metrics.Extractions.WithLabelValues("failure").Inc()
		logger.WithError(err).WithField("elapsed", elapsed.Round(time.Millisecond)).
			Warn("fetch: download failed")
	} else {
		metrics.Extractions.WithLabelValues("success").Inc()
		logger.WithFields(log.Fields{
			"file":    res.Entry.Name,
			"size":    res.Entry.Size,
			"elapsed": elapsed.Round(time.Millisecond),
		}).Info("fetch: download complete")
		if c.recorder != nil {
			c.recorder.RecordCompletion(Completion{
				JobID:    jobID,
				Key:      key,
				URL:      url,
				Format:   format,
				Filename: res.Entry.Name,
				Size:     res.Entry.Size,
				Elapsed:  elapsed,
			})
		}
	}

	// Resolve: publish the outcome, then remove the slot and wake waiters.
	// Removal and close happen under the same lock as insert, so a new
	// request for the key after this point starts a fresh slot.
	s.res, s.err = res, err
	c.mu.Lock()
	delete(c.slots, key)
	close(s.done)
	c.mu.Unlock()
}

// run performs one extraction: metadata for the extension, download to the
// partial path, atomic rename to the final path. On any failure the partial
// file is removed before the error is returned.
func (c *Coordinator) run(ctx context.Context, key, url, format string) (*Result, error) {
	// The slot was created from a possibly stale miss; another leader may
	// have finished in between. Cheap re-check before paying for the tool.
	// This request was already counted as a miss, so no hit is recorded.
	if e, ok, err := c.index.Lookup(key); err == nil && ok {
		return &Result{Entry: e}, nil
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for fetch slot")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for fetch rate")
	}

	meta, err := c.ext.Metadata(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(ErrExtractionFailed, "%v", err)
	}

	partial := c.index.PartialPath(key)
	if err := c.ext.Fetch(ctx, url, format, partial); err != nil {
		os.Remove(partial)
		return nil, errors.Wrapf(ErrExtractionFailed, "%v", err)
	}

	fi, err := os.Stat(partial)
	if err != nil || fi.Size() == 0 {
		os.Remove(partial)
		return nil, errors.Wrap(ErrExtractionFailed, "tool reported success but produced no file")
	}

	final := c.index.FinalPath(key, meta.Ext)
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return nil, errors.Wrapf(ErrStorage, "promote download: %v", err)
	}

	e, ok, err := c.index.Lookup(key)
	if err != nil || !ok {
		return nil, errors.Wrap(ErrStorage, "promoted file missing from index")
	}
	return &Result{Entry: e, Meta: meta}, nil
}

// InFlight reports the number of keys currently being fetched (for /health).
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
