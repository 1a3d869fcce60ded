// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package uploadcache owns the set of remote file handles alive during one
// extraction run. It guarantees that each needed page is uploaded at most
// once and that every live handle is released exactly once at the end of
// the run, whatever happened in between.
package uploadcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/retrolab/basicscan/pkg/types"
)

// Store is the remote file service the cache manages handles for.
// Implementations are expected to carry their own timeout and rate-limit
// behavior; the cache treats each call as eventually returning success or
// a typed failure.
type Store interface {
	Upload(ctx context.Context, path string) (types.FileHandle, error)
	Delete(ctx context.Context, handle types.FileHandle) error
}

// Locator resolves a page number to a local artifact path.
type Locator interface {
	Locate(page int) (string, error)
}

// UploadError reports a failed upload for one page. Programs depending on
// the page are degraded; the run continues.
type UploadError struct {
	Page int
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading page %d: %v", e.Page, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// MissingHandleError reports a lookup for a page that was never ensured.
// This is an orchestration ordering bug, not a remote-service failure,
// and is always fatal to the run.
type MissingHandleError struct {
	Page int
}

func (e *MissingHandleError) Error() string {
	return fmt.Sprintf("no remote handle for page %d: page was never uploaded", e.Page)
}

// ErrReleased is returned when a released cache is used again. A handle
// released once must never be reused.
var ErrReleased = errors.New("upload cache already released")

// Cache maps page numbers to live remote handles. All mutation goes
// through the mutex; distinct pages may upload concurrently but only one
// goroutine writes the mapping at a time.
type Cache struct {
	store       Store
	locator     Locator
	parallelism int
	w           io.Writer

	mu       sync.Mutex
	handles  map[int]types.FileHandle
	inflight map[int]chan struct{}
	order    []int // insertion order, for a deterministic release sweep
	released bool
}

// New returns an empty cache. parallelism bounds concurrent uploads of
// distinct pages; values below 1 mean sequential. Progress lines are
// written to w (nil for none).
func New(store Store, locator Locator, parallelism int, w io.Writer) *Cache {
	if parallelism < 1 {
		parallelism = 1
	}
	if w == nil {
		w = io.Discard
	}
	return &Cache{
		store:       store,
		locator:     locator,
		parallelism: parallelism,
		w:           w,
		handles:     make(map[int]types.FileHandle),
		inflight:    make(map[int]chan struct{}),
	}
}

// Ensure uploads every page in pages that has no live handle yet. The
// input is deduplicated internally, so callers may pass raw program page
// sequences. Pages already cached are untouched, which makes repeated
// calls no-ops for those pages.
//
// Per-page failures come back as UploadErrors, sorted by page; no partial
// handle is ever inserted for a failed page. The error return is non-nil
// only for run-fatal conditions: a released cache or a cancelled context.
func (c *Cache) Ensure(ctx context.Context, pages []int) ([]*UploadError, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrReleased
	}
	c.mu.Unlock()

	// Deduplicate and sort so upload order (and logging) is deterministic.
	seen := make(map[int]bool, len(pages))
	var todo []int
	for _, p := range pages {
		if !seen[p] {
			seen[p] = true
			todo = append(todo, p)
		}
	}
	sort.Ints(todo)

	var (
		failMu sync.Mutex
		failed []*UploadError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for _, page := range todo {
		g.Go(func() error {
			err := c.ensurePage(gctx, page)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrReleased) || gctx.Err() != nil {
				return err
			}
			failMu.Lock()
			failed = append(failed, &UploadError{Page: page, Err: err})
			failMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Page < failed[j].Page })
	return failed, nil
}

// ensurePage uploads one page unless a handle already exists. When another
// goroutine is uploading the same page, it waits for that attempt instead
// of starting a duplicate one.
func (c *Cache) ensurePage(ctx context.Context, page int) error {
	for {
		c.mu.Lock()
		if c.released {
			c.mu.Unlock()
			return ErrReleased
		}
		if _, ok := c.handles[page]; ok {
			c.mu.Unlock()
			return nil
		}
		if ch, ok := c.inflight[page]; ok {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			// The other attempt finished; re-check whether it succeeded.
			// A failed attempt leaves the page absent and this call makes
			// its own attempt on the next loop iteration.
			c.mu.Lock()
			_, ok := c.handles[page]
			c.mu.Unlock()
			if ok {
				return nil
			}
			continue
		}
		ch := make(chan struct{})
		c.inflight[page] = ch
		c.mu.Unlock()

		handle, err := c.uploadPage(ctx, page)

		c.mu.Lock()
		delete(c.inflight, page)
		close(ch)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if c.released {
			// Released while the upload was in flight: the sweep is over,
			// so this handle must not enter the mapping. Best-effort
			// delete so it does not leak.
			c.mu.Unlock()
			c.store.Delete(context.WithoutCancel(ctx), handle)
			return ErrReleased
		}
		c.handles[page] = handle
		c.order = append(c.order, page)
		c.mu.Unlock()
		return nil
	}
}

// uploadPage resolves the local artifact and uploads it.
func (c *Cache) uploadPage(ctx context.Context, page int) (types.FileHandle, error) {
	path, err := c.locator.Locate(page)
	if err != nil {
		return types.FileHandle{}, err
	}

	fmt.Fprintf(c.w, "uploading page %d (%s)\n", page, path)
	handle, err := c.store.Upload(ctx, path)
	if err != nil {
		return types.FileHandle{}, err
	}
	handle.Page = page
	return handle, nil
}

// Resolve looks up each page in order and returns the matching handles.
// The output order matches the input exactly, repeats included; a page
// shared by several programs resolves to the same handle each time.
// A page without a handle fails with MissingHandleError and leaves the
// mapping unchanged.
func (c *Cache) Resolve(pages []int) ([]types.FileHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, ErrReleased
	}

	handles := make([]types.FileHandle, 0, len(pages))
	for _, page := range pages {
		h, ok := c.handles[page]
		if !ok {
			return nil, &MissingHandleError{Page: page}
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Live returns the pages with a live handle, in upload order. Signal
// handlers use this to report what a cleanup sweep is about to release.
func (c *Cache) Live() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.order...)
}

// Len returns the number of live handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// ReleaseAll deletes every live handle and empties the mapping, recording
// a per-page outcome. Entries are removed whether or not the remote
// delete succeeds: a stuck handle for one page must not leak handles for
// the rest. The sweep runs detached from ctx cancellation so cleanup
// still happens when the run was interrupted. After ReleaseAll the cache
// is closed; further Ensure and Resolve calls fail with ErrReleased, and
// a second ReleaseAll is a no-op.
func (c *Cache) ReleaseAll(ctx context.Context) types.CleanupReport {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return types.CleanupReport{}
	}
	c.released = true
	handles := c.handles
	order := c.order
	c.handles = make(map[int]types.FileHandle)
	c.order = nil
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	var report types.CleanupReport
	for _, page := range order {
		handle := handles[page]
		outcome := types.ReleaseOutcome{Page: page, HandleID: handle.ID}
		if err := c.store.Delete(ctx, handle); err != nil {
			outcome.Error = err.Error()
			fmt.Fprintf(c.w, "release failed for page %d (%s): %v\n", page, handle.ID, err)
		} else {
			fmt.Fprintf(c.w, "released page %d (%s)\n", page, handle.ID)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}
