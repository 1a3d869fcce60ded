// Package extract drives the source extraction run: upload the union of
// required pages once, call the model per program with that program's
// pages in order, and release every remote handle when the run leaves,
// no matter how it leaves.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/retrolab/basicscan/internal/uploadcache"
	"github.com/retrolab/basicscan/pkg/types"
)

// Generator is the AI call the extraction pass needs.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, handles []types.FileHandle) (string, error)
}

// State tracks where a run is in its lifecycle.
type State string

const (
	StateInit       State = "init"
	StateUploading  State = "uploading"
	StateExtracting State = "extracting"
	StateCleaningUp State = "cleaning-up"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// backoffBase controls the base duration for AI call retries.
// Tests override this to avoid real sleeps.
var backoffBase = 1 * time.Second

// Orchestrator sequences one extraction run over an upload cache.
type Orchestrator struct {
	cache      *uploadcache.Cache
	gen        Generator
	maxRetries int
	w          io.Writer
	state      State
}

// NewOrchestrator returns an orchestrator over cache and gen. maxRetries
// bounds AI call attempts per program (values below 1 mean the default 3).
func NewOrchestrator(cache *uploadcache.Cache, gen Generator, maxRetries int, w io.Writer) *Orchestrator {
	if maxRetries < 1 {
		maxRetries = 3
	}
	if w == nil {
		w = io.Discard
	}
	return &Orchestrator{
		cache:      cache,
		gen:        gen,
		maxRetries: maxRetries,
		w:          w,
		state:      StateInit,
	}
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return o.state
}

// Run processes every program in list, in input order, and returns one
// result per program plus the cleanup report. The cache's handles are
// released on every exit path: normal completion, a fatal consistency
// error, or cancellation. A per-program failure degrades only that
// program's result; the run continues, and shared pages stay live for
// later programs.
func (o *Orchestrator) Run(ctx context.Context, list types.ProgramList) (results []types.ListingResult, cleanup types.CleanupReport, err error) {
	defer func() {
		// Cleanup runs unconditionally, failed runs included.
		o.state = StateCleaningUp
		cleanup = o.cache.ReleaseAll(ctx)
		if err != nil {
			o.state = StateFailed
		} else {
			o.state = StateDone
		}
	}()

	if err = list.Validate(); err != nil {
		return results, cleanup, err
	}

	o.state = StateUploading
	unique := list.UniquePages()
	fmt.Fprintf(o.w, "ensuring %d unique pages across %d programs\n", len(unique), len(list.Programs))

	failedUploads, ferr := o.cache.Ensure(ctx, unique)
	if ferr != nil {
		err = ferr
		results = abortRemaining(results, list.Programs, "run aborted before extraction: "+ferr.Error())
		return results, cleanup, err
	}

	failedPages := make(map[int]string, len(failedUploads))
	for _, f := range failedUploads {
		failedPages[f.Page] = f.Error()
		fmt.Fprintf(o.w, "warning: %v (dependent programs degraded)\n", f)
	}

	o.state = StateExtracting
	for _, prog := range list.Programs {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			results = abortRemaining(results, list.Programs, "run cancelled: "+cerr.Error())
			return results, cleanup, err
		}

		if reason := degradedReason(prog, failedPages); reason != "" {
			fmt.Fprintf(o.w, "degraded %q: %s\n", prog.Name, reason)
			results = append(results, types.ListingResult{Program: prog, Error: reason})
			continue
		}

		handles, rerr := o.cache.Resolve(prog.Pages)
		if rerr != nil {
			// A missing handle for a page that neither failed upload nor
			// was skipped is an orchestration ordering bug; no per-program
			// recovery is sound at that point.
			err = rerr
			results = abortRemaining(results, list.Programs, "run aborted: "+rerr.Error())
			return results, cleanup, err
		}

		fmt.Fprintf(o.w, "extracting %q (pages %s)\n", prog.Name, pagesString(prog.Pages))
		source, xerr := o.callWithRetry(ctx, sourcePrompt(prog), handles)
		if xerr != nil {
			if errors.Is(xerr, context.Canceled) || errors.Is(xerr, context.DeadlineExceeded) {
				err = xerr
				results = abortRemaining(results, list.Programs, "run cancelled: "+xerr.Error())
				return results, cleanup, err
			}
			fmt.Fprintf(o.w, "failed   %q: %v\n", prog.Name, xerr)
			results = append(results, types.ListingResult{Program: prog, Error: xerr.Error()})
			continue
		}
		if strings.TrimSpace(source) == "" {
			fmt.Fprintf(o.w, "failed   %q: empty response\n", prog.Name)
			results = append(results, types.ListingResult{Program: prog, Error: "empty response from model"})
			continue
		}

		results = append(results, types.ListingResult{Program: prog, Source: source})
	}

	extracted := 0
	for _, r := range results {
		if !r.Failed() {
			extracted++
		}
	}
	fmt.Fprintf(o.w, "\nExtraction summary: %d extracted, %d failed (total: %d)\n",
		extracted, len(results)-extracted, len(results))

	return results, cleanup, nil
}

// degradedReason reports why prog cannot be extracted, or "" when all its
// pages have live handles.
func degradedReason(prog types.Program, failedPages map[int]string) string {
	var reasons []string
	seen := make(map[int]bool)
	for _, page := range prog.Pages {
		if msg, ok := failedPages[page]; ok && !seen[page] {
			seen[page] = true
			reasons = append(reasons, msg)
		}
	}
	if len(reasons) == 0 {
		return ""
	}
	return "required pages unavailable: " + strings.Join(reasons, "; ")
}

// abortRemaining fills failure markers for every program that has no
// result yet, so the run still returns one result per program.
func abortRemaining(results []types.ListingResult, programs []types.Program, msg string) []types.ListingResult {
	for _, prog := range programs[len(results):] {
		results = append(results, types.ListingResult{Program: prog, Error: msg})
	}
	return results
}

// callWithRetry calls the model with exponential backoff.
func (o *Orchestrator) callWithRetry(ctx context.Context, prompt string, handles []types.FileHandle) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := o.gen.GenerateContent(ctx, prompt, handles)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", o.maxRetries+1, lastErr)
}

// pagesString formats a page sequence for log lines.
func pagesString(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
