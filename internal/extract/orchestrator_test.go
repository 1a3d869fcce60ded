package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/retrolab/basicscan/internal/uploadcache"
	"github.com/retrolab/basicscan/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

// --- fakes ---

type fakeStore struct {
	mu          sync.Mutex
	uploads     map[string]int
	deletes     map[string]int
	failUploads map[string]error
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads:     make(map[string]int),
		deletes:     make(map[string]int),
		failUploads: make(map[string]error),
	}
}

func (s *fakeStore) Upload(_ context.Context, path string) (types.FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[path]++
	if err := s.failUploads[path]; err != nil {
		return types.FileHandle{}, err
	}
	s.nextID++
	return types.FileHandle{ID: fmt.Sprintf("files/%d", s.nextID), URI: "uri-" + path}, nil
}

func (s *fakeStore) Delete(_ context.Context, h types.FileHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[h.ID]++
	return nil
}

func (s *fakeStore) totalUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.uploads {
		n += c
	}
	return n
}

func (s *fakeStore) totalDeletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.deletes {
		n += c
	}
	return n
}

type fakeLocator struct{}

func (fakeLocator) Locate(page int) (string, error) {
	return fmt.Sprintf("page%d.png", page), nil
}

// scriptedGenerator returns per-program responses matched by program name
// inside the prompt, and records the handles each call received.
type scriptedGenerator struct {
	responses map[string]string // program name -> source text
	errs      map[string]error  // program name -> forced error
	calls     []([]types.FileHandle)
	cancel    map[string]context.CancelFunc // cancel ctx when this program is reached
}

func (g *scriptedGenerator) GenerateContent(_ context.Context, prompt string, handles []types.FileHandle) (string, error) {
	g.calls = append(g.calls, handles)
	for name, cancel := range g.cancel {
		if strings.Contains(prompt, fmt.Sprintf("%q", name)) {
			cancel()
			return "", context.Canceled
		}
	}
	for name, err := range g.errs {
		if strings.Contains(prompt, fmt.Sprintf("%q", name)) {
			return "", err
		}
	}
	for name, resp := range g.responses {
		if strings.Contains(prompt, fmt.Sprintf("%q", name)) {
			return resp, nil
		}
	}
	return "", fmt.Errorf("no scripted response")
}

// failNTimesGenerator fails the first N calls, then succeeds.
type failNTimesGenerator struct {
	failures  int
	callCount int
	response  string
}

func (g *failNTimesGenerator) GenerateContent(context.Context, string, []types.FileHandle) (string, error) {
	g.callCount++
	if g.callCount <= g.failures {
		return "", fmt.Errorf("transient error (call %d)", g.callCount)
	}
	return g.response, nil
}

func newRun(store *fakeStore, gen Generator) (*uploadcache.Cache, *Orchestrator) {
	cache := uploadcache.New(store, fakeLocator{}, 1, io.Discard)
	return cache, NewOrchestrator(cache, gen, 3, io.Discard)
}

func twoProgramList() types.ProgramList {
	return types.ProgramList{Programs: []types.Program{
		{Name: "Chomp", Pages: []int{2, 3}},
		{Name: "Hammurabi", Pages: []int{3, 5}},
	}}
}

// --- tests ---

func TestRun_SharedPageScenario(t *testing.T) {
	store := newFakeStore()
	gen := &scriptedGenerator{responses: map[string]string{
		"Chomp":     "10 PRINT \"CHOMP\"",
		"Hammurabi": "10 PRINT \"HAMMURABI\"",
	}}
	cache, orch := newRun(store, gen)

	results, cleanup, err := orch.Run(context.Background(), twoProgramList())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Union {2,3,5}: exactly 3 uploads despite page 3 being shared.
	if store.totalUploads() != 3 {
		t.Errorf("uploads = %d, want 3", store.totalUploads())
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Program.Name != "Chomp" || results[1].Program.Name != "Hammurabi" {
		t.Error("results not in program input order")
	}
	for _, r := range results {
		if r.Failed() {
			t.Errorf("%q failed: %s", r.Program.Name, r.Error)
		}
	}

	// Program 1 saw [h2, h3]; program 2 saw [h3, h5] with the same h3.
	if len(gen.calls) != 2 {
		t.Fatalf("generator called %d times, want 2", len(gen.calls))
	}
	first, second := gen.calls[0], gen.calls[1]
	if first[0].Page != 2 || first[1].Page != 3 {
		t.Errorf("program 1 pages = [%d %d], want [2 3]", first[0].Page, first[1].Page)
	}
	if second[0].Page != 3 || second[1].Page != 5 {
		t.Errorf("program 2 pages = [%d %d], want [3 5]", second[0].Page, second[1].Page)
	}
	if first[1].ID != second[0].ID {
		t.Error("shared page 3 resolved to different handles")
	}

	// Cleanup totality: 3 deletes, empty mapping.
	if store.totalDeletes() != 3 {
		t.Errorf("deletes = %d, want 3", store.totalDeletes())
	}
	if len(cleanup.Outcomes) != 3 || cleanup.Released() != 3 {
		t.Errorf("cleanup = %+v", cleanup)
	}
	if cache.Len() != 0 {
		t.Errorf("cache.Len() = %d after run, want 0", cache.Len())
	}
	if orch.State() != StateDone {
		t.Errorf("state = %s, want %s", orch.State(), StateDone)
	}
}

func TestRun_RepeatedPageOrderPreserved(t *testing.T) {
	store := newFakeStore()
	gen := &scriptedGenerator{responses: map[string]string{"Echo": "10 REM"}}
	_, orch := newRun(store, gen)

	list := types.ProgramList{Programs: []types.Program{
		{Name: "Echo", Pages: []int{3, 5, 3}},
	}}
	_, _, err := orch.Run(context.Background(), list)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	handles := gen.calls[0]
	if len(handles) != 3 {
		t.Fatalf("generator received %d handles, want 3", len(handles))
	}
	if handles[0].Page != 3 || handles[1].Page != 5 || handles[2].Page != 3 {
		t.Errorf("pages = [%d %d %d], want [3 5 3]", handles[0].Page, handles[1].Page, handles[2].Page)
	}
	if handles[0].ID != handles[2].ID {
		t.Error("repeat of page 3 resolved to a different handle")
	}
	// The repeat must not trigger a second upload.
	if store.totalUploads() != 2 {
		t.Errorf("uploads = %d, want 2", store.totalUploads())
	}
}

func TestRun_PerProgramFailureContinues(t *testing.T) {
	store := newFakeStore()
	gen := &scriptedGenerator{
		responses: map[string]string{"Hammurabi": "20 GOTO 10"},
		errs:      map[string]error{"Chomp": errors.New("model refused")},
	}
	cache, orch := newRun(store, gen)

	results, cleanup, err := orch.Run(context.Background(), twoProgramList())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !results[0].Failed() {
		t.Error("program 1 should carry a failure marker")
	}
	if results[1].Failed() {
		t.Errorf("program 2 failed: %s", results[1].Error)
	}
	// Shared page 3 stayed live for program 2, and cleanup still swept all.
	if cleanup.Released() != 3 {
		t.Errorf("released = %d, want 3", cleanup.Released())
	}
	if cache.Len() != 0 {
		t.Error("handles leaked")
	}
}

func TestRun_CleanupUnderFatalFailure(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &scriptedGenerator{
		responses: map[string]string{"First": "10 REM", "Third": "30 REM"},
		cancel:    map[string]context.CancelFunc{"Second": cancel},
	}
	cache, orch := newRun(store, gen)

	list := types.ProgramList{Programs: []types.Program{
		{Name: "First", Pages: []int{1}},
		{Name: "Second", Pages: []int{2}},
		{Name: "Third", Pages: []int{3}},
	}}

	results, cleanup, err := orch.Run(ctx, list)
	if err == nil {
		t.Fatal("expected a fatal error")
	}

	// One result per program even on abort.
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Failed() {
		t.Error("program 1 completed before the failure and should be intact")
	}
	if !results[1].Failed() || !results[2].Failed() {
		t.Error("programs 2 and 3 should carry failure markers")
	}

	// Handles for all three pages still released.
	if cleanup.Released() != 3 {
		t.Errorf("released = %d, want 3", cleanup.Released())
	}
	if store.totalDeletes() != 3 {
		t.Errorf("deletes = %d, want 3", store.totalDeletes())
	}
	if cache.Len() != 0 {
		t.Error("handles leaked after fatal failure")
	}
	if orch.State() != StateFailed {
		t.Errorf("state = %s, want %s", orch.State(), StateFailed)
	}
}

func TestRun_UploadFailureDegradesDependentsOnly(t *testing.T) {
	store := newFakeStore()
	store.failUploads["page5.png"] = errors.New("quota exceeded")
	gen := &scriptedGenerator{responses: map[string]string{
		"Chomp":     "10 REM",
		"Hammurabi": "20 REM",
	}}
	cache, orch := newRun(store, gen)

	results, cleanup, err := orch.Run(context.Background(), twoProgramList())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if results[0].Failed() {
		t.Errorf("program 1 does not depend on page 5, got: %s", results[0].Error)
	}
	if !results[1].Failed() || !strings.Contains(results[1].Error, "page 5") {
		t.Errorf("program 2 should be degraded by page 5, got: %q", results[1].Error)
	}
	// Only pages 2 and 3 were uploaded; both released.
	if cleanup.Released() != 2 {
		t.Errorf("released = %d, want 2", cleanup.Released())
	}
	if cache.Len() != 0 {
		t.Error("handles leaked")
	}
}

func TestRun_EmptyResponseIsFailureMarker(t *testing.T) {
	store := newFakeStore()
	gen := &scriptedGenerator{responses: map[string]string{"Blank": "   \n"}}
	_, orch := newRun(store, gen)

	list := types.ProgramList{Programs: []types.Program{{Name: "Blank", Pages: []int{1}}}}
	results, _, err := orch.Run(context.Background(), list)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, "empty response") {
		t.Errorf("result = %+v, want empty-response failure", results[0])
	}
}

func TestRun_InvalidProgramListIsFatal(t *testing.T) {
	store := newFakeStore()
	_, orch := newRun(store, &scriptedGenerator{})

	list := types.ProgramList{Programs: []types.Program{{Name: "Bad", Pages: []int{-1}}}}
	_, _, err := orch.Run(context.Background(), list)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if store.totalUploads() != 0 {
		t.Error("uploads attempted for an invalid program list")
	}
}

func TestCallWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	store := newFakeStore()
	gen := &failNTimesGenerator{failures: 2, response: "10 REM OK"}
	_, orch := newRun(store, gen)

	list := types.ProgramList{Programs: []types.Program{{Name: "Retry", Pages: []int{1}}}}
	results, _, err := orch.Run(context.Background(), list)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Failed() {
		t.Errorf("result failed: %s", results[0].Error)
	}
	if gen.callCount != 3 {
		t.Errorf("generator called %d times, want 3", gen.callCount)
	}
}

func TestCallWithRetry_Exhausts(t *testing.T) {
	store := newFakeStore()
	gen := &failNTimesGenerator{failures: 100}
	_, orch := newRun(store, gen)

	list := types.ProgramList{Programs: []types.Program{{Name: "Doomed", Pages: []int{1}}}}
	results, cleanup, err := orch.Run(context.Background(), list)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results[0].Failed() {
		t.Error("expected failure marker after retries exhausted")
	}
	if gen.callCount != 4 {
		t.Errorf("generator called %d times, want 4 (1 + 3 retries)", gen.callCount)
	}
	if cleanup.Released() != 1 {
		t.Errorf("released = %d, want 1", cleanup.Released())
	}
}

// --- writer ---

func TestSaveListing(t *testing.T) {
	dir := t.TempDir()
	result := types.ListingResult{
		Program: types.Program{Name: "Lunar Lander!", Pages: []int{2}},
		Source:  "```basic\n10 PRINT \"LANDER\"\n```",
	}

	path, err := SaveListing(dir, result)
	if err != nil {
		t.Fatalf("SaveListing: %v", err)
	}
	if filepath.Base(path) != "lunar-lander.md" {
		t.Errorf("saved as %s, want lunar-lander.md", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Lunar Lander!\n\n") {
		t.Errorf("content missing title header: %q", content)
	}
	if !strings.Contains(content, "10 PRINT") {
		t.Error("content missing source")
	}
}

func TestSaveListing_RefusesFailedResult(t *testing.T) {
	result := types.ListingResult{
		Program: types.Program{Name: "Broken", Pages: []int{1}},
		Error:   "model refused",
	}
	if _, err := SaveListing(t.TempDir(), result); err == nil {
		t.Error("expected error saving a failed result")
	}
}

func TestWriteRunReport(t *testing.T) {
	dir := t.TempDir()
	report := types.RunReport{
		Results: []types.ListingResult{
			{Program: types.Program{Name: "A", Pages: []int{1}}, Source: "10 REM"},
			{Program: types.Program{Name: "B", Pages: []int{2}}, Error: "boom"},
		},
		Cleanup: types.CleanupReport{Outcomes: []types.ReleaseOutcome{
			{Page: 1, HandleID: "files/1"},
			{Page: 2, HandleID: "files/2", Error: "stuck"},
		}},
	}

	path, err := WriteRunReport(dir, report)
	if err != nil {
		t.Fatalf("WriteRunReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got types.RunReport
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("report is not valid YAML: %v", err)
	}
	if len(got.Results) != 2 || got.Results[1].Error != "boom" {
		t.Errorf("round-tripped report = %+v", got)
	}
	if got.Cleanup.Released() != 1 || len(got.Cleanup.Leaked()) != 1 {
		t.Errorf("cleanup = %+v", got.Cleanup)
	}
}
