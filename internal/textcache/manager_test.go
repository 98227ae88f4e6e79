package textcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jwhahn/studydesk/internal/storage"
)

// mockExtractor counts calls and serves canned text per path.
type mockExtractor struct {
	mu          sync.Mutex
	texts       map[string]string // by base name
	errs        map[string]error
	calls       atomic.Int32
	forcedCalls atomic.Int32
	forcedText  string
}

func (m *mockExtractor) Extract(_ context.Context, path string) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	name := filepath.Base(path)
	if err, ok := m.errs[name]; ok {
		return "", err
	}
	return m.texts[name], nil
}

func (m *mockExtractor) ExtractForced(_ context.Context, path string) (string, error) {
	m.forcedCalls.Add(1)
	if m.forcedText != "" {
		return m.forcedText, nil
	}
	return m.Extract(context.Background(), path)
}

type testEnv struct {
	store   *storage.Store
	dir     string
	mgr     *Manager
	extract *mockExtractor
}

type dirSource struct {
	root string
}

func (d *dirSource) Files(userID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (d *dirSource) Path(userID, filename string) string {
	return filepath.Join(d.root, userID, filename)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })

	dir := t.TempDir()
	ex := &mockExtractor{texts: map[string]string{}, errs: map[string]error{}}
	return &testEnv{
		store:   s,
		dir:     dir,
		mgr:     NewManager(s, &dirSource{root: dir}, ex),
		extract: ex,
	}
}

func (env *testEnv) addFile(t *testing.T, user, name, extractedText string) {
	t.Helper()
	userDir := filepath.Join(env.dir, user)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(userDir, name), []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.extract.mu.Lock()
	env.extract.texts[name] = extractedText
	env.extract.mu.Unlock()
}

const longText = "Photosynthesis converts light energy into chemical energy stored in glucose."

func TestGet_CacheHitSkipsExtractor(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "notes.txt", longText)

	ctx := context.Background()
	first, err := env.mgr.Get(ctx, "alice", "notes.txt", false)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	if first.Status != StatusOK || first.Text != longText {
		t.Fatalf("Get 1 = %+v", first)
	}

	second, err := env.mgr.Get(ctx, "alice", "notes.txt", false)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if second.Text != first.Text {
		t.Errorf("Get 2 text = %q, want %q", second.Text, first.Text)
	}
	if n := env.extract.calls.Load(); n != 1 {
		t.Errorf("extractor calls = %d, want 1", n)
	}
}

func TestGet_WriteThroughDurable(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "notes.txt", longText)

	if _, err := env.mgr.Get(context.Background(), "alice", "notes.txt", false); err != nil {
		t.Fatal(err)
	}

	doc, err := env.store.LoadDocument("alice", storage.KindOCR)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	var cache map[string]entry
	if err := json.Unmarshal([]byte(doc.Body), &cache); err != nil {
		t.Fatalf("cache doc not JSON: %v", err)
	}
	e, ok := cache["notes.txt"]
	if !ok {
		t.Fatal("notes.txt missing from durable cache")
	}
	if e.Text != longText || e.Status != entryOK {
		t.Errorf("entry = %+v", e)
	}
}

func TestGet_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.mgr.Get(context.Background(), "alice", "ghost.txt", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Status != StatusAbsent {
		t.Errorf("Status = %v, want StatusAbsent", res.Status)
	}

	// Nothing cached: failures stay retryable.
	doc, _ := env.store.LoadDocument("alice", storage.KindOCR)
	if strings.Contains(doc.Body, "ghost") {
		t.Errorf("missing file was cached: %q", doc.Body)
	}
}

func TestGet_ExtractionErrorNotCached(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "bad.txt", "")
	env.extract.errs["bad.txt"] = fmt.Errorf("parser exploded")

	res, err := env.mgr.Get(context.Background(), "alice", "bad.txt", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Status != StatusAbsent {
		t.Errorf("Status = %v, want StatusAbsent", res.Status)
	}

	// Retry hits the extractor again.
	env.extract.mu.Lock()
	delete(env.extract.errs, "bad.txt")
	env.extract.texts["bad.txt"] = longText
	env.extract.mu.Unlock()

	res, err = env.mgr.Get(context.Background(), "alice", "bad.txt", false)
	if err != nil {
		t.Fatalf("Get retry: %v", err)
	}
	if res.Status != StatusOK {
		t.Errorf("retry Status = %v, want StatusOK", res.Status)
	}
}

func TestGet_ThinPDFNeedsOCR(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "scan.pdf", "p1")

	res, err := env.mgr.Get(context.Background(), "alice", "scan.pdf", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Status != StatusNeedsOCR {
		t.Fatalf("Status = %v, want StatusNeedsOCR", res.Status)
	}

	// The sentinel is cached, not recomputed on re-read.
	res, err = env.mgr.Get(context.Background(), "alice", "scan.pdf", false)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if res.Status != StatusNeedsOCR {
		t.Errorf("Status 2 = %v, want StatusNeedsOCR", res.Status)
	}
	if n := env.extract.calls.Load(); n != 1 {
		t.Errorf("extractor calls = %d, want 1", n)
	}
}

func TestGet_ForceBypassesAndOverwrites(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "scan.pdf", "p1")
	env.extract.forcedText = longText

	ctx := context.Background()
	if _, err := env.mgr.Get(ctx, "alice", "scan.pdf", false); err != nil {
		t.Fatal(err)
	}

	res, err := env.mgr.Get(ctx, "alice", "scan.pdf", true)
	if err != nil {
		t.Fatalf("forced Get: %v", err)
	}
	if res.Status != StatusOK || res.Text != longText {
		t.Fatalf("forced Get = %+v", res)
	}
	if n := env.extract.forcedCalls.Load(); n != 1 {
		t.Errorf("forced calls = %d, want 1", n)
	}

	// Overwritten entry now serves as a plain hit.
	res, err = env.mgr.Get(ctx, "alice", "scan.pdf", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK || res.Text != longText {
		t.Errorf("post-force Get = %+v", res)
	}
}

func TestGet_ForcedEmptyResultPurgesStaleEntry(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "notes.txt", longText)

	ctx := context.Background()
	if _, err := env.mgr.Get(ctx, "alice", "notes.txt", false); err != nil {
		t.Fatal(err)
	}

	// The forced pass now finds nothing in the file.
	env.extract.mu.Lock()
	env.extract.texts["notes.txt"] = ""
	env.extract.mu.Unlock()

	res, err := env.mgr.Get(ctx, "alice", "notes.txt", true)
	if err != nil {
		t.Fatalf("forced Get: %v", err)
	}
	if res.Status != StatusAbsent {
		t.Errorf("forced Status = %v, want StatusAbsent", res.Status)
	}

	// The superseded text must not keep serving as a hit.
	doc, err := env.store.LoadDocument("alice", storage.KindOCR)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(doc.Body, "notes.txt") {
		t.Errorf("stale entry survived forced empty result: %q", doc.Body)
	}
}

func TestGet_ConcurrentMissesExtractOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "notes.txt", longText)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.mgr.Get(context.Background(), "alice", "notes.txt", false)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if res.Text != longText {
				t.Errorf("Get text = %q", res.Text)
			}
		}()
	}
	wg.Wait()

	if n := env.extract.calls.Load(); n != 1 {
		t.Errorf("extractor calls = %d, want 1", n)
	}
}

func TestAggregate_ScenarioAndGC(t *testing.T) {
	env := newTestEnv(t)
	sentence := "Photosynthesis converts light to energy."
	env.addFile(t, "alice", "notes.txt", sentence)
	env.addFile(t, "alice", "extra.txt", longText)

	ctx := context.Background()
	text, err := env.mgr.Aggregate(ctx, "alice")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !strings.Contains(text, "--- notes.txt ---") {
		t.Errorf("aggregate missing notes.txt header: %q", text)
	}
	if !strings.Contains(text, sentence) {
		t.Errorf("aggregate missing sentence: %q", text)
	}

	// Delete extra.txt and re-aggregate: its entry and text must vanish.
	if err := os.Remove(filepath.Join(env.dir, "alice", "extra.txt")); err != nil {
		t.Fatal(err)
	}
	text, err = env.mgr.Aggregate(ctx, "alice")
	if err != nil {
		t.Fatalf("Aggregate 2: %v", err)
	}
	if strings.Contains(text, "extra.txt") {
		t.Errorf("aggregate still mentions deleted file: %q", text)
	}

	doc, err := env.store.LoadDocument("alice", storage.KindOCR)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(doc.Body, "extra.txt") {
		t.Errorf("deleted file still in durable cache: %q", doc.Body)
	}
	if !strings.Contains(doc.Body, "notes.txt") {
		t.Errorf("surviving file purged from durable cache: %q", doc.Body)
	}
}

func TestAggregate_PartialFailureSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "good.txt", longText)
	env.addFile(t, "alice", "bad.txt", "")
	env.extract.errs["bad.txt"] = fmt.Errorf("boom")

	text, err := env.mgr.Aggregate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !strings.Contains(text, "good.txt") {
		t.Errorf("aggregate missing good file: %q", text)
	}
	if strings.Contains(text, "bad.txt") {
		t.Errorf("aggregate includes failed file: %q", text)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "alice", "notes.txt", longText)

	if _, err := env.mgr.Get(context.Background(), "alice", "notes.txt", false); err != nil {
		t.Fatal(err)
	}
	if err := env.mgr.Remove("alice", "notes.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	names, err := env.mgr.CachedFiles("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("CachedFiles = %v, want empty", names)
	}
}

func TestCorruptDocumentDegradesToEmpty(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.SaveDocument("alice", storage.KindOCR, "{not json", 0); err != nil {
		t.Fatal(err)
	}
	env.addFile(t, "alice", "notes.txt", longText)

	res, err := env.mgr.Get(context.Background(), "alice", "notes.txt", false)
	if err != nil {
		t.Fatalf("Get over corrupt doc: %v", err)
	}
	if res.Status != StatusOK {
		t.Errorf("Status = %v, want StatusOK", res.Status)
	}
}
