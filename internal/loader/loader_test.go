package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"chatd/internal/backend"
)

type stubModel struct{ dir string }

func (stubModel) Close() error { return nil }

func stubOpener(t *testing.T) backend.Opener {
	t.Helper()
	return func(dir string, progress func(float64)) (backend.Model, error) {
		if progress != nil {
			progress(1)
		}
		return stubModel{dir: dir}, nil
	}
}

func makeModelDir(t *testing.T, root, owner, name string, sizeBytes int) string {
	t.Helper()
	dir := filepath.Join(root, owner, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, weightsFile), make([]byte, sizeBytes), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return dir
}

func TestScanDirListsOwnerNamePairs(t *testing.T) {
	root := t.TempDir()
	makeModelDir(t, root, "alpha", "model-a", 10)
	makeModelDir(t, root, "alpha", "model-b", 10)
	makeModelDir(t, root, "beta", "model-c", 10)
	// Noise that must be ignored.
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	models, err := ScanDir(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("models: got %d want 3", len(models))
	}
	wantIDs := []string{"alpha/model-a", "alpha/model-b", "beta/model-c"}
	for i, want := range wantIDs {
		if models[i].ID != want {
			t.Fatalf("model %d: got %s want %s", i, models[i].ID, want)
		}
	}
}

func TestScanDirMissingRoot(t *testing.T) {
	if _, err := ScanDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestLoadOpensPresentModel(t *testing.T) {
	root := t.TempDir()
	dir := makeModelDir(t, root, "owner", "name", 10)
	l := New(root, stubOpener(t), "", zerolog.Nop())

	var last float64
	m, err := l.Load(context.Background(), "owner/name", func(p float64) { last = p })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sm, ok := m.(stubModel)
	if !ok || sm.dir != dir {
		t.Fatalf("opened wrong dir: %+v", m)
	}
	if last != 1 {
		t.Fatalf("final progress: got %v want 1", last)
	}
}

func TestLoadMissingModelWithoutFetchFails(t *testing.T) {
	l := New(t.TempDir(), stubOpener(t), "", zerolog.Nop())
	if _, err := l.Load(context.Background(), "owner/name", nil); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestLoadFetchesMissingModel(t *testing.T) {
	payload := strings.Repeat("w", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/owner/name.gguf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	root := t.TempDir()
	l := New(root, stubOpener(t), srv.URL, zerolog.Nop())

	var seen []float64
	m, err := l.Load(context.Background(), "owner/name", func(p float64) { seen = append(seen, p) })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := m.(stubModel); !ok {
		t.Fatalf("unexpected model %+v", m)
	}

	got, err := os.ReadFile(filepath.Join(root, "owner", "name", weightsFile))
	if err != nil {
		t.Fatalf("read fetched weights: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("fetched payload mismatch: %d bytes", len(got))
	}
	if len(seen) == 0 || seen[len(seen)-1] != 1 {
		t.Fatalf("progress sequence: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
}

func TestLoadFetchHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := New(t.TempDir(), stubOpener(t), srv.URL, zerolog.Nop())
	if _, err := l.Load(ctx, "owner/name", nil); err == nil {
		t.Fatal("expected cancellation error")
	}
}
