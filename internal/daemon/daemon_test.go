package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"chatd/internal/backend"
	"chatd/internal/config"
	"chatd/internal/engine"
	"chatd/internal/governor"
	"chatd/internal/lifecycle"
)

type nopModel struct{}

func (nopModel) Close() error { return nil }

type funcLoader func(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error)

func (f funcLoader) Load(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error) {
	return f(ctx, modelID, progress)
}

func newDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	limits := config.Config{}.Normalize().Limits
	lm := lifecycle.New(funcLoader(func(context.Context, string, func(float64)) (backend.Model, error) {
		return nopModel{}, nil
	}), nil, zerolog.Nop())
	gov := governor.New(limits, nil, zerolog.Nop())
	eng := engine.New(lm, gov, limits, zerolog.Nop())
	dir := t.TempDir()
	return New(lm, eng, gov, dir, zerolog.Nop()), dir
}

func TestReadyTracksLifecycle(t *testing.T) {
	d, _ := newDaemon(t)
	if d.Ready() {
		t.Fatal("ready before load")
	}
	if err := d.LoadModel(context.Background(), "owner/test"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !d.Ready() {
		t.Fatal("not ready after load")
	}
	if err := d.UnloadModel(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if d.Ready() {
		t.Fatal("ready after unload")
	}
}

func TestStatusReflectsSnapshot(t *testing.T) {
	d, _ := newDaemon(t)
	if err := d.LoadModel(context.Background(), "owner/test"); err != nil {
		t.Fatalf("load: %v", err)
	}
	st := d.Status()
	if st.State != "loaded" || st.Model != "owner/test" {
		t.Fatalf("status: %+v", st)
	}
	if st.Progress != 1 {
		t.Fatalf("progress: %v", st.Progress)
	}
	if st.ServerTimeUnix == 0 {
		t.Fatal("missing server time")
	}
}

func TestListModelsScansDirectory(t *testing.T) {
	d, dir := newDaemon(t)
	if got := d.ListModels(); len(got) != 0 {
		t.Fatalf("empty dir: %+v", got)
	}
	if err := os.MkdirAll(filepath.Join(dir, "owner", "test"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got := d.ListModels()
	if len(got) != 1 || got[0].ID != "owner/test" {
		t.Fatalf("models: %+v", got)
	}
}
