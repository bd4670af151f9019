// Package daemon composes the lifecycle manager, resource governor and
// generation engine into the single service surface consumed by the HTTP
// layer.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/governor"
	"chatd/internal/lifecycle"
	"chatd/internal/loader"
	"chatd/pkg/types"
)

// Daemon implements httpapi.Service.
type Daemon struct {
	lm        *lifecycle.Manager
	eng       *engine.Engine
	gov       *governor.Governor
	modelsDir string
	start     time.Time
	log       zerolog.Logger
}

// New wires a Daemon. modelsDir is scanned on every listing so models fetched
// after startup appear without a restart.
func New(lm *lifecycle.Manager, eng *engine.Engine, gov *governor.Governor, modelsDir string, log zerolog.Logger) *Daemon {
	return &Daemon{
		lm:        lm,
		eng:       eng,
		gov:       gov,
		modelsDir: modelsDir,
		start:     time.Now(),
		log:       log,
	}
}

// ListModels scans the models directory. A scan failure yields an empty list.
func (d *Daemon) ListModels() []types.Model {
	models, err := loader.ScanDir(d.modelsDir)
	if err != nil {
		d.log.Warn().Err(err).Str("dir", d.modelsDir).Msg("model scan failed")
		return []types.Model{}
	}
	return models
}

// Status assembles the lifecycle snapshot and governor ledger.
func (d *Daemon) Status() types.StatusResponse {
	snap := d.lm.Snapshot()
	now := time.Now()
	return types.StatusResponse{
		State:          string(snap.State),
		Model:          snap.ModelID,
		Progress:       snap.Progress,
		Error:          snap.Err,
		Governor:       d.gov.Status(),
		UptimeSeconds:  int64(now.Sub(d.start).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

// Generate delegates to the engine.
func (d *Daemon) Generate(ctx context.Context, req types.GenerateRequest) (*engine.Stream, error) {
	return d.eng.Generate(ctx, req)
}

// LoadModel loads or switches to modelID. A load superseded by a newer one
// is not an error for its caller: the newer load owns the outcome.
func (d *Daemon) LoadModel(ctx context.Context, modelID string) error {
	_, err := d.lm.Load(ctx, modelID)
	if lifecycle.IsSuperseded(err) {
		return nil
	}
	return err
}

// UnloadModel unloads the current model, if any.
func (d *Daemon) UnloadModel() error {
	return d.lm.Unload()
}

// Ready reports whether a model is loaded and generation can be served.
func (d *Daemon) Ready() bool {
	return d.lm.Snapshot().State == lifecycle.StateLoaded
}
