//go:build llama

package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaContextSize is the context window requested from llama.cpp.
var llamaContextSize = 16384

// SetLlamaContextSize overrides the llama.cpp context window for new loads.
func SetLlamaContextSize(n int) {
	if n > 0 {
		llamaContextSize = n
	}
}

// DefaultOpener loads GGUF weights from the model directory through
// go-llama.cpp. The returned model streams tokens natively.
func DefaultOpener() Opener {
	return func(dir string, progress func(float64)) (Model, error) {
		path, err := findWeights(dir)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(0)
		}
		m, err := llama.New(path, llama.SetContext(llamaContextSize))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if progress != nil {
			progress(1)
		}
		return &llamaModel{model: m}, nil
	}
}

// findWeights picks the single *.gguf file inside a model directory.
func findWeights(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read model dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no gguf weights in %s", dir)
}

// llamaModel adapts go-llama.cpp to the TokenStreamer capability. The native
// runtime samples internally, so the in-process decode loop is bypassed.
type llamaModel struct {
	model *llama.LLama
}

func (l *llamaModel) Stream(ctx context.Context, prompt string, params Params, onToken func(string) error) (int, error) {
	if l.model == nil {
		return 0, errors.New("llama model not initialized")
	}
	generated := 0
	l.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			return false
		}
		generated++
		return true
	})
	po := []llama.PredictOption{
		llama.SetTokens(params.MaxTokens),
		llama.SetTopP(params.TopP),
		llama.SetTemperature(params.Temperature),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(int(params.Seed)))
	}
	if _, err := l.model.Predict(prompt, po...); err != nil {
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
		return generated, err
	}
	return generated, nil
}

func (l *llamaModel) Close() error {
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}
