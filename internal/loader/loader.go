// Package loader resolves model identifiers to local directories, fetching
// missing weights when a base URL is configured, and opens them through the
// backend opener.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/backend"
)

// weightsFile is the canonical weights filename inside a model directory.
const weightsFile = "weights.gguf"

// DirLoader implements lifecycle.Loader over a models directory.
type DirLoader struct {
	root         string
	opener       backend.Opener
	fetchBaseURL string
	client       *http.Client
	log          zerolog.Logger
}

// New constructs a DirLoader. fetchBaseURL may be empty to disable fetching.
func New(root string, opener backend.Opener, fetchBaseURL string, log zerolog.Logger) *DirLoader {
	return &DirLoader{
		root:         root,
		opener:       opener,
		fetchBaseURL: fetchBaseURL,
		// No client timeout: weight downloads are large; cancellation comes
		// from the load context.
		client: &http.Client{},
		log:    log,
	}
}

// Load resolves modelID to <root>/<owner>/<name>, downloads weights if the
// directory is missing and fetching is enabled, then opens the model.
// Fetching maps to progress [0,0.9], opening to [0.9,1].
func (l *DirLoader) Load(ctx context.Context, modelID string, progress func(float64)) (backend.Model, error) {
	base, err := expandHome(l.root)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, filepath.FromSlash(modelID))

	if _, err := os.Stat(filepath.Join(dir, weightsFile)); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat weights: %w", err)
		}
		if l.fetchBaseURL == "" {
			return nil, fmt.Errorf("model %s not present under %s", modelID, l.root)
		}
		if err := l.fetch(ctx, modelID, dir, func(p float64) {
			if progress != nil {
				progress(0.9 * p)
			}
		}); err != nil {
			return nil, err
		}
	}

	model, err := l.opener(dir, func(p float64) {
		if progress != nil {
			progress(0.9 + 0.1*p)
		}
	})
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(1)
	}
	return model, nil
}

// fetch downloads <base>/<owner>/<name>.gguf into dir, resuming partial
// downloads via Range requests and reporting fractional progress.
func (l *DirLoader) fetch(ctx context.Context, modelID, dir string, progress func(float64)) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	url := strings.TrimSuffix(l.fetchBaseURL, "/") + "/" + modelID + ".gguf"
	finalPath := filepath.Join(dir, weightsFile)
	tempPath := finalPath + ".part"

	var offset int64
	if info, err := os.Stat(tempPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	l.log.Info().Str("model", modelID).Str("url", url).Int64("offset", offset).Msg("fetching model weights")
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; restart from scratch.
		offset = 0
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	total := resp.ContentLength
	if total > 0 {
		total += offset
	}

	flag := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(tempPath, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()

	written := offset
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write weights: %w", werr)
			}
			written += int64(n)
			if progress != nil && total > 0 {
				progress(float64(written) / float64(total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read body: %w", rerr)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync weights: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close weights: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("finalize weights: %w", err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}
