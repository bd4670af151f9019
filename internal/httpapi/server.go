// Package httpapi exposes the daemon over HTTP: model listing and lifecycle
// control as JSON endpoints, generation as an NDJSON token stream.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/engine"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Generate(ctx context.Context, req types.GenerateRequest) (*engine.Stream, error)
	LoadModel(ctx context.Context, modelID string) error
	UnloadModel() error
	Ready() bool
}

// tokenLine is one streamed NDJSON line carrying a decoded token.
type tokenLine struct {
	Token string `json:"token"`
}

// doneLine terminates a successful NDJSON stream.
type doneLine struct {
	Done         bool        `json:"done"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason"`
	Usage        types.Usage `json:"usage"`
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", handleListModels(svc))
		r.Get("/status", handleStatus(svc))
		r.Post("/generate", handleGenerate(svc))
		r.Post("/models/load", handleLoadModel(svc))
		r.Post("/models/unload", handleUnloadModel(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleListModels lists the locally available models.
//
//	@Summary  List models
//	@Produce  json
//	@Success  200 {object} types.ModelsResponse
//	@Router   /v1/models [get]
func handleListModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	}
}

// handleStatus reports the lifecycle snapshot and resource ledger.
//
//	@Summary  Daemon status
//	@Produce  json
//	@Success  200 {object} types.StatusResponse
//	@Router   /v1/status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleLoadModel loads (or switches to) a model. A load superseded by a
// newer one reports success; the newer load owns the outcome.
//
//	@Summary  Load a model
//	@Accept   json
//	@Produce  json
//	@Param    request body types.LoadRequest true "model to load"
//	@Success  200 {object} types.StatusResponse
//	@Failure  400 {object} types.ErrorResponse
//	@Failure  502 {object} types.ErrorResponse
//	@Router   /v1/models/load [post]
func handleLoadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		joined, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.LoadModel(joined, req.Model); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleUnloadModel unloads the current model, if any.
//
//	@Summary  Unload the current model
//	@Produce  json
//	@Success  200 {object} types.StatusResponse
//	@Router   /v1/models/unload [post]
func handleUnloadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.UnloadModel(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleGenerate runs one generation and streams tokens as NDJSON lines,
// terminated by a done line with the accumulated content and usage.
//
//	@Summary  Generate a completion
//	@Accept   json
//	@Produce  x-ndjson
//	@Param    request body types.GenerateRequest true "generation request"
//	@Success  200 {object} doneLine
//	@Failure  400 {object} types.ErrorResponse
//	@Failure  409 {object} types.ErrorResponse
//	@Failure  413 {object} types.ErrorResponse
//	@Failure  429 {object} types.ErrorResponse
//	@Failure  503 {object} types.ErrorResponse
//	@Router   /v1/generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		// Join server base context with request context so shutdown cancels
		// in-flight generation too.
		joined, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			joined, tcancel = context.WithTimeout(joined, time.Duration(generateTimeout)*time.Second)
			defer tcancel()
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		logGenerateStart(r, lvl)

		stream, err := svc.Generate(joined, req)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure(backpressureReason(err))
			}
			writeJSONError(w, status, err.Error())
			logGenerateEnd(r, lvl, status, time.Since(start), err)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		enc := json.NewEncoder(writer)

		var content strings.Builder
		streamed := false
		for chunk := range stream.Chunks() {
			content.WriteString(chunk.Text)
			if err := enc.Encode(tokenLine{Token: chunk.Text}); err != nil {
				// Client went away; cancel and drain.
				stream.Cancel()
				for range stream.Chunks() {
				}
				break
			}
			streamed = true
			if flush != nil {
				flush()
			}
		}

		if err := stream.Err(); err != nil {
			// If the client disconnected, there is nobody to tell.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			if !streamed {
				writeJSONError(w, status, err.Error())
			} else {
				_ = enc.Encode(types.ErrorResponse{Error: err.Error(), Code: status})
			}
			logGenerateEnd(r, lvl, status, time.Since(start), err)
			return
		}
		if r.Context().Err() == nil && serverBaseCtx.Err() == nil {
			_ = enc.Encode(doneLine{
				Done:         true,
				Content:      content.String(),
				FinishReason: stream.FinishReason(),
				Usage:        stream.Usage(),
			})
			if flush != nil {
				flush()
			}
		}
		logGenerateEnd(r, lvl, http.StatusOK, time.Since(start), nil)
	}
}

// decodeBody enforces the JSON content type and body size guard, then
// decodes into dst. It writes the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
