package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/backend"
	"chatd/internal/config"
	"chatd/internal/daemon"
	"chatd/internal/engine"
	"chatd/internal/governor"
	"chatd/internal/httpapi"
	"chatd/internal/lifecycle"
	"chatd/internal/loader"
)

// serveOptions carries flag values that override the config file.
type serveOptions struct {
	configPath      string
	addr            string
	modelsDir       string
	defaultModel    string
	fetchBaseURL    string
	logLevel        string
	corsOrigins     []string
	generateTimeout int64
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Local chat generation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to config file (.toml/.yaml/.json)")
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. 127.0.0.1:8090")
	f.StringVar(&opts.modelsDir, "models-dir", "", "Directory holding <owner>/<name> model directories")
	f.StringVar(&opts.defaultModel, "default-model", "", "Model id to load on startup")
	f.StringVar(&opts.fetchBaseURL, "fetch-base-url", "", "Base URL for downloading missing model weights")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringSliceVar(&opts.corsOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable); empty disables CORS")
	f.Int64Var(&opts.generateTimeout, "generate-timeout", 0, "Per-request generation timeout in seconds (0 disables)")
	return cmd
}

// resolveConfig merges the config file (if any) with flag overrides and
// applies defaults.
func resolveConfig(opts *serveOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.modelsDir != "" {
		cfg.ModelsDir = opts.modelsDir
	}
	if opts.defaultModel != "" {
		cfg.DefaultModel = opts.defaultModel
	}
	if opts.fetchBaseURL != "" {
		cfg.FetchBaseURL = opts.fetchBaseURL
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "~/models/chatd"
	}
	return cfg.Normalize(), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func runServe(opts *serveOptions) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	gov := governor.New(cfg.Limits, governor.SystemMemProbe(), log)
	dl := loader.New(cfg.ModelsDir, backend.DefaultOpener(), cfg.FetchBaseURL, log)
	lm := lifecycle.New(dl, nil, log)
	eng := engine.New(lm, gov, cfg.Limits, log)
	d := daemon.New(lm, eng, gov, cfg.ModelsDir, log)

	// Base context joined into request contexts; cancelling it on shutdown
	// cancels in-flight generation and loads.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	httpapi.SetGenerateTimeoutSeconds(opts.generateTimeout)
	if len(opts.corsOrigins) > 0 {
		httpapi.SetCORSOptions(true, opts.corsOrigins,
			[]string{http.MethodGet, http.MethodPost},
			[]string{"Content-Type", "X-Log-Level"})
	}

	if cfg.DefaultModel != "" {
		go func() {
			if err := d.LoadModel(baseCtx, cfg.DefaultModel); err != nil {
				log.Error().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(d)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
		return err
	}
	if err := lm.Unload(); err != nil {
		log.Warn().Err(err).Msg("unload on shutdown failed")
	}
	return nil
}
