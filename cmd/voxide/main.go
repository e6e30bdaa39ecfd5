package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxide-dev/voxide/internal/dotenv"
	"github.com/voxide-dev/voxide/pkg/bridge/config"
	bridgeserver "github.com/voxide-dev/voxide/pkg/bridge/server"
	"github.com/voxide-dev/voxide/pkg/bridge/session"
	"github.com/voxide-dev/voxide/pkg/bridge/tools"
	"github.com/voxide-dev/voxide/pkg/live"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	newDialer    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dialer, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		newDialer:  newLiveDialer,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// newLiveDialer builds the Gemini live client and adapts it to the session
// dialer interface.
func newLiveDialer(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dialer, error) {
	clientCfg := live.ClientConfig{
		Model:           cfg.Model,
		Voice:           cfg.Voice,
		InputSampleRate: cfg.InputSampleRate,
		ToolTimeout:     cfg.ToolTimeout,
		PromptToolName:  tools.PromptToolName,
		Logger:          logger,
	}
	switch cfg.Backend {
	case config.BackendVertexAI:
		clientCfg.VertexProject = cfg.VertexProject
		clientCfg.VertexLocation = cfg.VertexLocation
	default:
		clientCfg.APIKey = cfg.APIKey
	}

	client, err := live.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	return session.DialerFunc(func(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (session.ModelSession, error) {
		return client.Connect(ctx, queues, registry, sink)
	}), nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newDialer == nil {
		return errors.New("missing newDialer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dial, err := deps.newDialer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}

	srv := bridgeserver.New(cfg, logger, dial)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting bridge",
		"addr", cfg.Addr,
		"backend", string(cfg.Backend),
		"model", cfg.Model,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.Sessions().WarnAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.Sessions().Wait(waitCtx) {
		srv.Sessions().CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "voxide: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxide: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
