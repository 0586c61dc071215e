package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-mimic3/internal/bus"
	"github.com/loqalabs/loqa-mimic3/internal/cache"
	"github.com/loqalabs/loqa-mimic3/internal/capability"
	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/loqalabs/loqa-mimic3/internal/engine"
	"github.com/loqalabs/loqa-mimic3/internal/eventstore"
	"github.com/loqalabs/loqa-mimic3/internal/natsserver"
	"github.com/loqalabs/loqa-mimic3/internal/plugin"
	"github.com/loqalabs/loqa-mimic3/internal/protocol"
	"github.com/loqalabs/loqa-mimic3/internal/tts"
)

const statusStreamMaxAge = 24 * time.Hour

type Runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	httpServer   *http.Server
	metricServer *http.Server
	tracerClose  func(context.Context) error
	ready        atomic.Bool
	wg           sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	events    *eventstore.Store
	plugin    *plugin.Plugin
	tts       *tts.Service
	announcer *capability.Announcer
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricServer, "metrics")
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	if err := r.bus.EnsureStream("TTS_STATUS", []string{protocol.SubjectTTSDone}, statusStreamMaxAge); err != nil {
		r.logger.Warn("failed to ensure status stream", slogError(err))
	}

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	eng, err := engine.New(r.cfg.TTS, r.logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	sentences, err := cache.New(r.cfg.TTS.CacheDir, r.cfg.TTS.AudioExt, r.cfg.TTS.CacheSize, r.logger)
	if err != nil {
		_ = eng.Close()
		return err
	}
	r.plugin, err = plugin.New(ctx, plugin.Options{
		Lang:     r.cfg.TTS.Lang,
		AudioExt: r.cfg.TTS.AudioExt,
		Mimic3:   r.cfg.TTS.Mimic3,
	}, eng, cache.NewHost(sentences), r.logger)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("create mimic3 plugin: %w", err)
	}

	r.tts = tts.NewService(ctx, r.cfg.TTS, r.bus, r.plugin, sentences, r.events, r.logger)
	if err := r.tts.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}

	r.announcer, err = capability.NewAnnouncer(ctx, r.cfg.Node,
		[]capability.Capability{capability.TTSCapability(r.cfg.TTS)}, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("start capability announcer: %w", err)
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slogError(err))
		}
	}()
}

// shutdown stops components in reverse start order. Components that never
// started are nil and skipped.
func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.announcer != nil {
		r.announcer.Close()
	}
	if r.tts != nil {
		r.tts.Close()
	}
	if r.plugin != nil {
		if err := r.plugin.Close(); err != nil {
			r.logger.Warn("engine close error", slogError(err))
		}
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event store close error", slogError(err))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() || !r.bus.Healthy() {
		return false
	}
	if r.tts != nil && !r.tts.Healthy() {
		return false
	}
	return r.announcer == nil || r.announcer.Healthy()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
