// Package runtime assembles the daemon: telemetry, providers, pipeline,
// gateway and the optional bus, with ordered startup and graceful shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxa-labs/voxa-core/internal/audiocache"
	"github.com/voxa-labs/voxa-core/internal/bus"
	"github.com/voxa-labs/voxa-core/internal/capability"
	"github.com/voxa-labs/voxa-core/internal/chat"
	"github.com/voxa-labs/voxa-core/internal/config"
	"github.com/voxa-labs/voxa-core/internal/gateway"
	"github.com/voxa-labs/voxa-core/internal/natsserver"
	"github.com/voxa-labs/voxa-core/internal/pipeline"
	"github.com/voxa-labs/voxa-core/internal/session"
	"github.com/voxa-labs/voxa-core/internal/stt"
	"github.com/voxa-labs/voxa-core/internal/transcript"
	"github.com/voxa-labs/voxa-core/internal/tts"
	"github.com/voxa-labs/voxa-core/internal/worker"
)

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	transcripts, err := transcript.Open(ctx, r.cfg.Transcript, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer transcripts.Close()

	cache, err := audiocache.New(r.cfg.Cache.Capacity, r.cfg.Cache.MaxMemoryMB, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create audio cache: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		cache.RunSweeper(ctx, time.Duration(r.cfg.Cache.SweepIntervalMS)*time.Millisecond)
	}()

	sttReg, err := r.buildSTT()
	if err != nil {
		return err
	}
	ttsReg, err := r.buildTTS()
	if err != nil {
		return err
	}
	generator, err := r.buildChat()
	if err != nil {
		return err
	}

	svc := pipeline.NewService(r.cfg, pipeline.Deps{
		STT:         sttReg,
		TTS:         ttsReg,
		Chat:        generator,
		Sessions:    session.NewStore(r.cfg.Session.MaxMessages),
		Cache:       cache,
		Pool:        worker.NewPool(r.cfg.Workers.PoolSize, r.cfg.Workers.QueueSize, r.logger),
		Bus:         busClient,
		Transcripts: transcripts,
	}, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	gateway.NewServer(svc, r.version, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("chat_mode", r.cfg.Chat.Mode),
		slog.Any("stt_providers", sttReg.Names()),
		slog.Any("tts_providers", ttsReg.Names()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	cancel()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSTT() (*capability.Registry[stt.Transcriber], error) {
	reg := capability.NewRegistry[stt.Transcriber]("stt", r.logger)
	for i, name := range r.cfg.STT.Providers {
		switch name {
		case "groq":
			reg.Register(stt.NewGroqTranscriber(r.cfg.STT.Endpoint, r.cfg.STT.APIKey, r.cfg.STT.Model), i)
		case "whisper-cli":
			t, err := stt.NewExecTranscriber(r.cfg.STT.Command, r.cfg.STT.ModelPath)
			if err != nil {
				return nil, err
			}
			reg.Register(t, i)
		case "mock":
			reg.Register(stt.NewMockTranscriber(), i)
		default:
			return nil, fmt.Errorf("unknown stt provider %q", name)
		}
	}
	return reg, nil
}

func (r *Runtime) buildTTS() (*capability.Registry[tts.Synthesizer], error) {
	reg := capability.NewRegistry[tts.Synthesizer]("tts", r.logger)
	for i, name := range r.cfg.TTS.Providers {
		switch name {
		case "edge":
			reg.Register(tts.NewEdgeSynth(), i)
		case "exec":
			s, err := tts.NewExecSynth(r.cfg.TTS.Command)
			if err != nil {
				return nil, err
			}
			reg.Register(s, i)
		case "mock":
			reg.Register(tts.NewMockSynth(), i)
		default:
			return nil, fmt.Errorf("unknown tts provider %q", name)
		}
	}
	return reg, nil
}

func (r *Runtime) buildChat() (chat.Generator, error) {
	switch r.cfg.Chat.Mode {
	case "groq":
		return chat.NewGroqGenerator(r.cfg.Chat.Endpoint, r.cfg.Chat.APIKey, r.cfg.Chat.Model), nil
	case "mock":
		return chat.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown chat mode %q", r.cfg.Chat.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
