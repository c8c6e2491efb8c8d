// Voicewire daemon - orchestrates audio capture, voice detection, and transcription sessions
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/dsp"
	"github.com/voicewire/voicewire/internal/resilience"
	"github.com/voicewire/voicewire/internal/server"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/transcribe"
	"github.com/voicewire/voicewire/internal/vad"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Connect to the speech-to-text service
	var opts []transcribe.Option
	if cfg.TranscribeRetry {
		opts = append(opts, transcribe.WithRetry(resilience.TranscriptionRetryConfig()))
	}
	if cfg.EnableBreaker {
		opts = append(opts, transcribe.WithBreaker(resilience.New(resilience.TranscriptionConfig())))
	}
	transcriber, err := transcribe.New(cfg.STTAddr, opts...)
	if err != nil {
		slog.Error("failed to connect to transcription service", "addr", cfg.STTAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = transcriber.Close() }()

	factory := func(sampleRate, frameSize int) (session.Source, error) {
		return audio.NewCapturer(sampleRate, frameSize, cfg.PreferredDevice)
	}

	manager := session.NewManager(factory, transcriber, sessionDefaults(cfg))

	srv := server.New(manager)

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("voicewire daemon starting", "http", cfg.HTTPAddr, "stt", cfg.STTAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")

		manager.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// sessionDefaults maps daemon configuration onto the per-session defaults
// applied when a create request leaves a field unset.
func sessionDefaults(cfg *config.Config) session.Config {
	audioCfg := dsp.DefaultConfig()
	audioCfg.SampleRate = cfg.SampleRate
	audioCfg.TargetVolume = cfg.TargetVolume
	audioCfg.SilenceThreshold = cfg.SilenceThreshold
	audioCfg.EnableNoiseReduction = cfg.EnableDenoising

	vadCfg := vad.DefaultConfig()
	vadCfg.SampleRate = cfg.SampleRate
	vadCfg.Threshold = cfg.VADThreshold
	vadCfg.Sensitivity = cfg.VADSensitivity
	vadCfg.AdaptiveThreshold = cfg.AdaptiveVAD

	return session.Config{
		Audio:          audioCfg,
		VAD:            vadCfg,
		FrameSize:      cfg.FrameSize,
		SilenceTimeout: cfg.SilenceTimeout,
		MinConfidence:  cfg.MinConfidence,
		AutoStop:       cfg.AutoStop,
		Language:       cfg.Language,
		Model:          cfg.Model,
	}
}
