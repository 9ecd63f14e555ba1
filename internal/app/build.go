package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/config"
	"github.com/antoniostano/japlvoice/internal/httpapi"
	"github.com/antoniostano/japlvoice/internal/memory"
	"github.com/antoniostano/japlvoice/internal/observability"
	"github.com/antoniostano/japlvoice/internal/reliability"
	"github.com/antoniostano/japlvoice/internal/session"
	"github.com/antoniostano/japlvoice/internal/twilio"
	"github.com/antoniostano/japlvoice/internal/voice"
)

const (
	sessionJanitorInterval = 30 * time.Second
	clipJanitorInterval    = time.Minute
	maxRetryBackoff        = 2 * time.Second
)

type VoiceInfo struct {
	Provider string
	Detail   string
	Strategy voice.SynthesisStrategy
	VoiceID  string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	History      memory.Store
	Metrics      *observability.Metrics
	Voice        VoiceInfo

	clips *audio.MemoryStore

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

// Build wires configuration into providers, stores and the HTTP API.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return build(ctx, cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		return nil, err
	}

	var history memory.Store
	if cfg.HistoryTurns > 0 {
		history, err = memory.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("history store init failed: %w", err)
		}
	}
	closeHistory := func() error {
		if history == nil {
			return nil
		}
		return history.Close()
	}

	publisher, clips, err := buildPublisher(ctx, cfg)
	if err != nil {
		_ = closeHistory()
		return nil, err
	}

	strategy, _ := voice.ParseSynthesisStrategy(cfg.SynthesisStrategy)
	orchestrator, err := voice.NewOrchestrator(voice.Deps{
		Transcriber:  voiceSetup.transcriber,
		Generator:    voiceSetup.generator,
		Synthesizers: voiceSetup.synthesizers,
		Publisher:    publisher,
		History:      history,
		Metrics:      metrics,
		Logger:       logger,
	}, voice.Options{
		Strategy: strategy,
		Voice:    voiceSetup.voice,
		Transcribe: voice.TranscribeOptions{
			Punctuate: cfg.TranscribePunctuate,
			Language:  cfg.TranscribeLanguage,
		},
		StepTimeout:      cfg.UpstreamTimeout,
		SynthesisTimeout: synthesisTimeout(cfg, strategy),
		TurnTimeout:      cfg.TurnTimeout,
		Retry: reliability.RetryPolicy{
			Attempts:  cfg.UpstreamRetries + 1,
			BaseDelay: cfg.UpstreamRetryBackoff,
			MaxDelay:  maxRetryBackoff,
		},
		HistoryTurns:  cfg.HistoryTurns,
		RedactHistory: cfg.HistoryRedactPII,
		Dialog:        dialogFromConfig(cfg),
	})
	if err != nil {
		_ = closeHistory()
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	sessions := session.NewManager(cfg.CallInactivity)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveCallEvent("expired")
		metrics.SetActiveCalls(sessions.ActiveCount())
		logger.Info("call session expired", zap.String("call_sid", s.CallSID), zap.Int("turns", s.TurnCount))
		if history != nil {
			forgetCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := history.Forget(forgetCtx, s.CallSID); err != nil {
				logger.Warn("forget expired call history", zap.String("call_sid", s.CallSID), zap.Error(err))
			}
		}
	})

	// Avoid storing a typed nil in the ClipSource interface.
	var clipSource httpapi.ClipSource
	if clips != nil {
		clipSource = clips
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		History:      history,
		Clips:        clipSource,
		Metrics:      metrics,
		Logger:       logger,
	})

	cleanup := func() error {
		var errs []string
		if err := closeHistory(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		History:      history,
		Metrics:      metrics,
		Voice: VoiceInfo{
			Provider: voiceSetup.resolvedProvider,
			Detail:   voiceSetup.detail,
			Strategy: orchestrator.Strategy(),
			VoiceID:  voiceSetup.voice.VoiceID,
		},
		clips:   clips,
		Cleanup: cleanup,
	}, nil
}

// StartBackground runs the session and clip janitors until ctx is done.
func (b *BuildResult) StartBackground(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, sessionJanitorInterval)
	if b.clips != nil {
		b.clips.StartJanitor(ctx, clipJanitorInterval)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (audio.Publisher, *audio.MemoryStore, error) {
	switch cfg.PlaybackMode {
	case "", "inline":
		return audio.InlinePublisher{}, nil, nil
	case "hosted":
		store := audio.NewMemoryStore(cfg.PublicURL+"/twilio/audio", cfg.PlaybackClipTTL)
		return store, store, nil
	case "s3":
		pub, err := audio.NewS3Publisher(ctx, audio.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			Prefix:    "replies/",
			URLExpiry: cfg.PlaybackClipTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 publisher init failed: %w", err)
		}
		return pub, nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid PLAYBACK_MODE: %q (expected inline|hosted|s3)", cfg.PlaybackMode)
	}
}

func dialogFromConfig(cfg config.Config) twilio.Dialog {
	return twilio.Dialog{
		Greeting:                cfg.GreetingText,
		Reprompt:                cfg.RepromptText,
		FailureAnnouncement:     cfg.FailureAnnouncement,
		Language:                cfg.SayLanguage,
		RecordAction:            "/twilio/recording",
		RecordingStatusCallback: "/twilio/recording-status",
		MaxRecordingSeconds:     cfg.MaxRecordingSeconds,
		MultiTurn:               cfg.MultiTurn,
	}
}

// synthesisTimeout gives the realtime socket its own wait bound, which may exceed UPSTREAM_TIMEOUT.
func synthesisTimeout(cfg config.Config, strategy voice.SynthesisStrategy) time.Duration {
	if strategy == voice.StrategyStreaming {
		return cfg.SynthesisStreamTimeout
	}
	return 0
}
