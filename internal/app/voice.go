package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/antoniostano/japlvoice/internal/config"
	"github.com/antoniostano/japlvoice/internal/twilio"
	"github.com/antoniostano/japlvoice/internal/voice"
)

type voiceSetup struct {
	transcriber      voice.Transcriber
	generator        voice.ReplyGenerator
	synthesizers     voice.Synthesizers
	resolvedProvider string
	detail           string
	voice            voice.VoiceConfig
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	strategy, err := voice.ParseSynthesisStrategy(cfg.SynthesisStrategy)
	if err != nil {
		return voiceSetup{}, err
	}
	tier := voice.TierStandard
	if cfg.SynthesisTier == "hd" {
		tier = voice.TierHD
	}

	if !cfg.LiveProviders() {
		mock := voice.MockSynthesizer{}
		detail := "mock"
		if cfg.VoiceProvider == "auto" {
			detail = "mock (DEEPGRAM_API_KEY or OPENAI_API_KEY not set)"
		}
		return voiceSetup{
			transcriber: voice.MockTranscriber{},
			generator:   voice.MockReplyGenerator{},
			synthesizers: voice.Synthesizers{
				voice.StrategyRequestResponse: mock,
				voice.StrategyStreaming:       mock,
			},
			resolvedProvider: "mock",
			detail:           detail,
			voice:            voice.VoiceConfig{Tier: tier},
		}, nil
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout + 5*time.Second}

	dg := voice.DeepgramConfig{
		APIKey:     cfg.DeepgramAPIKey,
		BaseURL:    cfg.DeepgramBaseURL,
		Model:      cfg.DeepgramModel,
		Source:     voice.TranscribeSource(cfg.TranscribeSource),
		HTTPClient: httpClient,
	}
	if dg.Source == voice.SourceUpload {
		dg.Fetcher = twilio.NewRecordingClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, httpClient)
	}

	openaiCfg := voice.OpenAIConfig{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		ChatModel:    cfg.OpenAIChatModel,
		SystemPrompt: cfg.OpenAISystemPrompt,
		HTTPClient:   httpClient,
	}
	openaiSpeech := voice.NewOpenAISpeechSynthesizer(openaiCfg, cfg.SynthesisVoice)

	var requestResponse voice.Synthesizer = openaiSpeech
	voiceID := cfg.SynthesisVoice
	detail := "deepgram + openai"
	switch cfg.SynthesisProvider {
	case "elevenlabs":
		eleven := voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:         cfg.ElevenLabsAPIKey,
			BaseURL:        cfg.ElevenLabsBaseURL,
			DefaultVoiceID: cfg.ElevenLabsVoiceID,
			HTTPClient:     httpClient,
		})
		voiceID = cfg.ElevenLabsVoiceID
		requestResponse = eleven
		detail = "deepgram + openai + elevenlabs"
		if cfg.SynthesisFallback == "request_response" {
			// ElevenLabs voice IDs mean nothing to OpenAI speech, so the fallback uses its own voice.
			requestResponse = voice.NewFailoverSynthesizer(eleven, openaiSpeech, cfg.SynthesisVoice)
			detail += " (openai speech fallback)"
		}
	case "openai":
	default:
		return voiceSetup{}, fmt.Errorf("invalid SYNTHESIS_PROVIDER: %q (expected openai|elevenlabs)", cfg.SynthesisProvider)
	}

	realtime := voice.RealtimeConfig{
		URL:     cfg.SynthesisStreamURL,
		APIKey:  cfg.OpenAIAPIKey,
		Timeout: cfg.SynthesisStreamTimeout,
	}
	if voiceID != cfg.SynthesisVoice {
		realtime.Voice = cfg.SynthesisVoice
	}
	var streaming voice.Synthesizer = voice.NewRealtimeSynthesizer(realtime)
	if cfg.SynthesisFallback == "request_response" {
		streaming = voice.NewFailoverSynthesizer(streaming, requestResponse, "")
	}
	if strategy == voice.StrategyStreaming {
		detail += " (realtime synthesis)"
	}

	return voiceSetup{
		transcriber: voice.NewDeepgramTranscriber(dg),
		generator:   voice.NewOpenAIReplyGenerator(openaiCfg),
		synthesizers: voice.Synthesizers{
			voice.StrategyRequestResponse: requestResponse,
			voice.StrategyStreaming:       streaming,
		},
		resolvedProvider: "live",
		detail:           detail,
		voice:            voice.VoiceConfig{VoiceID: voiceID, Tier: tier},
	}, nil
}
