package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	VoiceProvider     string            `json:"voice_provider"`
	LiveProviders     bool              `json:"live_providers"`
	SynthesisStrategy string            `json:"synthesis_strategy"`
	SynthesisProvider string            `json:"synthesis_provider"`
	PlaybackMode      string            `json:"playback_mode"`
	HistoryStore      string            `json:"history_store"`
	Checks            []onboardingCheck `json:"checks"`
}

// handleOnboardingStatus reports which vendor credentials and call-flow settings are in place,
// with a fix for each gap.
func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	voiceProvider := strings.ToLower(strings.TrimSpace(s.cfg.VoiceProvider))
	if voiceProvider == "" {
		voiceProvider = "auto"
	}
	live := s.cfg.LiveProviders()

	checks := make([]onboardingCheck, 0, 10)
	checks = append(checks, onboardingCheck{
		ID:     "voice_provider",
		Status: "ok",
		Label:  "Voice backend",
		Detail: voiceProvider,
	})
	if live {
		checks = append(checks,
			keyCheck("deepgram_key", "Deepgram API key", "DEEPGRAM_API_KEY", s.cfg.DeepgramAPIKey),
			keyCheck("openai_key", "OpenAI API key", "OPENAI_API_KEY", s.cfg.OpenAIAPIKey),
		)
		if s.cfg.SynthesisProvider == "elevenlabs" {
			checks = append(checks, keyCheck("elevenlabs_key", "ElevenLabs API key", "ELEVENLABS_API_KEY", s.cfg.ElevenLabsAPIKey))
		}
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "mock_voice",
			Status: "warn",
			Label:  "Voice backend is mock",
			Detail: "Callers hear a tone echoing a simulated transcript.",
			Fix:    "Set DEEPGRAM_API_KEY and OPENAI_API_KEY, or VOICE_PROVIDER=live.",
		})
	}

	checks = append(checks, s.telephonyChecks()...)

	historyStore := "disabled"
	if s.cfg.HistoryTurns > 0 {
		historyStore = "in-memory"
		if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
			historyStore = "postgres"
		}
	}
	if historyStore == "in-memory" {
		checks = append(checks, onboardingCheck{
			ID:     "history_store",
			Status: "warn",
			Label:  "Conversation history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep call history across restarts.",
		})
	}

	strategy := s.cfg.SynthesisStrategy
	if s.orchestrator != nil {
		strategy = string(s.orchestrator.Strategy())
	}
	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		VoiceProvider:     voiceProvider,
		LiveProviders:     live,
		SynthesisStrategy: strategy,
		SynthesisProvider: s.cfg.SynthesisProvider,
		PlaybackMode:      s.playbackMode(),
		HistoryStore:      historyStore,
		Checks:            checks,
	})
}

func (s *Server) telephonyChecks() []onboardingCheck {
	out := make([]onboardingCheck, 0, 3)
	if s.cfg.TwilioValidateSignature {
		out = append(out, onboardingCheck{
			ID:     "twilio_signature",
			Status: "ok",
			Label:  "Webhook signatures",
			Detail: "validated against " + s.cfg.PublicURL,
		})
	} else {
		out = append(out, onboardingCheck{
			ID:     "twilio_signature",
			Status: "warn",
			Label:  "Webhook signatures",
			Detail: "not validated",
			Fix:    "Set TWILIO_AUTH_TOKEN, APP_PUBLIC_URL and TWILIO_VALIDATE_SIGNATURE=true.",
		})
	}
	if s.cfg.TranscribeSource == "upload" {
		out = append(out, keyCheck("twilio_credentials", "Twilio recording access", "TWILIO_AUTH_TOKEN", s.cfg.TwilioAuthToken))
	}
	if s.cfg.FailureAnnouncement == "" {
		out = append(out, onboardingCheck{
			ID:     "failure_announcement",
			Status: "warn",
			Label:  "Failed turns",
			Detail: "answered with HTTP 500; Twilio plays its own error message",
			Fix:    "Set FAILURE_ANNOUNCEMENT to apologize and hang up instead.",
		})
	}
	return out
}

func keyCheck(id, label, envKey, value string) onboardingCheck {
	if strings.TrimSpace(value) == "" {
		return onboardingCheck{
			ID:     id,
			Status: "error",
			Label:  label,
			Detail: fmt.Sprintf("%s is not set", envKey),
			Fix:    fmt.Sprintf("Set %s or switch to VOICE_PROVIDER=mock.", envKey),
		}
	}
	return onboardingCheck{ID: id, Status: "ok", Label: label, Detail: "present"}
}
