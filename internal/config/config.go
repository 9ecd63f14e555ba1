package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice webhook service.
type Config struct {
	BindAddr           string
	PublicURL          string
	ShutdownTimeout    time.Duration
	CallInactivity     time.Duration
	MetricsNamespace   string
	RateLimitPerMinute int
	TrustProxy         bool
	LogLevel           string
	LogFormat          string

	VoiceProvider string

	DeepgramAPIKey      string
	DeepgramBaseURL     string
	DeepgramModel       string
	TranscribePunctuate bool
	TranscribeLanguage  string
	TranscribeSource    string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIChatModel    string
	OpenAISystemPrompt string

	SynthesisStrategy      string
	SynthesisProvider      string
	SynthesisFallback      string
	SynthesisVoice         string
	SynthesisTier          string
	SynthesisStreamURL     string
	SynthesisStreamTimeout time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioValidateSignature bool

	GreetingText        string
	RepromptText        string
	SayLanguage         string
	MaxRecordingSeconds int
	MultiTurn           bool
	FailureAnnouncement string

	UpstreamTimeout      time.Duration
	TurnTimeout          time.Duration
	UpstreamRetries      int
	UpstreamRetryBackoff time.Duration

	HistoryTurns     int
	HistoryRedactPII bool
	DatabaseURL      string

	PlaybackMode    string
	PlaybackClipTTL time.Duration
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3UseSSL        bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":"+envOrDefault("PORT", "3000")),
		PublicURL:        strings.TrimRight(stringsTrimSpace("APP_PUBLIC_URL"), "/"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "japlvoice"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),

		VoiceProvider: strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),

		DeepgramAPIKey:     stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramBaseURL:    envOrDefault("DEEPGRAM_BASE_URL", "https://api.deepgram.com"),
		DeepgramModel:      envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		TranscribeLanguage: envOrDefault("TRANSCRIBE_LANGUAGE", "fr"),
		TranscribeSource:   strings.ToLower(envOrDefault("TRANSCRIBE_SOURCE", "url")),

		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIChatModel:    envOrDefault("OPENAI_CHAT_MODEL", "gpt-4"),
		OpenAISystemPrompt: stringsTrimSpace("OPENAI_SYSTEM_PROMPT"),

		SynthesisStrategy:  envOrDefault("SYNTHESIS_STRATEGY", "request_response"),
		SynthesisProvider:  strings.ToLower(envOrDefault("SYNTHESIS_PROVIDER", "openai")),
		SynthesisFallback:  strings.ToLower(envOrDefault("SYNTHESIS_FALLBACK", "none")),
		SynthesisVoice:     envOrDefault("SYNTHESIS_VOICE", "alloy"),
		SynthesisTier:      strings.ToLower(envOrDefault("SYNTHESIS_TIER", "standard")),
		SynthesisStreamURL: envOrDefault("SYNTHESIS_STREAM_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"),

		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID: stringsTrimSpace("ELEVENLABS_VOICE_ID"),

		TwilioAccountSID: stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  stringsTrimSpace("TWILIO_AUTH_TOKEN"),

		GreetingText:        envOrDefault("GREETING_TEXT", "Bonjour, comment puis-je vous aider?"),
		RepromptText:        envOrDefault("REPROMPT_TEXT", "Je ne vous ai pas entendu. Pouvez-vous répéter?"),
		SayLanguage:         envOrDefault("SAY_LANGUAGE", "fr-FR"),
		FailureAnnouncement: stringsTrimSpace("FAILURE_ANNOUNCEMENT"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),

		PlaybackMode: strings.ToLower(envOrDefault("PLAYBACK_MODE", "inline")),
		S3Endpoint:   stringsTrimSpace("S3_ENDPOINT"),
		S3AccessKey:  stringsTrimSpace("S3_ACCESS_KEY"),
		S3SecretKey:  stringsTrimSpace("S3_SECRET_KEY"),
		S3Bucket:     stringsTrimSpace("S3_BUCKET"),
		S3Region:     envOrDefault("S3_REGION", "us-east-1"),

		ShutdownTimeout:        15 * time.Second,
		CallInactivity:         10 * time.Minute,
		RateLimitPerMinute:     60,
		TranscribePunctuate:    true,
		SynthesisStreamTimeout: 10 * time.Second,
		MaxRecordingSeconds:    60,
		MultiTurn:              true,
		UpstreamTimeout:        8 * time.Second,
		TurnTimeout:            14 * time.Second,
		UpstreamRetries:        1,
		UpstreamRetryBackoff:   250 * time.Millisecond,
		HistoryTurns:           6,
		HistoryRedactPII:       true,
		PlaybackClipTTL:        10 * time.Minute,
		S3UseSSL:               true,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_CALL_INACTIVITY_TIMEOUT", &cfg.CallInactivity},
		{"SYNTHESIS_STREAM_TIMEOUT", &cfg.SynthesisStreamTimeout},
		{"UPSTREAM_TIMEOUT", &cfg.UpstreamTimeout},
		{"TURN_TIMEOUT", &cfg.TurnTimeout},
		{"UPSTREAM_RETRY_BACKOFF", &cfg.UpstreamRetryBackoff},
		{"PLAYBACK_CLIP_TTL", &cfg.PlaybackClipTTL},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"APP_RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute},
		{"MAX_RECORDING_SECONDS", &cfg.MaxRecordingSeconds},
		{"UPSTREAM_RETRIES", &cfg.UpstreamRetries},
		{"HISTORY_TURNS", &cfg.HistoryTurns},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"TRANSCRIBE_PUNCTUATE", &cfg.TranscribePunctuate},
		{"APP_TRUST_PROXY", &cfg.TrustProxy},
		{"TWILIO_VALIDATE_SIGNATURE", &cfg.TwilioValidateSignature},
		{"MULTI_TURN", &cfg.MultiTurn},
		{"HISTORY_REDACT_PII", &cfg.HistoryRedactPII},
		{"S3_USE_SSL", &cfg.S3UseSSL},
	}
	for _, b := range bools {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.VoiceProvider {
	case "auto", "live", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be auto, live or mock")
	}
	switch c.TranscribeSource {
	case "url", "upload":
	default:
		return fmt.Errorf("TRANSCRIBE_SOURCE must be url or upload")
	}
	switch c.SynthesisProvider {
	case "openai", "elevenlabs":
	default:
		return fmt.Errorf("SYNTHESIS_PROVIDER must be openai or elevenlabs")
	}
	switch c.SynthesisFallback {
	case "none", "request_response":
	default:
		return fmt.Errorf("SYNTHESIS_FALLBACK must be none or request_response")
	}
	switch c.SynthesisTier {
	case "standard", "hd":
	default:
		return fmt.Errorf("SYNTHESIS_TIER must be standard or hd")
	}
	switch c.PlaybackMode {
	case "inline", "hosted":
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("PLAYBACK_MODE=s3 requires S3_ENDPOINT and S3_BUCKET")
		}
	default:
		return fmt.Errorf("PLAYBACK_MODE must be inline, hosted or s3")
	}
	if c.PlaybackMode == "hosted" && c.PublicURL == "" {
		return fmt.Errorf("PLAYBACK_MODE=hosted requires APP_PUBLIC_URL")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("APP_PUBLIC_URL must be an absolute http(s) URL")
		}
	}
	if c.TwilioValidateSignature && (c.TwilioAuthToken == "" || c.PublicURL == "") {
		return fmt.Errorf("TWILIO_VALIDATE_SIGNATURE requires TWILIO_AUTH_TOKEN and APP_PUBLIC_URL")
	}
	if c.TranscribeSource == "upload" && c.VoiceProvider != "mock" && (c.TwilioAccountSID == "" || c.TwilioAuthToken == "") {
		return fmt.Errorf("TRANSCRIBE_SOURCE=upload requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
	}
	if c.CallInactivity < 30*time.Second {
		return fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.UpstreamRetries < 0 || c.UpstreamRetries > 5 {
		return fmt.Errorf("UPSTREAM_RETRIES must be between 0 and 5")
	}
	if c.SynthesisStreamTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_STREAM_TIMEOUT must be positive")
	}
	if c.TurnTimeout < c.UpstreamTimeout || c.TurnTimeout < c.SynthesisStreamTimeout {
		return fmt.Errorf("TURN_TIMEOUT must be at least UPSTREAM_TIMEOUT and SYNTHESIS_STREAM_TIMEOUT")
	}
	if c.MaxRecordingSeconds <= 0 || c.MaxRecordingSeconds > 3600 {
		return fmt.Errorf("MAX_RECORDING_SECONDS must be between 1 and 3600")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS must be >= 0")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("APP_RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.PlaybackClipTTL < time.Second {
		return fmt.Errorf("PLAYBACK_CLIP_TTL must be at least 1s")
	}
	if c.VoiceProvider == "live" {
		if c.DeepgramAPIKey == "" || c.OpenAIAPIKey == "" {
			return fmt.Errorf("VOICE_PROVIDER=live requires DEEPGRAM_API_KEY and OPENAI_API_KEY")
		}
		if c.SynthesisProvider == "elevenlabs" && (c.ElevenLabsAPIKey == "" || c.ElevenLabsVoiceID == "") {
			return fmt.Errorf("SYNTHESIS_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID")
		}
	}
	return nil
}

// LiveProviders reports whether vendor clients should be built instead of mocks.
func (c Config) LiveProviders() bool {
	switch c.VoiceProvider {
	case "live":
		return true
	case "mock":
		return false
	default:
		return c.DeepgramAPIKey != "" && c.OpenAIAPIKey != ""
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
