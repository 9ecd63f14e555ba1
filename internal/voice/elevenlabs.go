package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/japlvoice/internal/audio"
)

const providerElevenLabs = "elevenlabs"

type ElevenLabsConfig struct {
	APIKey         string
	BaseURL        string
	DefaultVoiceID string
	OutputFormat   string
	Settings       ElevenLabsVoiceSettings
	HTTPClient     *http.Client
}

type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// normalized fills zero values with defaults and clamps to the ranges the API accepts.
func (s ElevenLabsVoiceSettings) normalized() ElevenLabsVoiceSettings {
	if s.Stability <= 0 {
		s.Stability = 0.42
	} else if s.Stability > 1 {
		s.Stability = 1
	}
	if s.SimilarityBoost <= 0 {
		s.SimilarityBoost = 0.85
	} else if s.SimilarityBoost > 1 {
		s.SimilarityBoost = 1
	}
	if s.Speed <= 0 {
		s.Speed = 1.0
	}
	if s.Speed < 0.7 {
		s.Speed = 0.7
	} else if s.Speed > 1.2 {
		s.Speed = 1.2
	}
	return s
}

// ElevenLabsSynthesizer renders text with ElevenLabs' request/response TTS endpoint.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	cfg.Settings = cfg.Settings.normalized()
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ElevenLabsSynthesizer{cfg: cfg, client: client}
}

func elevenLabsModel(tier Tier) string {
	if tier == TierHD {
		return "eleven_multilingual_v2"
	}
	return "eleven_flash_v2_5"
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error) {
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		voiceID = strings.TrimSpace(s.cfg.DefaultVoiceID)
	}
	if voiceID == "" {
		return audio.Clip{}, newStepError(StepSynthesis, providerElevenLabs, ErrUpstreamRejected, fmt.Errorf("voice_id is required"))
	}

	u, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("parse elevenlabs url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", s.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       elevenLabsModel(cfg.Tier),
		"voice_settings": s.cfg.Settings,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("encode elevenlabs request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", audio.ContentTypeMPEG)

	res, err := s.client.Do(req)
	if err != nil {
		return audio.Clip{}, transportError(StepSynthesis, providerElevenLabs, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return audio.Clip{}, statusError(StepSynthesis, providerElevenLabs, res.StatusCode, string(body))
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return audio.Clip{}, transportError(StepSynthesis, providerElevenLabs, err)
	}
	if len(data) == 0 {
		return audio.Clip{}, malformed(StepSynthesis, providerElevenLabs, "speech response is empty")
	}
	return audio.NewClip(data, res.Header.Get("Content-Type")), nil
}
