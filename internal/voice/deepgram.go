package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/twilio"
)

const providerDeepgram = "deepgram"

// TranscribeSource selects how Deepgram gets the recording.
type TranscribeSource string

const (
	// SourceURL lets Deepgram fetch the recording itself.
	SourceURL TranscribeSource = "url"
	// SourceUpload downloads the recording first and posts the bytes.
	SourceUpload TranscribeSource = "upload"
)

// RecordingFetcher downloads recording media.
type RecordingFetcher interface {
	Fetch(ctx context.Context, mediaURL string) ([]byte, string, error)
}

type DeepgramConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Source     TranscribeSource
	Fetcher    RecordingFetcher
	HTTPClient *http.Client
}

// DeepgramTranscriber calls Deepgram's pre-recorded listen API.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	client *http.Client
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Source == "" {
		cfg.Source = SourceURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DeepgramTranscriber{cfg: cfg, client: client}
}

type deepgramListenResponse struct {
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramErrorResponse struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

func (t *DeepgramTranscriber) Transcribe(ctx context.Context, recordingReference string, opts TranscribeOptions) (string, error) {
	mediaURL, err := recordingMediaURL(recordingReference)
	if err != nil {
		return "", newStepError(StepTranscription, providerDeepgram, ErrInvalidReference, err)
	}

	endpoint, err := url.Parse(strings.TrimRight(t.cfg.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", t.cfg.Model)
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		q.Set("language", lang)
	}
	endpoint.RawQuery = q.Encode()

	var (
		body        io.Reader
		contentType string
	)
	switch t.cfg.Source {
	case SourceUpload:
		data, ct, err := t.fetchRecording(ctx, mediaURL)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
		contentType = ct
	default:
		payload, err := json.Marshal(map[string]string{"url": mediaURL})
		if err != nil {
			return "", fmt.Errorf("encode deepgram request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return "", fmt.Errorf("create deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return "", transportError(StepTranscription, providerDeepgram, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", transportError(StepTranscription, providerDeepgram, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", deepgramStatusError(res.StatusCode, raw)
	}

	var parsed deepgramListenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", malformed(StepTranscription, providerDeepgram, "decode listen response: %v", err)
	}
	if parsed.Results == nil || len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", malformed(StepTranscription, providerDeepgram, "listen response has no channel alternative")
	}
	return strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript), nil
}

func (t *DeepgramTranscriber) fetchRecording(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if t.cfg.Fetcher == nil {
		return nil, "", newStepError(StepTranscription, "twilio", ErrInvalidReference, errors.New("upload mode without a recording fetcher"))
	}
	data, ct, err := t.cfg.Fetcher.Fetch(ctx, mediaURL)
	if err != nil {
		if errors.Is(err, twilio.ErrRecordingTooLarge) {
			return nil, "", newStepError(StepTranscription, "twilio", ErrInvalidReference, err)
		}
		var statusErr *twilio.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusNotFound {
				return nil, "", newStepError(StepTranscription, "twilio", ErrInvalidReference, err)
			}
			return nil, "", statusError(StepTranscription, "twilio", statusErr.StatusCode, statusErr.Body)
		}
		return nil, "", transportError(StepTranscription, "twilio", err)
	}
	if len(data) == 0 {
		return nil, "", newStepError(StepTranscription, "twilio", ErrInvalidReference, errors.New("recording is empty"))
	}
	if strings.TrimSpace(ct) == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = audio.SniffContentType(data)
	}
	return data, ct, nil
}

func deepgramStatusError(status int, raw []byte) *StepError {
	var dgErr deepgramErrorResponse
	_ = json.Unmarshal(raw, &dgErr)
	if dgErr.ErrCode == "REMOTE_CONTENT_ERROR" {
		se := newStepError(StepTranscription, providerDeepgram, ErrInvalidReference, errors.New(dgErr.ErrMsg))
		se.StatusCode = status
		se.Code = dgErr.ErrCode
		return se
	}
	detail := dgErr.ErrMsg
	if detail == "" {
		detail = string(raw)
	}
	se := statusError(StepTranscription, providerDeepgram, status, detail)
	se.Code = dgErr.ErrCode
	return se
}

// recordingMediaURL validates the reference and points it at the mp3 rendition.
func recordingMediaURL(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", errors.New("empty recording reference")
	}
	u, err := url.Parse(reference)
	if err != nil {
		return "", fmt.Errorf("parse recording reference: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("recording reference %q is not an http(s) url", reference)
	}
	return twilio.RecordingMediaURL(reference), nil
}
