package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/reliability"
	openai "github.com/sashabaranov/go-openai"
)

const providerOpenAI = "openai"

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	SystemPrompt string
	HTTPClient   *http.Client
}

func newOpenAIClient(cfg OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// classifyOpenAIError maps go-openai failures onto the step taxonomy.
func classifyOpenAIError(step Step, err error) *StepError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		se := statusError(step, providerOpenAI, apiErr.HTTPStatusCode, apiErr.Message)
		se.Code = apiErr.Type
		if code, ok := apiErr.Code.(string); ok && code != "" {
			se.Code = code
		}
		if reliability.IsRetryableRealtimeMessageType(se.Code) {
			se.Kind = ErrUpstreamUnavailable
			se.Retryable = true
		}
		return se
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(step, providerOpenAI, reqErr.HTTPStatusCode, reqErr.Error())
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return malformed(step, providerOpenAI, "decode response: %v", err)
	}
	return transportError(step, providerOpenAI, err)
}

// OpenAIReplyGenerator answers a transcript with a chat completion.
type OpenAIReplyGenerator struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIReplyGenerator(cfg OpenAIConfig) *OpenAIReplyGenerator {
	model := strings.TrimSpace(cfg.ChatModel)
	if model == "" {
		model = openai.GPT4
	}
	return &OpenAIReplyGenerator{
		client:       newOpenAIClient(cfg),
		model:        model,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
	}
}

func (g *OpenAIReplyGenerator) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: buildChatMessages(g.systemPrompt, req),
	})
	if err != nil {
		return "", classifyOpenAIError(StepGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(StepGeneration, providerOpenAI, "completion has no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", malformed(StepGeneration, providerOpenAI, "completion message is empty")
	}
	return reply, nil
}

func buildChatMessages(systemPrompt string, req ReplyRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2+2*len(req.History))
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, ex := range req.History {
		if strings.TrimSpace(ex.Transcript) == "" || strings.TrimSpace(ex.Reply) == "" {
			continue
		}
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Transcript},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Reply},
		)
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Transcript,
	})
}

// OpenAISpeechSynthesizer renders text with the audio/speech endpoint.
type OpenAISpeechSynthesizer struct {
	client       *openai.Client
	defaultVoice string
}

func NewOpenAISpeechSynthesizer(cfg OpenAIConfig, defaultVoice string) *OpenAISpeechSynthesizer {
	if strings.TrimSpace(defaultVoice) == "" {
		defaultVoice = string(openai.VoiceAlloy)
	}
	return &OpenAISpeechSynthesizer{client: newOpenAIClient(cfg), defaultVoice: defaultVoice}
}

func (s *OpenAISpeechSynthesizer) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error) {
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		voiceID = s.defaultVoice
	}
	model := openai.TTSModel1
	if cfg.Tier == TierHD {
		model = openai.TTSModel1HD
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          openai.SpeechVoice(voiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return audio.Clip{}, classifyOpenAIError(StepSynthesis, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return audio.Clip{}, transportError(StepSynthesis, providerOpenAI, fmt.Errorf("read speech body: %w", err))
	}
	if len(data) == 0 {
		return audio.Clip{}, malformed(StepSynthesis, providerOpenAI, "speech response is empty")
	}
	return audio.NewClip(data, audio.ContentTypeMPEG), nil
}
