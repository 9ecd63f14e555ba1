// Package protocol defines the JSON events exchanged with the realtime speech synthesis socket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType identifies realtime socket payload variants.
type EventType string

const (
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeResponseCreate         EventType = "response.create"
	TypeResponseAudioDelta     EventType = "response.audio.delta"
	TypeResponseOutputAudio    EventType = "response.output_audio.delta"
	TypeResponseAudioDone      EventType = "response.audio.done"
	TypeResponseDone           EventType = "response.done"
	TypeSessionCreated         EventType = "session.created"
	TypeError                  EventType = "error"
)

var (
	ErrMissingType  = errors.New("realtime event without type")
	ErrEmptyDelta   = errors.New("audio delta without payload")
	ErrInvalidDelta = errors.New("audio delta is not valid base64")
)

type Envelope struct {
	Type EventType `json:"type"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ConversationItemCreate adds the text to speak to the conversation.
type ConversationItemCreate struct {
	Type EventType        `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseOptions struct {
	Modalities  []string `json:"modalities,omitempty"`
	Voice       string   `json:"voice,omitempty"`
	Model       string   `json:"model,omitempty"`
	AudioFormat string   `json:"output_audio_format,omitempty"`
}

// ResponseCreate asks the server to render the pending item as audio.
type ResponseCreate struct {
	Type     EventType        `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

func NewConversationItemCreate(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "assistant",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func NewResponseCreate(voice, model string) ResponseCreate {
	msg := ResponseCreate{Type: TypeResponseCreate}
	voice = strings.TrimSpace(voice)
	model = strings.TrimSpace(model)
	if voice != "" || model != "" {
		msg.Response = &ResponseOptions{
			Modalities: []string{"audio"},
			Voice:      voice,
			Model:      model,
		}
	}
	return msg
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is the union of the server events the synthesizer reacts to.
type ServerEvent struct {
	Type  EventType    `json:"type"`
	Delta string       `json:"delta,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// IsAudio reports whether the event carries an audio payload.
func (e ServerEvent) IsAudio() bool {
	return e.Type == TypeResponseAudioDelta || e.Type == TypeResponseOutputAudio
}

// Audio decodes the base64 payload of an audio delta.
func (e ServerEvent) Audio() ([]byte, error) {
	if strings.TrimSpace(e.Delta) == "" {
		return nil, ErrEmptyDelta
	}
	data, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	return data, nil
}

// ErrorCode returns the most specific code an error event carries.
func (e ServerEvent) ErrorCode() string {
	if e.Error == nil {
		return ""
	}
	if e.Error.Code != "" {
		return e.Error.Code
	}
	return e.Error.Type
}

func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if evt.Type == "" {
		return ServerEvent{}, ErrMissingType
	}
	if evt.Type == TypeError && evt.Error == nil {
		evt.Error = &ErrorDetail{Type: "error"}
	}
	return evt, nil
}
