package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConversationItemCreateShape(t *testing.T) {
	raw, err := json.Marshal(NewConversationItemCreate("Bonjour"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := string(raw)
	for _, want := range []string{
		`"type":"conversation.item.create"`,
		`"role":"assistant"`,
		`"type":"input_text"`,
		`"text":"Bonjour"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("payload = %s, missing %s", got, want)
		}
	}
}

func TestResponseCreateOmitsEmptyOptions(t *testing.T) {
	raw, err := json.Marshal(NewResponseCreate("", ""))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"type":"response.create"}` {
		t.Fatalf("payload = %s, want bare response.create", raw)
	}

	raw, err = json.Marshal(NewResponseCreate("alloy", "tts-1"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"voice":"alloy"`) || !strings.Contains(string(raw), `"model":"tts-1"`) {
		t.Fatalf("payload = %s, want voice and model", raw)
	}
}

func TestParseServerEventAudioDelta(t *testing.T) {
	evt, err := ParseServerEvent([]byte(`{"type":"response.output_audio.delta","delta":"AQID"}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if !evt.IsAudio() {
		t.Fatalf("IsAudio() = false, want true")
	}
	data, err := evt.Audio()
	if err != nil {
		t.Fatalf("Audio() error = %v", err)
	}
	if len(data) != 3 || data[0] != 1 || data[2] != 3 {
		t.Fatalf("Audio() = %v, want [1 2 3]", data)
	}
}

func TestParseServerEventErrors(t *testing.T) {
	evt, err := ParseServerEvent([]byte(`{"type":"error","error":{"type":"server_error","code":"rate_limit_exceeded","message":"slow down"}}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.ErrorCode() != "rate_limit_exceeded" {
		t.Fatalf("ErrorCode() = %q, want rate_limit_exceeded", evt.ErrorCode())
	}

	bare, err := ParseServerEvent([]byte(`{"type":"error"}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if bare.ErrorCode() != "error" {
		t.Fatalf("ErrorCode() = %q, want error", bare.ErrorCode())
	}

	if _, err := ParseServerEvent([]byte(`{"delta":"AQID"}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("error = %v, want ErrMissingType", err)
	}
	if _, err := ParseServerEvent([]byte(`not json`)); err == nil {
		t.Fatalf("ParseServerEvent() error = nil, want invalid envelope")
	}
}

func TestServerEventAudioRejectsBadPayload(t *testing.T) {
	if _, err := (ServerEvent{Type: TypeResponseAudioDelta}).Audio(); !errors.Is(err, ErrEmptyDelta) {
		t.Fatalf("Audio() error = %v, want ErrEmptyDelta", err)
	}
	if _, err := (ServerEvent{Type: TypeResponseAudioDelta, Delta: "%%%"}).Audio(); !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("Audio() error = %v, want ErrInvalidDelta", err)
	}
}
