package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/japlvoice/internal/audio"
)

// MockTranscript is what the mock transcriber hears on every recording.
const MockTranscript = "simulated voice input"

// MockTranscriber stands in for Deepgram when no key is configured. References containing
// "silence" transcribe to the empty string.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(ctx context.Context, recordingReference string, _ TranscribeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := recordingMediaURL(recordingReference); err != nil {
		return "", newStepError(StepTranscription, "mock", ErrInvalidReference, err)
	}
	if strings.Contains(strings.ToLower(recordingReference), "silence") {
		return "", nil
	}
	return MockTranscript, nil
}

// MockReplyGenerator echoes the transcript back.
type MockReplyGenerator struct{}

func (MockReplyGenerator) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Vous avez dit : %s", strings.TrimSpace(req.Transcript)), nil
}

// MockSynthesizer renders a short WAV tone whose length follows the text length.
type MockSynthesizer struct{}

func (MockSynthesizer) Synthesize(ctx context.Context, text string, _ VoiceConfig) (audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	d := time.Duration(len([]rune(text))) * 20 * time.Millisecond
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	} else if d > 3*time.Second {
		d = 3 * time.Second
	}
	const sampleRate = 8000
	wav, err := audio.EncodeWAVPCM16LE(audio.Tone(440, d, sampleRate), sampleRate)
	if err != nil {
		return audio.Clip{}, newStepError(StepSynthesis, "mock", ErrMalformedUpstreamResponse, err)
	}
	return audio.NewClip(wav, audio.ContentTypeWAV), nil
}
