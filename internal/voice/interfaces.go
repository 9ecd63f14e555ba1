package voice

import (
	"context"

	"github.com/antoniostano/japlvoice/internal/audio"
)

type TranscribeOptions struct {
	Punctuate bool
	Language  string
}

// Transcriber turns a recorded-audio reference into plain text. An empty transcript is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingReference string, opts TranscribeOptions) (string, error)
}

// Exchange is one earlier transcript and reply pair of the same call.
type Exchange struct {
	Transcript string
	Reply      string
}

type ReplyRequest struct {
	Transcript string
	History    []Exchange
}

type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// Tier trades synthesis latency against quality.
type Tier string

const (
	TierStandard Tier = "standard"
	TierHD       Tier = "hd"
)

type VoiceConfig struct {
	VoiceID string
	Tier    Tier
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error)
}
