package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/antoniostano/japlvoice/internal/audio"
)

// FailoverSynthesizer prefers the primary synthesizer and switches to the fallback when the
// primary fails. Once the fallback succeeds it stays active until it fails; then primary is retried.
type FailoverSynthesizer struct {
	primary         Synthesizer
	fallback        Synthesizer
	fallbackVoiceID string
	fallbackActive  atomic.Bool
}

func NewFailoverSynthesizer(primary, fallback Synthesizer, fallbackVoiceID string) *FailoverSynthesizer {
	return &FailoverSynthesizer{
		primary:         primary,
		fallback:        fallback,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
	}
}

// FallbackActive reports whether the next turn starts on the fallback.
func (f *FailoverSynthesizer) FallbackActive() bool {
	return f.fallbackActive.Load()
}

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error) {
	if f.fallbackActive.Load() {
		clip, fbErr := f.synthesizeFallback(ctx, text, cfg)
		if fbErr == nil {
			return clip, nil
		}
		if abandoned(ctx, fbErr) {
			return audio.Clip{}, fbErr
		}
		clip, prErr := f.primary.Synthesize(ctx, text, cfg)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return clip, nil
		}
		return audio.Clip{}, fmt.Errorf("synthesis fallback failed: %v; primary failed: %w", fbErr, prErr)
	}

	clip, prErr := f.primary.Synthesize(ctx, text, cfg)
	if prErr == nil {
		return clip, nil
	}
	if abandoned(ctx, prErr) {
		return audio.Clip{}, prErr
	}
	clip, fbErr := f.synthesizeFallback(ctx, text, cfg)
	if fbErr != nil {
		return audio.Clip{}, fmt.Errorf("synthesis primary failed: %v; fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return clip, nil
}

func (f *FailoverSynthesizer) synthesizeFallback(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error) {
	if f.fallbackVoiceID != "" {
		cfg.VoiceID = f.fallbackVoiceID
	}
	return f.fallback.Synthesize(ctx, text, cfg)
}

// abandoned reports whether the caller gave up, in which case no other backend is tried.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
