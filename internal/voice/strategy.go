package voice

import (
	"fmt"
	"strings"
)

// SynthesisStrategy selects how reply audio is produced.
type SynthesisStrategy string

const (
	// StrategyStreaming renders audio over a realtime socket opened per turn.
	StrategyStreaming SynthesisStrategy = "streaming"
	// StrategyRequestResponse renders audio with one HTTP call.
	StrategyRequestResponse SynthesisStrategy = "request_response"
)

func ParseSynthesisStrategy(raw string) (SynthesisStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(StrategyRequestResponse), "request-response", "http":
		return StrategyRequestResponse, nil
	case string(StrategyStreaming), "realtime", "websocket":
		return StrategyStreaming, nil
	default:
		return "", fmt.Errorf("unknown synthesis strategy %q", raw)
	}
}

// Synthesizers holds one implementation per strategy.
type Synthesizers map[SynthesisStrategy]Synthesizer

func (s Synthesizers) Select(strategy SynthesisStrategy) (Synthesizer, error) {
	if strategy == "" {
		strategy = StrategyRequestResponse
	}
	synth, ok := s[strategy]
	if !ok || synth == nil {
		return nil, fmt.Errorf("no synthesizer configured for strategy %q", strategy)
	}
	return synth, nil
}
