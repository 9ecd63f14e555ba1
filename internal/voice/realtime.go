package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/protocol"
	"github.com/antoniostano/japlvoice/internal/reliability"
	"github.com/gorilla/websocket"
)

const providerRealtime = "realtime"

type RealtimeConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// Voice, when set, replaces the per-turn voice ID.
	Voice string
	// AudioContentType labels binary frames; empty means sniff the payload.
	AudioContentType string
	Dialer           *websocket.Dialer
}

// RealtimeSynthesizer speaks one reply per socket: two control messages out, one audio message in.
type RealtimeSynthesizer struct {
	cfg    RealtimeConfig
	dialer *websocket.Dialer
}

func NewRealtimeSynthesizer(cfg RealtimeConfig) *RealtimeSynthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &RealtimeSynthesizer{cfg: cfg, dialer: dialer}
}

func realtimeModel(tier Tier) string {
	if tier == TierHD {
		return "tts-1-hd"
	}
	return "tts-1"
}

func (s *RealtimeSynthesizer) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (audio.Clip, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	headers := http.Header{}
	if s.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	conn, res, err := s.dialer.DialContext(ctx, s.cfg.URL, headers)
	if err != nil {
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			return audio.Clip{}, statusError(StepSynthesis, providerRealtime, res.StatusCode, "")
		}
		if ctx.Err() != nil {
			return audio.Clip{}, transportError(StepSynthesis, providerRealtime, ctx.Err())
		}
		return audio.Clip{}, newStepError(StepSynthesis, providerRealtime, ErrConnectionError, fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(protocol.NewConversationItemCreate(text)); err != nil {
		return audio.Clip{}, newStepError(StepSynthesis, providerRealtime, ErrConnectionError, fmt.Errorf("send conversation item: %w", err))
	}
	voiceID := cfg.VoiceID
	if s.cfg.Voice != "" {
		voiceID = s.cfg.Voice
	}
	if err := conn.WriteJSON(protocol.NewResponseCreate(voiceID, realtimeModel(cfg.Tier))); err != nil {
		return audio.Clip{}, newStepError(StepSynthesis, providerRealtime, ErrConnectionError, fmt.Errorf("send response request: %w", err))
	}

	clip, err := s.awaitAudio(ctx, conn)
	if err != nil {
		return audio.Clip{}, err
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return clip, nil
}

// awaitAudio reads until the first audio message, an error event, or the end of the response.
func (s *RealtimeSynthesizer) awaitAudio(ctx context.Context, conn *websocket.Conn) (audio.Clip, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return audio.Clip{}, transportError(StepSynthesis, providerRealtime, fmt.Errorf("waiting for audio: %w", ctx.Err()))
			}
			return audio.Clip{}, newStepError(StepSynthesis, providerRealtime, ErrConnectionError, fmt.Errorf("read: %w", err))
		}

		if msgType == websocket.BinaryMessage {
			if len(data) == 0 {
				return audio.Clip{}, malformed(StepSynthesis, providerRealtime, "empty binary audio frame")
			}
			return audio.NewClip(data, s.cfg.AudioContentType), nil
		}

		evt, err := protocol.ParseServerEvent(data)
		if err != nil {
			return audio.Clip{}, malformed(StepSynthesis, providerRealtime, "%v", err)
		}
		switch {
		case evt.IsAudio():
			payload, err := evt.Audio()
			if err != nil {
				return audio.Clip{}, malformed(StepSynthesis, providerRealtime, "%v", err)
			}
			return audio.NewClip(payload, s.cfg.AudioContentType), nil
		case evt.Type == protocol.TypeError:
			return audio.Clip{}, realtimeEventError(evt)
		case evt.Type == protocol.TypeResponseDone, evt.Type == protocol.TypeResponseAudioDone:
			return audio.Clip{}, malformed(StepSynthesis, providerRealtime, "response finished without audio")
		}
	}
}

func realtimeEventError(evt protocol.ServerEvent) *StepError {
	code := evt.ErrorCode()
	var detail error
	if evt.Error != nil && strings.TrimSpace(evt.Error.Message) != "" {
		detail = errors.New(evt.Error.Message)
	}
	kind := ErrUpstreamRejected
	if reliability.IsRetryableRealtimeMessageType(code) {
		kind = ErrUpstreamUnavailable
	}
	se := newStepError(StepSynthesis, providerRealtime, kind, detail)
	se.Code = code
	return se
}
