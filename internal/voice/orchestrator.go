package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/memory"
	"github.com/antoniostano/japlvoice/internal/observability"
	"github.com/antoniostano/japlvoice/internal/policy"
	"github.com/antoniostano/japlvoice/internal/reliability"
	"github.com/antoniostano/japlvoice/internal/twilio"
)

const (
	defaultStepTimeout = 8 * time.Second
	// Twilio abandons a webhook after 15 seconds.
	defaultTurnTimeout = 14 * time.Second
	historyLoadTimeout = 500 * time.Millisecond
	historySaveTimeout = 2 * time.Second
)

type Outcome string

const (
	OutcomeReplied  Outcome = "replied"
	OutcomeNoSpeech Outcome = "no_speech"
	OutcomeFailed   Outcome = "failed"
)

type TurnRequest struct {
	CallSID            string
	RecordingReference string
}

// Turn is the result of one recording processed end to end. It belongs to a single RunTurn call.
type Turn struct {
	ID                 string
	CallSID            string
	RecordingReference string
	Transcript         string
	ReplyText          string
	ReplyAudio         audio.Clip
	PlaybackURL        string
	Outcome            Outcome
	Markup             []byte
	Timings            map[Step]time.Duration
	StartedAt          time.Time
	Duration           time.Duration
}

type Deps struct {
	Transcriber  Transcriber
	Generator    ReplyGenerator
	Synthesizers Synthesizers
	// Publisher defaults to inline data URIs.
	Publisher audio.Publisher
	// History is optional; nil disables multi-turn context.
	History memory.Store
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

type Options struct {
	Strategy    SynthesisStrategy
	Voice       VoiceConfig
	Transcribe  TranscribeOptions
	StepTimeout time.Duration
	// SynthesisTimeout lets the synthesis step outlast StepTimeout; the larger of the two applies.
	SynthesisTimeout time.Duration
	// TurnTimeout bounds the whole turn, retries included.
	TurnTimeout   time.Duration
	Retry         reliability.RetryPolicy
	HistoryTurns  int
	RedactHistory bool
	Dialog        twilio.Dialog
}

// Orchestrator runs transcription, generation and synthesis for one recording at a time and
// renders the outcome as TwiML. It is safe for concurrent use by independent calls.
type Orchestrator struct {
	transcriber Transcriber
	generator   ReplyGenerator
	synthesizer Synthesizer
	publisher   audio.Publisher
	history     memory.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	latency     *latencyWindow
	opts        Options
}

func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("reply generator is required")
	}
	synth, err := deps.Synthesizers.Select(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyRequestResponse
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}
	if opts.Voice.Tier == "" {
		opts.Voice.Tier = TierStandard
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = audio.InlinePublisher{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		transcriber: deps.Transcriber,
		generator:   deps.Generator,
		synthesizer: synth,
		publisher:   publisher,
		history:     deps.History,
		metrics:     deps.Metrics,
		logger:      logger,
		latency:     newLatencyWindow(defaultLatencySamples),
		opts:        opts,
	}, nil
}

// Dialog returns the call-flow wording used to render turns.
func (o *Orchestrator) Dialog() twilio.Dialog { return o.opts.Dialog }

func (o *Orchestrator) Strategy() SynthesisStrategy { return o.opts.Strategy }

// Latency reports recent step and turn durations of this orchestrator.
func (o *Orchestrator) Latency() LatencyReport {
	return o.latency.report(o.opts.StepTimeout, o.opts.TurnTimeout)
}

func (o *Orchestrator) stepTimeout(step Step) time.Duration {
	if step == StepSynthesis && o.opts.SynthesisTimeout > o.opts.StepTimeout {
		return o.opts.SynthesisTimeout
	}
	return o.opts.StepTimeout
}

// RunTurn processes one completed recording. On error no markup is produced.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	start := time.Now()
	turn := &Turn{
		ID:                 uuid.NewString(),
		CallSID:            strings.TrimSpace(req.CallSID),
		RecordingReference: strings.TrimSpace(req.RecordingReference),
		Timings:            make(map[Step]time.Duration, 4),
		StartedAt:          start.UTC(),
	}
	log := o.logger.With(zap.String("call_sid", turn.CallSID), zap.String("turn_id", turn.ID))

	turnCtx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	err := o.runTurn(turnCtx, turn, log)
	turn.Duration = time.Since(start)
	if err != nil {
		provider, code := failureLabels(err)
		o.metrics.ObserveTurn(string(OutcomeFailed))
		o.metrics.ObserveProviderError(provider, code)
		o.latency.observeTurn(OutcomeFailed, turn.Duration)
		log.Warn("turn failed",
			zap.Duration("duration", turn.Duration),
			zap.String("provider", provider),
			zap.String("code", code),
			zap.Bool("turn_budget_exhausted", ctx.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded)),
			zap.Error(err),
		)
		return nil, err
	}

	o.metrics.ObserveTurn(string(turn.Outcome))
	o.latency.observeTurn(turn.Outcome, turn.Duration)
	log.Info("turn completed",
		zap.String("outcome", string(turn.Outcome)),
		zap.Duration("duration", turn.Duration),
		zap.Int("transcript_chars", len(turn.Transcript)),
		zap.Int("audio_bytes", turn.ReplyAudio.Len()),
	)
	return turn, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, turn *Turn, log *zap.Logger) error {
	if turn.RecordingReference == "" {
		return newStepError(StepTranscription, "", ErrInvalidReference, errors.New("missing recording reference"))
	}

	transcript, err := runStep(ctx, o, turn, log, StepTranscription, true, func(ctx context.Context) (string, error) {
		return o.transcriber.Transcribe(ctx, turn.RecordingReference, o.opts.Transcribe)
	})
	if err != nil {
		return err
	}
	turn.Transcript = strings.TrimSpace(transcript)

	if turn.Transcript == "" {
		markup, err := o.opts.Dialog.NoSpeech().Marshal()
		if err != nil {
			return fmt.Errorf("render reprompt: %w", err)
		}
		turn.Outcome = OutcomeNoSpeech
		turn.Markup = markup
		return nil
	}

	history := o.loadHistory(ctx, turn.CallSID, log)

	reply, err := runStep(ctx, o, turn, log, StepGeneration, true, func(ctx context.Context) (string, error) {
		return o.generator.GenerateReply(ctx, ReplyRequest{Transcript: turn.Transcript, History: history})
	})
	if err != nil {
		return err
	}
	turn.ReplyText = strings.TrimSpace(reply)
	if turn.ReplyText == "" {
		return malformed(StepGeneration, "", "reply is empty")
	}

	spoken := spokenText(turn.ReplyText)
	if spoken == "" {
		spoken = turn.ReplyText
	}
	clip, err := runStep(ctx, o, turn, log, StepSynthesis, true, func(ctx context.Context) (audio.Clip, error) {
		return o.synthesizer.Synthesize(ctx, spoken, o.opts.Voice)
	})
	if err != nil {
		return err
	}
	if clip.Len() == 0 {
		return malformed(StepSynthesis, "", "synthesized audio is empty")
	}
	turn.ReplyAudio = clip
	o.metrics.ObserveAudioBytes(clip.Len())

	playURL, err := runStep(ctx, o, turn, log, StepPlayback, false, func(ctx context.Context) (string, error) {
		return o.publisher.Publish(ctx, clip)
	})
	if err != nil {
		return err
	}
	turn.PlaybackURL = playURL

	markup, err := o.opts.Dialog.Reply(playURL).Marshal()
	if err != nil {
		return fmt.Errorf("render reply: %w", err)
	}
	turn.Markup = markup
	turn.Outcome = OutcomeReplied

	o.saveHistory(ctx, turn, log)
	return nil
}

// runStep runs fn under the step's timeout, retrying retryable failures per the retry policy.
func runStep[T any](
	ctx context.Context,
	o *Orchestrator,
	turn *Turn,
	log *zap.Logger,
	step Step,
	retry bool,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	policy := o.opts.Retry
	if !retry {
		policy.Attempts = 1
	}

	start := time.Now()
	err := reliability.Retry(ctx, policy, IsRetryable, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			o.metrics.ObserveRetry(string(step))
		}
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout(step))
		defer cancel()

		v, err := fn(stepCtx)
		if err != nil {
			se := asStepError(step, err)
			log.Warn("step attempt failed",
				zap.String("step", string(step)),
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", se.Retryable),
				zap.Error(err),
			)
			return se
		}
		out = v
		return nil
	})
	d := time.Since(start)
	turn.Timings[step] = d
	o.metrics.ObserveStep(string(step), d)
	o.latency.observeStep(step, d, err != nil)
	if err != nil {
		var zero T
		return zero, err
	}
	log.Debug("step completed", zap.String("step", string(step)), zap.Duration("duration", d))
	return out, nil
}

// loadHistory is best effort; a slow or failing store never fails the turn.
func (o *Orchestrator) loadHistory(ctx context.Context, callSID string, log *zap.Logger) []Exchange {
	if o.history == nil || o.opts.HistoryTurns <= 0 || callSID == "" {
		return nil
	}
	start := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, historyLoadTimeout)
	defer cancel()

	records, err := o.history.RecentContext(loadCtx, callSID, o.opts.HistoryTurns)
	o.metrics.ObserveStep("history_load", time.Since(start))
	if err != nil {
		log.Warn("history load failed", zap.Error(err))
		return nil
	}
	out := make([]Exchange, 0, len(records))
	for _, r := range records {
		out = append(out, Exchange{Transcript: r.Transcript, Reply: r.Reply})
	}
	return out
}

func (o *Orchestrator) saveHistory(ctx context.Context, turn *Turn, log *zap.Logger) {
	if o.history == nil || o.opts.HistoryTurns <= 0 || turn.CallSID == "" {
		return
	}
	transcript, reply := turn.Transcript, turn.ReplyText
	redacted := false
	if o.opts.RedactHistory {
		var tChanged, rChanged bool
		transcript, tChanged = policy.RedactPII(transcript)
		reply, rChanged = policy.RedactPII(reply)
		redacted = tChanged || rChanged
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
	defer cancel()
	err := o.history.SaveTurn(saveCtx, memory.TurnRecord{
		ID:          uuid.NewString(),
		CallSID:     turn.CallSID,
		TurnID:      turn.ID,
		Transcript:  transcript,
		Reply:       reply,
		PIIRedacted: redacted,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		o.metrics.ObserveCallEvent("history_save_failed")
		log.Warn("history save failed", zap.Error(err))
	}
}

// failureLabels names the provider and error code for metrics.
func failureLabels(err error) (provider, code string) {
	var se *StepError
	if !errors.As(err, &se) {
		return "unknown", "internal"
	}
	provider = se.Provider
	if provider == "" {
		provider = string(se.Step)
	}
	switch {
	case se.Code != "":
		code = se.Code
	case se.StatusCode != 0:
		code = fmt.Sprintf("http_%d", se.StatusCode)
	case se.Kind != nil:
		code = strings.ReplaceAll(se.Kind.Error(), " ", "_")
	default:
		code = "internal"
	}
	return provider, code
}
