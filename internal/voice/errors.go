package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/japlvoice/internal/reliability"
)

// Failure kinds.
var (
	ErrUpstreamUnavailable       = errors.New("upstream unavailable")
	ErrUpstreamRejected          = errors.New("upstream rejected request")
	ErrMalformedUpstreamResponse = errors.New("malformed upstream response")
	ErrConnectionError           = errors.New("connection error")
	ErrInvalidReference          = errors.New("invalid recording reference")
)

// Step failures. Every error leaving a step matches exactly one of these.
var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	ErrPlaybackFailed      = errors.New("playback publication failed")
)

type Step string

const (
	StepTranscription Step = "transcription"
	StepGeneration    Step = "generation"
	StepSynthesis     Step = "synthesis"
	StepPlayback      Step = "playback"
)

func (s Step) sentinel() error {
	switch s {
	case StepTranscription:
		return ErrTranscriptionFailed
	case StepGeneration:
		return ErrGenerationFailed
	case StepSynthesis:
		return ErrSynthesisFailed
	case StepPlayback:
		return ErrPlaybackFailed
	default:
		return nil
	}
}

// StepError describes a failed pipeline step. errors.Is matches both its step sentinel and its kind.
type StepError struct {
	Step       Step
	Kind       error
	Provider   string
	StatusCode int
	Code       string
	Retryable  bool
	Err        error
}

func (e *StepError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Step))
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StepError) Unwrap() []error {
	out := make([]error, 0, 3)
	if s := e.Step.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsRetryable reports whether repeating the failed call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func newStepError(step Step, provider string, kind error, err error) *StepError {
	return &StepError{
		Step:      step,
		Kind:      kind,
		Provider:  provider,
		Retryable: kind == ErrUpstreamUnavailable || kind == ErrConnectionError,
		Err:       err,
	}
}

// statusError classifies a non-2xx upstream answer.
func statusError(step Step, provider string, status int, body string) *StepError {
	kind := ErrUpstreamRejected
	if reliability.IsRetryableHTTPStatus(status) || status >= 500 {
		kind = ErrUpstreamUnavailable
	}
	var err error
	if body = strings.TrimSpace(body); body != "" {
		if len(body) > 256 {
			body = body[:256]
		}
		err = errors.New(body)
	}
	se := newStepError(step, provider, kind, err)
	se.StatusCode = status
	se.Retryable = reliability.IsRetryableHTTPStatus(status)
	return se
}

// transportError classifies a failure to reach the upstream at all.
func transportError(step Step, provider string, err error) *StepError {
	se := newStepError(step, provider, ErrUpstreamUnavailable, err)
	if errors.Is(err, context.Canceled) {
		se.Retryable = false
	}
	return se
}

func malformed(step Step, provider string, format string, args ...any) *StepError {
	return newStepError(step, provider, ErrMalformedUpstreamResponse, fmt.Errorf(format, args...))
}

// asStepError attributes err to step, keeping any classification a provider already made.
func asStepError(step Step, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		if se.Step == step {
			return se
		}
		c := *se
		c.Step = step
		return &c
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newStepError(step, "", ErrUpstreamUnavailable, err)
	case errors.Is(err, context.Canceled):
		se := newStepError(step, "", ErrUpstreamUnavailable, err)
		se.Retryable = false
		return se
	default:
		return newStepError(step, "", nil, err)
	}
}
