package twilio

import "strings"

// Dialog holds the call-flow wording and recording settings shared by every call.
type Dialog struct {
	Greeting                string
	Reprompt                string
	FailureAnnouncement     string
	Language                string
	Voice                   string
	RecordAction            string
	RecordingStatusCallback string
	MaxRecordingSeconds     int
	MultiTurn               bool
}

func (d Dialog) say(text string) Say {
	return Say{Voice: d.Voice, Language: d.Language, Text: text}
}

func (d Dialog) record() Record {
	maxLen := d.MaxRecordingSeconds
	if maxLen <= 0 {
		maxLen = 60
	}
	return Record{
		Action:                  d.RecordAction,
		Method:                  "POST",
		MaxLength:               maxLen,
		PlayBeep:                true,
		Transcribe:              false,
		RecordingStatusCallback: d.RecordingStatusCallback,
	}
}

// Greet answers a new call: speak the greeting, then record the caller.
func (d Dialog) Greet() *Response {
	return NewResponse(d.say(d.Greeting), d.record())
}

// Reply plays the synthesized answer, then records again or hangs up.
func (d Dialog) Reply(playURL string) *Response {
	r := NewResponse(Play{Loop: 1, URL: playURL})
	if d.MultiTurn {
		return r.Append(d.record())
	}
	return r.Append(Hangup{})
}

// NoSpeech asks the caller to repeat after an empty transcript.
func (d Dialog) NoSpeech() *Response {
	return NewResponse(d.say(d.Reprompt), d.record())
}

// HasFailureAnnouncement reports whether failed turns are announced instead of answered with 500.
func (d Dialog) HasFailureAnnouncement() bool {
	return strings.TrimSpace(d.FailureAnnouncement) != ""
}

// Failure apologizes and ends the call.
func (d Dialog) Failure() *Response {
	return NewResponse(d.say(d.FailureAnnouncement), Hangup{})
}
