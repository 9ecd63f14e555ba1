package twilio

import (
	"path"
	"strings"
)

// Webhook form parameter names.
const (
	ParamCallSID           = "CallSid"
	ParamAccountSID        = "AccountSid"
	ParamFrom              = "From"
	ParamTo                = "To"
	ParamCallStatus        = "CallStatus"
	ParamRecordingURL      = "RecordingUrl"
	ParamRecordingSID      = "RecordingSid"
	ParamRecordingStatus   = "RecordingStatus"
	ParamRecordingDuration = "RecordingDuration"
)

// IsTerminalCallStatus reports whether a CallStatus value means the call is over.
func IsTerminalCallStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	default:
		return false
	}
}

// RecordingMediaURL points at the mp3 rendition when the recording URL names no format.
func RecordingMediaURL(recordingURL string) string {
	u := strings.TrimSpace(recordingURL)
	if u == "" {
		return ""
	}
	p := u
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if path.Ext(path.Base(p)) != "" {
		return u
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i] + ".mp3" + u[i:]
	}
	return u + ".mp3"
}
