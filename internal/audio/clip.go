package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	ContentTypeMPEG = "audio/mpeg"
	ContentTypeWAV  = "audio/wav"
	ContentTypeOgg  = "audio/ogg"
)

var ErrInvalidDataURI = errors.New("invalid audio data uri")

// Clip is a synthesized audio payload ready to be played back to a caller.
type Clip struct {
	Data        []byte
	ContentType string
}

// NewClip builds a clip, sniffing the content type when the producer did not report one.
func NewClip(data []byte, contentType string) Clip {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = SniffContentType(data)
	}
	return Clip{Data: data, ContentType: ct}
}

func (c Clip) Len() int { return len(c.Data) }

// DataURI renders the clip as an inline base64 data URI.
func (c Clip) DataURI() string {
	ct := c.ContentType
	if ct == "" {
		ct = SniffContentType(c.Data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// Extension returns the file extension conventionally used for the clip's format.
func (c Clip) Extension() string {
	switch c.ContentType {
	case ContentTypeWAV, "audio/x-wav", "audio/wave":
		return ".wav"
	case ContentTypeOgg:
		return ".ogg"
	default:
		return ".mp3"
	}
}

// SniffContentType recognizes the containers synthesis vendors return; MPEG is the fallback.
func SniffContentType(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContentTypeWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return ContentTypeOgg
	default:
		return ContentTypeMPEG
	}
}

// ParseDataURI decodes a base64 data URI produced by DataURI.
func ParseDataURI(uri string) (Clip, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return Clip{}, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Clip{}, ErrInvalidDataURI
	}
	ct, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return Clip{}, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Clip{}, ErrInvalidDataURI
	}
	return Clip{Data: data, ContentType: ct}, nil
}
