// Package twilio holds the pieces of the Twilio Programmable Voice contract this service
// speaks: TwiML rendering, webhook parameters, request signatures and recording media.
package twilio

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Say speaks text with Twilio's built-in voices.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Play plays an audio location (URL or data URI).
type Play struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Record captures the caller and posts the result to Action.
type Record struct {
	XMLName                 xml.Name `xml:"Record"`
	Action                  string   `xml:"action,attr,omitempty"`
	Method                  string   `xml:"method,attr,omitempty"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	Timeout                 int      `xml:"timeout,attr,omitempty"`
	PlayBeep                bool     `xml:"playBeep,attr"`
	Transcribe              bool     `xml:"transcribe,attr"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response is an ordered TwiML document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

func NewResponse(verbs ...any) *Response {
	return &Response{Verbs: verbs}
}

func (r *Response) Append(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Marshal renders the document with the XML declaration Twilio expects.
func (r *Response) Marshal() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body))
	out = append(out, xml.Header...)
	return append(out, body...), nil
}

// Verb is a parsed TwiML element, used by clients and tests that inspect markup.
type Verb struct {
	Name  string
	Attrs map[string]string
	Text  string
}

// Document is a parsed TwiML response in verb order.
type Document struct {
	Verbs []Verb
}

// Find returns the verbs with the given element name.
func (d *Document) Find(name string) []Verb {
	var out []Verb
	for _, v := range d.Verbs {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out
}

// Parse reads a TwiML response document.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	doc := &Document{}
	depth := 0
	var current *Verb
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse twiml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if t.Name.Local != "Response" {
					return nil, fmt.Errorf("parse twiml: root element %q, want Response", t.Name.Local)
				}
			case 2:
				current = &Verb{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
				for _, a := range t.Attr {
					current.Attrs[a.Name.Local] = a.Value
				}
				text.Reset()
			}
		case xml.CharData:
			if depth == 2 && current != nil {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && current != nil {
				current.Text = strings.TrimSpace(text.String())
				doc.Verbs = append(doc.Verbs, *current)
				current = nil
			}
			depth--
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("parse twiml: unbalanced document")
	}
	return doc, nil
}
