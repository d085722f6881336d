package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// BasicVoice is the carrier-side voice used when premium synthesis is not
// available for a call.
const BasicVoice = "Polly.Joanna"

// Say speaks text with the carrier's built-in voice.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Play streams audio from a URL into the call.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Gather collects caller speech and posts it to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
}

// Redirect transfers call control to another webhook.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Document builds a call-control response verb by verb, in order.
type Document struct {
	verbs []any
}

// NewDocument creates an empty call-control document.
func NewDocument() *Document {
	return &Document{}
}

// Say appends a Say verb using the basic voice.
func (d *Document) Say(text string) *Document {
	d.verbs = append(d.verbs, Say{Voice: BasicVoice, Text: text})
	return d
}

// Play appends a Play verb for the given audio URL.
func (d *Document) Play(url string) *Document {
	d.verbs = append(d.verbs, Play{URL: url})
	return d
}

// GatherSpeech appends a speech Gather posting results to action.
func (d *Document) GatherSpeech(action string) *Document {
	d.verbs = append(d.verbs, Gather{
		Input:         "speech",
		Action:        action,
		SpeechTimeout: "auto",
		Language:      "en-US",
	})
	return d
}

// Redirect appends a Redirect verb.
func (d *Document) Redirect(url string) *Document {
	d.verbs = append(d.verbs, Redirect{URL: url})
	return d
}

// Hangup appends a Hangup verb.
func (d *Document) Hangup() *Document {
	d.verbs = append(d.verbs, Hangup{})
	return d
}

// Render serializes the document as a call-control XML payload.
func (d *Document) Render() (string, error) {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response>")
	for _, v := range d.verbs {
		out, err := xml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("telephony: render verb: %w", err)
		}
		b.Write(out)
	}
	b.WriteString("</Response>")
	return b.String(), nil
}
