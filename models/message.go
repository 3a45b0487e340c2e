package models

import (
	"errors"
	"time"
	"unicode/utf8"
)

// PayloadKind names the variant carried by a Payload.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadImage    PayloadKind = "image"
	PayloadAudio    PayloadKind = "audio"
	PayloadLocation PayloadKind = "location"
)

var (
	// ErrMissingID indicates a record without an identifier.
	ErrMissingID = errors.New("models: message id is required")
	// ErrMissingTimestamp indicates a record without createdAt.
	ErrMissingTimestamp = errors.New("models: createdAt is required")
	// ErrInvalidTimestamp indicates createdAt could not be parsed.
	ErrInvalidTimestamp = errors.New("models: invalid createdAt")
	// ErrNoPayload indicates a record with no payload variant.
	ErrNoPayload = errors.New("models: message has no payload")
	// ErrAmbiguousPayload indicates a record carrying more than one payload variant.
	ErrAmbiguousPayload = errors.New("models: message has more than one payload")
	// ErrInvalidLocation indicates coordinates outside valid degree ranges.
	ErrInvalidLocation = errors.New("models: invalid location")
	// ErrInvalidText indicates a string field that is not valid UTF-8.
	ErrInvalidText = errors.New("models: text is not valid UTF-8")
)

// Location is a geographic coordinate pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates fall within degree ranges.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Payload holds exactly one message variant. The zero value is empty and
// rejected by Validate.
type Payload struct {
	kind     PayloadKind
	text     string
	url      string
	location Location
}

// TextPayload builds a plain text payload.
func TextPayload(text string) Payload {
	return Payload{kind: PayloadText, text: text}
}

// ImagePayload builds an image payload from an already-uploaded URL.
func ImagePayload(url string) Payload {
	return Payload{kind: PayloadImage, url: url}
}

// AudioPayload builds an audio payload from an already-uploaded URL.
func AudioPayload(url string) Payload {
	return Payload{kind: PayloadAudio, url: url}
}

// LocationPayload builds a location payload.
func LocationPayload(latitude, longitude float64) Payload {
	return Payload{kind: PayloadLocation, location: Location{Latitude: latitude, Longitude: longitude}}
}

// Kind returns the variant, or "" for the zero Payload.
func (p Payload) Kind() PayloadKind { return p.kind }

// Text returns the text for text payloads.
func (p Payload) Text() (string, bool) {
	return p.text, p.kind == PayloadText
}

// URL returns the object reference for image and audio payloads.
func (p Payload) URL() (string, bool) {
	return p.url, p.kind == PayloadImage || p.kind == PayloadAudio
}

// Location returns the coordinates for location payloads.
func (p Payload) Location() (Location, bool) {
	return p.location, p.kind == PayloadLocation
}

// Validate checks that the payload carries one well-formed variant.
func (p Payload) Validate() error {
	switch p.kind {
	case PayloadText:
		if !utf8.ValidString(p.text) {
			return ErrInvalidText
		}
		return nil
	case PayloadImage, PayloadAudio:
		if p.url == "" {
			return ErrNoPayload
		}
		if !utf8.ValidString(p.url) {
			return ErrInvalidText
		}
		return nil
	case PayloadLocation:
		if !p.location.Valid() {
			return ErrInvalidLocation
		}
		return nil
	default:
		return ErrNoPayload
	}
}

// Message is one chat entry as rendered by the message list.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
	Payload    Payload
	IsSystem   bool
}

// Validate checks the fields every stored or transmitted message needs.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.CreatedAt.IsZero() {
		return ErrMissingTimestamp
	}
	if !m.validUTF8() {
		return ErrInvalidText
	}
	return m.Payload.Validate()
}

// validUTF8 reports whether every string survives JSON encoding unchanged.
func (m Message) validUTF8() bool {
	return utf8.ValidString(m.ID) &&
		utf8.ValidString(m.AuthorID) &&
		utf8.ValidString(m.AuthorName) &&
		utf8.ValidString(m.Payload.text) &&
		utf8.ValidString(m.Payload.url)
}
