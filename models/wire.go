package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type wireUser struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type wireMessage struct {
	ID        string          `json:"_id"`
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`
	User      *wireUser       `json:"user,omitempty"`
	Text      *string         `json:"text,omitempty"`
	Image     *string         `json:"image,omitempty"`
	Audio     *string         `json:"audio,omitempty"`
	Location  *Location       `json:"location,omitempty"`
	System    bool            `json:"system,omitempty"`
}

type wireTimestamp struct {
	Seconds     *int64 `json:"seconds"`
	Nanoseconds int64  `json:"nanoseconds"`
}

// MarshalJSON encodes the message in the feed wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	if !m.validUTF8() {
		return nil, ErrInvalidText
	}
	createdAt, err := json.Marshal(m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("marshal createdAt: %w", err)
	}

	out := wireMessage{
		ID:        m.ID,
		CreatedAt: createdAt,
		System:    m.IsSystem,
	}
	if !m.IsSystem {
		out.User = &wireUser{ID: m.AuthorID, Name: m.AuthorName}
	}

	switch m.Payload.kind {
	case PayloadText:
		text := m.Payload.text
		out.Text = &text
	case PayloadImage:
		url := m.Payload.url
		out.Image = &url
	case PayloadAudio:
		url := m.Payload.url
		out.Audio = &url
	case PayloadLocation:
		location := m.Payload.location
		out.Location = &location
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes one feed record, rejecting records that do not carry
// an id, a timestamp and exactly one payload variant.
func (m *Message) UnmarshalJSON(raw []byte) error {
	var in wireMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if in.ID == "" {
		return ErrMissingID
	}

	createdAt, err := parseTimestamp(in.CreatedAt)
	if err != nil {
		return err
	}

	payload, err := wirePayload(in)
	if err != nil {
		return err
	}

	decoded := Message{
		ID:        in.ID,
		CreatedAt: createdAt,
		Payload:   payload,
		IsSystem:  in.System,
	}
	if in.User != nil && !in.System {
		decoded.AuthorID = in.User.ID
		decoded.AuthorName = in.User.Name
	}

	*m = decoded
	return nil
}

func wirePayload(in wireMessage) (Payload, error) {
	var (
		payload Payload
		count   int
	)
	if in.Text != nil {
		payload = TextPayload(*in.Text)
		count++
	}
	if in.Image != nil {
		payload = ImagePayload(*in.Image)
		count++
	}
	if in.Audio != nil {
		payload = AudioPayload(*in.Audio)
		count++
	}
	if in.Location != nil {
		payload = LocationPayload(in.Location.Latitude, in.Location.Longitude)
		count++
	}

	switch {
	case count == 0:
		return Payload{}, ErrNoPayload
	case count > 1:
		return Payload{}, ErrAmbiguousPayload
	}
	if err := payload.Validate(); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// parseTimestamp accepts RFC3339 strings, Unix milliseconds, or a
// {"seconds","nanoseconds"} object and returns a UTC time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, ErrMissingTimestamp
	}

	switch raw[0] {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		return parsed.UTC(), nil
	case '{':
		var value wireTimestamp
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		if value.Seconds == nil {
			return time.Time{}, ErrMissingTimestamp
		}
		return time.Unix(*value.Seconds, value.Nanoseconds).UTC(), nil
	default:
		var millis float64
		if err := json.Unmarshal(raw, &millis); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if math.IsNaN(millis) || millis < math.MinInt64 || millis >= math.MaxInt64 {
			return time.Time{}, ErrInvalidTimestamp
		}
		return time.UnixMilli(int64(millis)).UTC(), nil
	}
}
