package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMessageRoundTripPreservesEveryPayloadVariant(t *testing.T) {
	createdAt := time.Date(2024, 3, 9, 12, 30, 15, 123_000_000, time.UTC)
	messages := []Message{
		{ID: "t", AuthorID: "u1", AuthorName: "Ann", CreatedAt: createdAt, Payload: TextPayload("hi")},
		{ID: "i", AuthorID: "u1", AuthorName: "Ann", CreatedAt: createdAt, Payload: ImagePayload("https://cdn/x.png")},
		{ID: "a", AuthorID: "u2", AuthorName: "Bo", CreatedAt: createdAt, Payload: AudioPayload("https://cdn/x.m4a")},
		{ID: "l", AuthorID: "u2", AuthorName: "Bo", CreatedAt: createdAt, Payload: LocationPayload(52.52, 13.405)},
		{ID: "s", CreatedAt: createdAt, Payload: TextPayload("Ann has entered the chat"), IsSystem: true},
	}

	raw, err := json.Marshal(messages)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded []Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded) != len(messages) {
		t.Fatalf("expected %d messages, got %d", len(messages), len(decoded))
	}
	for i := range messages {
		want, got := messages[i], decoded[i]
		if got.ID != want.ID || got.AuthorID != want.AuthorID || got.AuthorName != want.AuthorName {
			t.Fatalf("message %d identity mismatch: got %+v want %+v", i, got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Fatalf("message %d createdAt mismatch: got %v want %v", i, got.CreatedAt, want.CreatedAt)
		}
		if got.Payload != want.Payload {
			t.Fatalf("message %d payload mismatch: got %+v want %+v", i, got.Payload, want.Payload)
		}
		if got.IsSystem != want.IsSystem {
			t.Fatalf("message %d system flag mismatch", i)
		}
	}
}

func TestUnmarshalAcceptsTimestampShapes(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := map[string]string{
		"rfc3339": `{"_id":"a","createdAt":"2024-01-02T03:04:05Z","text":"hi"}`,
		"millis":  `{"_id":"a","createdAt":1704164645000,"text":"hi"}`,
		"object":  `{"_id":"a","createdAt":{"seconds":1704164645,"nanoseconds":0},"text":"hi"}`,
	}
	for name, raw := range cases {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			t.Fatalf("%s: Unmarshal failed: %v", name, err)
		}
		if !msg.CreatedAt.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", name, want, msg.CreatedAt)
		}
		if msg.CreatedAt.Location() != time.UTC {
			t.Fatalf("%s: expected UTC timestamp", name)
		}
	}
}

func TestUnmarshalRejectsMalformedRecords(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`{"createdAt":"2024-01-02T03:04:05Z","text":"hi"}`, ErrMissingID},
		{`{"_id":"a","text":"hi"}`, ErrMissingTimestamp},
		{`{"_id":"a","createdAt":null,"text":"hi"}`, ErrMissingTimestamp},
		{`{"_id":"a","createdAt":"yesterday","text":"hi"}`, ErrInvalidTimestamp},
		{`{"_id":"a","createdAt":"2024-01-02T03:04:05Z"}`, ErrNoPayload},
		{`{"_id":"a","createdAt":"2024-01-02T03:04:05Z","text":"hi","image":"x"}`, ErrAmbiguousPayload},
		{`{"_id":"a","createdAt":"2024-01-02T03:04:05Z","image":""}`, ErrNoPayload},
		{`{"_id":"a","createdAt":"2024-01-02T03:04:05Z","location":{"latitude":91,"longitude":0}}`, ErrInvalidLocation},
		{`{"_id":"a","createdAt":1e19,"text":"hi"}`, ErrInvalidTimestamp},
		{`{"_id":"a","createdAt":-1e19,"text":"hi"}`, ErrInvalidTimestamp},
		{`{"_id":"a","createdAt":9223372036854775807,"text":"hi"}`, ErrInvalidTimestamp},
	}
	for _, tc := range cases {
		var msg Message
		err := json.Unmarshal([]byte(tc.raw), &msg)
		if !errors.Is(err, tc.want) {
			t.Fatalf("Unmarshal(%s): expected %v, got %v", tc.raw, tc.want, err)
		}
	}
}

func TestSystemMessageDropsAuthor(t *testing.T) {
	var msg Message
	raw := `{"_id":"s","createdAt":"2024-01-02T03:04:05Z","text":"welcome","system":true,"user":{"_id":"x","name":"y"}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !msg.IsSystem || msg.AuthorID != "" || msg.AuthorName != "" {
		t.Fatalf("expected authorless system message, got %+v", msg)
	}
}

func TestPayloadAccessorsMatchKind(t *testing.T) {
	if _, ok := ImagePayload("u").Text(); ok {
		t.Fatalf("image payload must not report text")
	}
	if url, ok := AudioPayload("u").URL(); !ok || url != "u" {
		t.Fatalf("audio payload URL mismatch: %q %v", url, ok)
	}
	if loc, ok := LocationPayload(1, 2).Location(); !ok || loc.Latitude != 1 || loc.Longitude != 2 {
		t.Fatalf("location payload mismatch: %+v %v", loc, ok)
	}
	if err := (Payload{}).Validate(); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected zero payload to be rejected, got %v", err)
	}
}

func TestValidateRejectsInvalidUTF8(t *testing.T) {
	createdAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []Message{
		{ID: "a", CreatedAt: createdAt, Payload: TextPayload("hi\xff")},
		{ID: "a", CreatedAt: createdAt, Payload: ImagePayload("https://relay/\xfe.jpg")},
		{ID: "a", CreatedAt: createdAt, AuthorName: "Ann\xc3", Payload: TextPayload("hi")},
	}
	for _, msg := range cases {
		if err := msg.Validate(); !errors.Is(err, ErrInvalidText) {
			t.Fatalf("Validate(%+v): expected ErrInvalidText, got %v", msg, err)
		}
		if _, err := json.Marshal(msg); !errors.Is(err, ErrInvalidText) {
			t.Fatalf("Marshal(%+v): expected ErrInvalidText, got %v", msg, err)
		}
	}

	valid := Message{ID: "a", CreatedAt: createdAt, AuthorName: "Zoë", Payload: TextPayload("héllo 👋")}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid UTF-8 to pass, got %v", err)
	}
}
