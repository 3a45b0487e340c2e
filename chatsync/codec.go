package chatsync

import (
	"encoding/json"
	"fmt"

	"roomchat/models"
)

// DecodeError reports one record of a snapshot that failed normalization.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("chatsync: record %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NormalizeSnapshot decodes raw feed records in the order given. Records that
// fail to decode are left out and reported individually; the rest are kept.
func NormalizeSnapshot(documents []json.RawMessage) ([]models.Message, []error) {
	messages := make([]models.Message, 0, len(documents))
	var errs []error
	for i, raw := range documents {
		var message models.Message
		if err := json.Unmarshal(raw, &message); err != nil {
			errs = append(errs, &DecodeError{Index: i, Err: err})
			continue
		}
		messages = append(messages, message)
	}
	return messages, errs
}

// EncodeSnapshot serializes an ordered message list into the cache blob.
func EncodeSnapshot(messages []models.Message) (string, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(raw), nil
}

// DecodeSnapshot parses a cache blob. A blob that is not a JSON array is an
// error; individual bad records are skipped and reported.
func DecodeSnapshot(blob string) ([]models.Message, []error, error) {
	var documents []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &documents); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	messages, errs := NormalizeSnapshot(documents)
	return messages, errs, nil
}
