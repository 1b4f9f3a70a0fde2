package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Encode serializes a QueuedJob into the queue wire format. A nil prompt list
// is written as [] and decodes back as an empty, non-nil slice. Text that is
// not valid UTF-8 is rejected, since JSON would silently replace it.
func Encode(q QueuedJob) ([]byte, error) {
	if q.Prompts == nil {
		q.Prompts = []PromptMessage{}
	}

	if err := checkUTF8(q); err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", q.JobID, err)
	}

	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", q.JobID, err)
	}

	return data, nil
}

// Decode parses a queue payload. Any failure wraps ErrDecode.
func Decode(data []byte) (QueuedJob, error) {
	var q QueuedJob

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&q); err != nil {
		return QueuedJob{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// Anything after the document, even a stray '}', makes the payload invalid
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return QueuedJob{}, fmt.Errorf("%w: trailing data after job document", ErrDecode)
	}

	if q.JobID == "" {
		return QueuedJob{}, fmt.Errorf("%w: job_id is required", ErrDecode)
	}

	if q.Prompts == nil {
		q.Prompts = []PromptMessage{}
	}

	return q, nil
}

func checkUTF8(q QueuedJob) error {
	if !utf8.ValidString(q.JobID) {
		return fmt.Errorf("%w: job_id", ErrInvalidText)
	}
	for i, p := range q.Prompts {
		if !utf8.ValidString(p.Role) || !utf8.ValidString(p.Content) {
			return fmt.Errorf("%w: prompt %d", ErrInvalidText, i)
		}
	}
	return nil
}

// EncodeChunk serializes a ChunkMessage as a flat publish payload
func EncodeChunk(m ChunkMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk %d of job %s: %w", m.Index, m.JobID, err)
	}
	return data, nil
}

// DecodeChunk parses a publish payload back into a ChunkMessage
func DecodeChunk(data []byte) (ChunkMessage, error) {
	var m ChunkMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ChunkMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}
