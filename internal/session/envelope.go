package session

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
)

// schemaVersion is the current persisted envelope schema.
const schemaVersion = 1

// envelope is the persisted wrapper around a serialized session. When
// Compressed is set, Blob carries the deflate-compressed JSON payload
// (base64-encoded by encoding/json); otherwise Payload carries it verbatim.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Compressed    bool            `json:"compressed"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Blob          []byte          `json:"blob,omitempty"`
}

// encodeEnvelope serializes v, compressing the payload with deflate when it
// exceeds threshold bytes. A threshold of zero or less disables compression.
func encodeEnvelope(v any, threshold int) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: marshal payload: %w", err)
	}

	env := envelope{SchemaVersion: schemaVersion}
	if threshold > 0 && len(payload) > threshold {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("session: init deflate: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("session: compress payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("session: flush deflate: %w", err)
		}
		env.Compressed = true
		env.Blob = buf.Bytes()
	} else {
		env.Payload = payload
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("session: marshal envelope: %w", err)
	}
	return data, nil
}

// decodeEnvelope deserializes data into v. When the compressed flag is set
// but inflation fails, the blob is treated as an uncompressed payload rather
// than failing the read.
func decodeEnvelope(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("session: unmarshal envelope: %w", err)
	}

	payload := []byte(env.Payload)
	if env.Compressed {
		r := flate.NewReader(bytes.NewReader(env.Blob))
		inflated, err := io.ReadAll(r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			// Fall back to reading the blob as-is.
			payload = env.Blob
		} else {
			payload = inflated
		}
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("session: unmarshal payload: %w", err)
	}
	return nil
}
