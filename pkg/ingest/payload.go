package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// audioDataPrefix is prepended to base64 payloads by some senders.
const audioDataPrefix = "AUDIO_DATA:"

// ErrUnknownPayload is returned for text payloads in none of the accepted shapes.
var ErrUnknownPayload = errors.New("ingest: unrecognized payload")

// payloadFields are the object keys searched for audio data, in order.
var payloadFields = []string{"data", "audio", "buffer"}

// DecodeText extracts raw PCM bytes from a text payload. Accepted shapes:
//
//	base64, optionally prefixed with "AUDIO_DATA:"
//	a JSON array of byte values: [12, 250, ...]
//	a JSON object with a "data", "audio" or "buffer" field holding any of
//	these shapes, e.g. {"type":"audio-chunk","data":"<base64>"} or
//	{"chunk":7,"timestamp":1700000000,"data":[...]}
func DecodeText(text string) ([]byte, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), audioDataPrefix))
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnknownPayload)
	}

	switch text[0] {
	case '[', '{':
		return decodeJSON([]byte(text))
	default:
		return decodeBase64(text)
	}
}

func decodeBase64(s string) ([]byte, error) {
	// Senders may wrap long base64 lines.
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrUnknownPayload, err)
	}
	return data, nil
}

func decodeJSON(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty JSON value", ErrUnknownPayload)
	}

	switch raw[0] {
	case '[':
		var values []float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("%w: byte array: %w", ErrUnknownPayload, err)
		}
		data := make([]byte, len(values))
		for i, v := range values {
			// Signed (-128..127) and unsigned (0..255) byte values both wrap to a byte.
			data[i] = byte(int64(v))
		}
		return data, nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: string: %w", ErrUnknownPayload, err)
		}
		return DecodeText(s)

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: object: %w", ErrUnknownPayload, err)
		}
		for _, field := range payloadFields {
			if v, ok := obj[field]; ok {
				return decodeJSON(v)
			}
		}
		return nil, fmt.Errorf("%w: object without data field", ErrUnknownPayload)

	default:
		return nil, fmt.Errorf("%w: unexpected JSON value", ErrUnknownPayload)
	}
}
