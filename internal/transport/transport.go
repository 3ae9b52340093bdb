// Package transport converts rendered audio chunks to the text-safe form
// oracles accept inline.
package transport

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/alnah/chunkscribe/internal/audio"
)

// ErrEmptyPayload indicates a chunk with no bytes.
var ErrEmptyPayload = errors.New("empty payload")

// Payload is a base64-encoded chunk plus its media type.
type Payload struct {
	Data     string // Standard base64, padded.
	MIMEType string
}

// Encoder turns an encoded chunk into a Payload.
type Encoder interface {
	Encode(chunk audio.EncodedChunk) (Payload, error)
}

// Base64 is the default Encoder.
type Base64 struct{}

var _ Encoder = Base64{}

// Encode base64-encodes chunk.Data. A missing MIME type defaults to WAV.
func (Base64) Encode(chunk audio.EncodedChunk) (Payload, error) {
	if len(chunk.Data) == 0 {
		return Payload{}, fmt.Errorf("%w: %s", ErrEmptyPayload, chunk.Range)
	}
	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.MIMETypeWAV
	}
	return Payload{
		Data:     base64.StdEncoding.EncodeToString(chunk.Data),
		MIMEType: mime,
	}, nil
}

// Decode returns the raw bytes of p.
func Decode(p Payload) ([]byte, error) {
	if p.Data == "" {
		return nil, ErrEmptyPayload
	}
	b, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return b, nil
}

// Size returns the decoded byte length without decoding.
func (p Payload) Size() int {
	n := base64.StdEncoding.DecodedLen(len(p.Data))
	for i := len(p.Data) - 1; i >= 0 && p.Data[i] == '='; i-- {
		n--
	}
	return n
}
