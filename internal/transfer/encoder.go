package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/progress"
)

// DefaultChunkSize is the number of payload bytes encoded per read.
const DefaultChunkSize = 64 * 1024

// ErrInvalidPayload is returned when the encoded data URL lacks its payload delimiter.
var ErrInvalidPayload = errors.New("invalid audio data")

// EncodingError reports that the payload could not be read.
type EncodingError struct {
	Err error
}

// Error formats the read failure.
func (e *EncodingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("file reading failed: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *EncodingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Encoder produces base64 transport text in fixed-size chunks.
type Encoder struct {
	chunkSize int
}

// NewEncoder creates an encoder. chunkSize is rounded down to a multiple of 3
// so chunk encodings concatenate without padding; values below 3 use the default.
func NewEncoder(chunkSize int) *Encoder {
	if chunkSize < 3 {
		chunkSize = DefaultChunkSize
	}
	chunkSize -= chunkSize % 3
	return &Encoder{chunkSize: chunkSize}
}

// ChunkSize returns the effective chunk size.
func (e *Encoder) ChunkSize() int {
	return e.chunkSize
}

// Encode reads size bytes from r and returns their base64 encoding. The
// payload is assembled as a data URL and the text after the first comma is
// returned. Progress is round(read/size*100) after each chunk.
func (e *Encoder) Encode(ctx context.Context, r io.Reader, size int64, mimeType string, sink progress.Sink) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var out strings.Builder
	out.WriteString("data:")
	out.WriteString(mimeType)
	out.WriteString(";base64,")
	if size > 0 {
		out.Grow(base64.StdEncoding.EncodedLen(int(size)))
	}

	buf := make([]byte, e.chunkSize)
	encoded := make([]byte, base64.StdEncoding.EncodedLen(e.chunkSize))
	var read int64
	last := -1

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			base64.StdEncoding.Encode(encoded, buf[:n])
			out.Write(encoded[:base64.StdEncoding.EncodedLen(n)])
			read += int64(n)

			if p := percent(read, size); p > last {
				last = p
				progress.Report(sink, p)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", &EncodingError{Err: err}
		}
	}

	if last < 100 {
		progress.Report(sink, 100)
	}

	return payloadOf(out.String())
}

// EncodeBytes is Encode over an in-memory payload.
func (e *Encoder) EncodeBytes(ctx context.Context, payload []byte, mimeType string, sink progress.Sink) (string, error) {
	return e.Encode(ctx, bytes.NewReader(payload), int64(len(payload)), mimeType, sink)
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return data, nil
}

// payloadOf returns the part of a data URL after its first comma.
func payloadOf(dataURL string) (string, error) {
	_, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return "", ErrInvalidPayload
	}
	return payload, nil
}

func percent(read, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(read) / float64(total) * 100))
	if p > 100 {
		p = 100
	}
	return p
}
