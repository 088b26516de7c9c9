package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by a format decoder that does not handle the input.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrNoAudio is returned when decoding succeeds but yields no frames.
var ErrNoAudio = errors.New("no audio frames")

// DecodeError reports that the input could not be decoded as audio.
type DecodeError struct {
	Format string
	Err    error
}

// Error formats the failure together with the detected format.
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EncodingError reports that resampled audio could not be written as WAV.
type EncodingError struct {
	Err error
}

// Error formats the encoding failure.
func (e *EncodingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("encode WAV: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *EncodingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
