// Package audio turns arbitrary input audio into the compact transcription profile:
// mono, 8 kHz, 16-bit signed little-endian PCM in a canonical 44-byte-header WAV.
// It decodes WAV, MP3 and (through ffmpeg) any other container into float samples,
// mixes them down to one channel, resamples and serializes the result.
package audio
