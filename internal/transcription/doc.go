// Package transcription implements the HTTP client for the transcription API.
// It uploads audio as multipart form data to an OpenAI-compatible
// /audio/transcriptions endpoint, asks /chat/completions for a summary of
// longer transcripts, retries transient failures with exponential backoff
// and bounds the number of concurrent requests.
package transcription
