// Package server implements the HTTP API of the transcription service: task
// upload, listing, selection, cancellation and transcript export, the
// sign-in session, health and statistics endpoints, Prometheus metrics, and a
// WebSocket stream of queue events.
package server
