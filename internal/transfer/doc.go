// Package transfer converts binary payloads into the base64 text form used to
// carry audio inside text-oriented requests, reporting progress as bytes are read.
package transfer
