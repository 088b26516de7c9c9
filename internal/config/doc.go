// Package config provides configuration loading and validation for the audio
// transcription service. Configuration is read from YAML on top of built-in
// defaults, API credentials may come from the environment, and every section
// validates itself.
package config
