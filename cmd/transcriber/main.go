package main

import (
	"os"

	"github.com/MuhammadQasim111/AudioTranscriber/cmd/transcriber/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
