package main

import (
	"os"

	"file-portal/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Error("command_failed", nil, err)
		os.Exit(1)
	}
}
