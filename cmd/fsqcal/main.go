package main

import (
	"os"

	appLog "fsqcal/internal/log"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("fsqcal failed", err)
		os.Exit(1)
	}
}
