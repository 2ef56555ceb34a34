package main

import (
	"os"

	"github.com/rpi-update-ota/ota-agent/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
