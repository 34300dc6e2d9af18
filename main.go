package main

import (
	"os"

	"github.com/openclaw/carapace/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
