package main

import (
	"os"

	"quote-engine/cmd/quote/cmd"
)

// ENTRY POINT

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
