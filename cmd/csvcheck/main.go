// Package main is the entry point for csvcheck, the offline validator for
// livpulse CSV uploads.
package main

import (
	"os"

	"github.com/JonMunkholm/livpulse/cmd/csvcheck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
