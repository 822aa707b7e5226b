// Package main provides the CLI entry point for ralph-ultra.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/harrison/ralph-ultra/internal/cmd"
)

func main() {
	// Provider credentials may live in a local .env; absence is fine.
	godotenv.Load()

	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
