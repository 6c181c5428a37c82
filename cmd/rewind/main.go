package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rewindlabs/rewind/internal/cli"
)

func main() {
	// A .env in the working directory may carry REWIND_API_TOKEN and
	// REWIND_API_URL. Absence is fine.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		// Print error once, then exit
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
