package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/daemon"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigDir, "Path to the rewind config file or a directory containing one")
	logLevel := flag.String("log-level", "", "Log level override: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rewindd %s\n", constants.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx, daemon.Options{ConfigPath: *configPath, LogLevel: *logLevel}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
