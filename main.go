package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource/mssql"
	_ "github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource/postgres"
	"github.com/sh4npeiris/ReportingDataSync/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Local development secrets; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(Version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
