package main

import (
	"log/slog"
	"os"

	"github.com/hugh/go-reclaim/internal/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		slog.Warn("Command failed", "error", err)
		os.Exit(1)
	}
}
