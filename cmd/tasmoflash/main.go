package main

import (
	"log/slog"
	"os"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/cmd/tasmoflash/commands"
)

func main() {
	// Initialize structured logger with text format for readability
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
