// Command holdem-client is the interactive terminal client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/lox/holdem/internal/client"
	"github.com/lox/holdem/internal/tui"
)

var CLI struct {
	Server string `short:"s" env:"HOLDEM_SERVER" default:"ws://localhost:8081" help:"Realtime server URL"`
	Token  string `short:"t" env:"HOLDEM_TOKEN" required:"" help:"Session token from POST /auth/login"`
	Debug  string `help:"Write debug logs to this file"`
}

func main() {
	kctx := kong.Parse(&CLI)

	// Logging to stderr would fight the TUI for the terminal.
	var logWriter io.Writer = io.Discard
	if CLI.Debug != "" {
		f, err := os.OpenFile(CLI.Debug, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening debug log: %v\n", err)
			kctx.Exit(1)
		}
		defer f.Close()
		logWriter = f
	}
	logger := log.New(logWriter)
	logger.SetLevel(log.DebugLevel)

	c, err := client.Dial(context.Background(), CLI.Server, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting: %v\n", err)
		kctx.Exit(1)
	}
	defer c.Close()

	program := tea.NewProgram(tui.New(c, CLI.Token, logger), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		kctx.Exit(1)
	}
}
