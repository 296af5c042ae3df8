package main

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// colorizeHealth decorates a health grade for terminal output. Non-terminal
// output stays plain so it pipes cleanly.
func colorizeHealth(status string) string {
	if !stdoutIsTerminal() {
		return status
	}
	switch strings.ToLower(status) {
	case "healthy":
		return text.FgGreen.Sprint(status)
	case "degraded":
		return text.FgYellow.Sprint(status)
	case "critical":
		return text.FgRed.Sprint(status)
	default:
		return status
	}
}

func formatBool(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
