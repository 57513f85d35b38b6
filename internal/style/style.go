// Package style provides the shared lipgloss styles and status prefixes for
// CLI output.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/steveyegge/netlaunch/internal/ui"
)

func init() {
	if ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	// Bold renders emphasized text.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim renders secondary text.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "242"})

	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	Info    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// Status prefixes. Emoji are replaced with plain markers when stdout is not
// a terminal.
var (
	SuccessPrefix = prefix(Success, "✓", "ok")
	WarningPrefix = prefix(Warning, "⚠", "warn")
	ErrorPrefix   = prefix(Error, "✗", "error")
)

func prefix(s lipgloss.Style, emoji, plain string) string {
	if ui.ShouldUseEmoji() {
		return s.Render(emoji)
	}
	return s.Render(plain + ":")
}

// PrintWarning prints a formatted warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}

// Phase renders a listener phase name in a color matching its health.
func Phase(phase string) string {
	switch phase {
	case "receiving", "listening", "dispatching":
		return Success.Render(phase)
	case "bind-failed":
		return Error.Render(phase)
	case "starting", "cancelled":
		return Warning.Render(phase)
	default:
		return Dim.Render(phase)
	}
}
