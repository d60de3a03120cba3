package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the Canopy banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	colors := []string{"#34d399", "#10b981", "#059669", "#047857", "#065f46"}
	lines := []string{
		"   ___ __ _ _ __   ___  _ __  _   _ ",
		"  / __/ _` | '_ \\ / _ \\| '_ \\| | | |",
		" | (_| (_| | | | | (_) | |_) | |_| |",
		"  \\___\\__,_|_| |_|\\___/| .__/ \\__, |",
		"                       |_|    |___/ ",
	}

	fmt.Fprintln(w)
	for i, line := range lines {
		fmt.Fprintln(w, out.String(line).Foreground(out.Color(colors[i])))
	}
	fmt.Fprintln(w, out.String("  "+version).Faint())
	fmt.Fprintln(w)
}
