// Package ui renders the gateway's console output: the startup banner,
// request lines and status badges.
package ui

import (
	"fmt"

	"github.com/fatih/color"
)

// PrintBanner displays the ASCII art startup banner.
func PrintBanner() {
	fmt.Println()

	cyan := color.New(color.FgCyan, color.Bold)
	magenta := color.New(color.FgMagenta, color.Bold)
	hiCyan := color.New(color.FgHiCyan)
	yellow := color.New(color.FgYellow, color.Bold)
	white := color.New(color.FgWhite)
	dim := color.New(color.FgHiBlack)

	rows := []string{
		`██╗  ██╗██╗     ██╗███╗   ██╗ ██████╗ `,
		`╚██╗██╔╝██║     ██║████╗  ██║██╔════╝ `,
		` ╚███╔╝ ██║     ██║██╔██╗ ██║██║  ███╗`,
		` ██╔██╗ ██║     ██║██║╚██╗██║██║   ██║`,
		`██╔╝ ██╗███████╗██║██║ ╚████║╚██████╔╝`,
		`╚═╝  ╚═╝╚══════╝╚═╝╚═╝  ╚═══╝ ╚═════╝ `,
	}

	cyan.Println("╔══════════════════════════════════════════════════╗")
	for _, row := range rows {
		cyan.Print("║      ")
		hiCyan.Print(row)
		cyan.Println("      ║")
	}
	cyan.Println("╠══════════════════════════════════════════════════╣")

	cyan.Print("║  ")
	yellow.Print("AI API GATEWAY")
	dim.Print("  │  ")
	magenta.Print("MULTI-PROVIDER")
	dim.Print("  │  ")
	white.Print("v1.0.0")
	dim.Print("    ")
	cyan.Println("║")

	cyan.Println("╚══════════════════════════════════════════════════╝")
	fmt.Println()
}

// PrintMiniBanner displays a one-line banner for constrained terminals.
func PrintMiniBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	magenta := color.New(color.FgMagenta, color.Bold)

	fmt.Println()
	cyan.Print("╔══════════════════════════════╗")
	fmt.Println()
	cyan.Print("║  ")
	magenta.Print("XLING")
	cyan.Print("  ·  AI API GATEWAY   ║")
	fmt.Println()
	cyan.Print("╚══════════════════════════════╝")
	fmt.Println()
	fmt.Println()
}
