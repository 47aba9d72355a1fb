// Package ui renders the gateway's console output: the startup banner,
// request lines and status badges.
package ui

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/xling-dev/xling/internal/security"
)

var (
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)
	neonBlue    = color.New(color.FgHiCyan, color.Bold)

	methodPOST   = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET    = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
	methodPUT    = color.New(color.BgHiYellow, color.FgBlack, color.Bold)
	methodDELETE = color.New(color.BgHiRed, color.FgBlack, color.Bold)
)

// PrintGatewayInfo logs general gateway information.
func PrintGatewayInfo(msg string) {
	infoBadge.Print("[GATEWAY]")
	fmt.Print(" ")
	infoText.Println(msg)
}

// PrintRotation logs a key rotation within a provider.
func PrintRotation(provider, fromKey, toKey string) {
	fmt.Print("⚠️  ")
	warningBadge.Print("[ROTATE]")
	fmt.Printf(" %s ", provider)
	mutedText.Print(security.MaskKey(fromKey))
	warningText.Print(" → ")
	accentText.Println(security.MaskKey(toKey))
}

// PrintCooldown logs a key entering cooldown.
func PrintCooldown(provider, key, reason string) {
	fmt.Print("💤 ")
	errorBadge.Print(" COOLDOWN ")
	fmt.Printf(" %s ", provider)
	errorText.Print(security.MaskKey(key))
	mutedText.Printf(" (%s)\n", reason)
}

// PrintFailover logs the retry loop moving to another provider.
func PrintFailover(from, to string) {
	warningBadge.Print("[FAILOVER]")
	fmt.Print(" ")
	mutedText.Print(from)
	warningText.Print(" → ")
	accentText.Println(to)
}

// PrintRequest logs one proxied request: timestamp, method badge, path,
// status badge, latency and the provider that served it.
func PrintRequest(method, path string, status int, latency time.Duration, provider string) {
	mutedText.Printf("%s ", time.Now().Format("15:04:05"))
	printMethodBadge(method)
	fmt.Print(" ")
	fmt.Printf("%-30s ", truncatePath(path, 30))
	printStatusBadge(status)
	fmt.Print(" ")
	printLatency(latency)
	if provider != "" {
		mutedText.Printf(" via %s", provider)
	}
	fmt.Println()
}

func printMethodBadge(method string) {
	switch method {
	case "POST":
		methodPOST.Printf(" %s ", method)
	case "GET":
		methodGET.Printf(" %s ", method)
	case "PUT":
		methodPUT.Printf(" %s ", method)
	case "DELETE":
		methodDELETE.Printf(" %s ", method)
	default:
		debugBadge.Printf(" %s ", method)
	}
}

func printStatusBadge(status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Printf(" %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Printf(" %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Printf(" %d ", status)
	default:
		errorBadge.Printf(" %d ", status)
	}
}

// printLatency colors the latency: green < 100ms, yellow < 500ms, red after.
func printLatency(latency time.Duration) {
	ms := latency.Milliseconds()
	s := fmt.Sprintf("%4dms", ms)
	switch {
	case ms < 100:
		successText.Print(s)
	case ms < 500:
		warningText.Print(s)
	default:
		errorText.Print(s)
	}
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

// PrintStartupInfo prints styled server startup information.
func PrintStartupInfo(host string, port int, providers int, strategy string) {
	fmt.Println()
	infoBadge.Print("[GATEWAY]")
	fmt.Print(" Listening on ")
	neonBlue.Printf("http://%s:%d\n", host, port)

	infoBadge.Print("[GATEWAY]")
	fmt.Print(" Providers: ")
	if providers > 0 {
		successText.Printf("%d", providers)
	} else {
		errorText.Print("0")
	}
	fmt.Print(" | Strategy: ")
	accentText.Println(strategy)

	fmt.Println()
	printEndpoints()
}

func printEndpoints() {
	mutedText.Println("  ┌──────────────────────────────────────────────────────────┐")
	mutedText.Print("  │ ")
	methodPOST.Print(" POST ")
	fmt.Print(" /v1/chat/completions ")
	mutedText.Print("  OpenAI Chat Completions          ")
	mutedText.Println("│")

	mutedText.Print("  │ ")
	methodPOST.Print(" POST ")
	fmt.Print(" /v1/messages         ")
	mutedText.Print("  Anthropic Messages               ")
	mutedText.Println("│")

	mutedText.Print("  │ ")
	methodPOST.Print(" POST ")
	fmt.Print(" /v1/responses        ")
	mutedText.Print("  OpenAI Responses API             ")
	mutedText.Println("│")

	mutedText.Print("  │ ")
	methodGET.Print(" GET  ")
	fmt.Print(" /v1/models           ")
	mutedText.Print("  List available models            ")
	mutedText.Println("│")

	mutedText.Print("  │ ")
	methodGET.Print(" GET  ")
	fmt.Print(" /proxy/records       ")
	mutedText.Print("  Recent request records           ")
	mutedText.Println("│")

	mutedText.Print("  │ ")
	methodGET.Print(" GET  ")
	fmt.Print(" /health              ")
	mutedText.Print("  Health check                     ")
	mutedText.Println("│")

	mutedText.Println("  └──────────────────────────────────────────────────────────┘")
	fmt.Println()
}

// PrintShutdown prints a styled shutdown message.
func PrintShutdown() {
	fmt.Println()
	warningBadge.Print("[SHUTDOWN]")
	warningText.Println(" Graceful shutdown initiated...")
}

// PrintGoodbye prints a styled goodbye message.
func PrintGoodbye() {
	successBadge.Print(" OK ")
	fmt.Print(" ")
	successText.Println("Gateway stopped. Goodbye! 👋")
}
