package banner

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/bladewing/XSS-Validator/internal/config"
)

const art = `
 __  __ ___ ___  __   __    _ _    _       _
 \ \/ // __/ __| \ \ / /_ _| (_)__| |__ _| |_ ___ _ _
  >  < \__ \__ \  \ V / _' | | / _' / _' |  _/ _ \ '_|
 /_/\_\|___/___/   \_/\__,_|_|_\__,_\__,_|\__\___/_|
`

// Render returns the startup banner for the HTTP server.
func Render(version string, cfg *config.Config) string {
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	rule := cyan(strings.Repeat("━", 54))

	var b strings.Builder
	b.WriteString(cyan(art))
	fmt.Fprintf(&b, "\n      %s\n\n", red("XSS Validator "+version))
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "  %s http://%s\n", yellow("Listening on:"), cfg.Addr())
	fmt.Fprintf(&b, "  %s %s\n", yellow("Browser:     "), browserLine(cfg))
	fmt.Fprintf(&b, "  %s %s (max %s)\n", yellow("Popup window:"), cfg.Timeout(), cfg.MaxTimeout())
	fmt.Fprintf(&b, "  %s %d concurrent checks\n", yellow("Capacity:    "), cfg.MaxConcurrentChecks)
	fmt.Fprintf(&b, "  %s %s\n", yellow("Rate limit:  "), rateLine(cfg))
	b.WriteString(rule + "\n")
	return b.String()
}

func browserLine(cfg *config.Config) string {
	if cfg.BrowserMode == config.BrowserModeDocker {
		return "docker (" + cfg.BrowserImage + ")"
	}
	if cfg.ChromePath != "" {
		return "local (" + cfg.ChromePath + ")"
	}
	return "local"
}

func rateLine(cfg *config.Config) string {
	if cfg.RateLimitPerHour <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d checks/hour per client, burst %d", cfg.RateLimitPerHour, cfg.RateLimitBurst)
}
